package chat

import (
	"context"
	"encoding/json"
	"time"

	"ChatWave/logger"
	"ChatWave/tools/safe"
)

// PresenceStore is the durable side of presence: the online flag and
// last-seen projection, plus the seed list read once per setup. The live
// registry never depends on it being reachable.
type PresenceStore interface {
	OnlineUserIDs(ctx context.Context) ([]string, error)
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// ReadMarkStore persists read markers for "read message" events.
type ReadMarkStore interface {
	MarkRead(ctx context.Context, chatID, userID string) error
}

// Relay forwards emits to the other gateway instances. nil means
// single-instance deployment.
type Relay interface {
	PublishEmit(ctx context.Context, env *RelayEnvelope) error
}

type Config struct {
	GatewayID     string
	SendQueueSize int
	FanoutWorkers int
	FanoutQueue   int
	StoreTimeout  time.Duration
}

func (c *Config) norm() {
	if c.GatewayID == "" {
		c.GatewayID = "chat_gw-1"
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 4096
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
}

// Server is the event router: it bridges inbound transport events to
// registry mutations and outbound broadcasts. It owns the one authoritative
// Registry and Hub for this process.
type Server struct {
	cfg      Config
	reg      *Registry
	hub      *Hub
	disp     *Dispatcher
	fan      *Fanout
	presence PresenceStore
	reads    ReadMarkStore
	relay    Relay
	clock    func() time.Time
}

func NewServer(cfg Config, presence PresenceStore, reads ReadMarkStore, relay Relay) *Server {
	cfg.norm()
	return &Server{
		cfg:      cfg,
		reg:      NewRegistry(),
		hub:      NewHub(),
		disp:     NewDispatcher(),
		fan:      NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue),
		presence: presence,
		reads:    reads,
		relay:    relay,
		clock:    time.Now,
	}
}

func (s *Server) GatewayID() string   { return s.cfg.GatewayID }
func (s *Server) Registry() *Registry { return s.reg }
func (s *Server) Hub() *Hub           { return s.hub }
func (s *Server) Disp() *Dispatcher   { return s.disp }
func (s *Server) Config() Config      { return s.cfg }

func (s *Server) DispatchFrame(f *Frame, sess *Session) error {
	return s.disp.Dispatch(&Context{S: s}, f, sess)
}

// ---- session lifecycle ----

// Establish handles the setup event: bind the user identity, register the
// session, seed the private online list, and broadcast the online edge if
// this was the user's first session. Malformed setup (empty user id) is
// ignored; the session stays Connected and simply closes later.
func (s *Server) Establish(sess *Session, userID string) {
	if userID == "" {
		logger.Debugf("[router] setup without userId, ignoring session=%s", sess.ID)
		return
	}
	ok, already := sess.bind(userID)
	if !ok {
		if already {
			logger.Warnf("[router] setup for %s on session already bound to %s", userID, sess.UserID())
		}
		return
	}

	first := s.reg.Register(userID, sess.ID)
	s.hub.Join(UserChannel(userID), sess)
	s.hub.Join(presenceChannel, sess)

	// seed runs concurrently with the broadcast; they are independent
	safe.Go(func() { s.seedOnlineList(sess) })

	if !first {
		return
	}
	payload, err := BuildPresenceOnline(userID)
	if err != nil {
		logger.Errorf("[router] build presence online user=%s err=%v", userID, err)
		return
	}
	// everyone except the user's own sessions; the new session already
	// knows it is online
	s.fan.Broadcast(s.hub.MembersExceptUser(presenceChannel, userID), payload)
	s.publishRelay(&RelayEnvelope{
		GatewayID:   s.cfg.GatewayID,
		Channels:    []string{presenceChannel},
		ExcludeUser: userID,
		Event:       EvtUserPresence,
		Data:        mustRaw(PresencePayload{UserID: userID, IsOnline: true}),
	})
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()
		if err := s.presence.SetOnline(ctx, userID); err != nil {
			logger.Warnf("[router] persist online user=%s err=%v", userID, err)
		}
	})
}

// seedOnlineList sends the online-user-id list privately to one session.
// The store answer is merged with the local registry: a store hiccup must
// not hide users this very process is serving.
func (s *Server) seedOnlineList(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()

	stored, err := s.presence.OnlineUserIDs(ctx)
	if err != nil {
		logger.Warnf("[router] online seed from store failed: %v", err)
	}
	seen := make(map[string]struct{}, len(stored))
	merged := make([]string, 0, len(stored))
	for _, id := range stored {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range s.reg.AllOnlineUserIDs() {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}

	payload, err := BuildOnlineUsers(merged)
	if err != nil {
		logger.Errorf("[router] build online users err=%v", err)
		return
	}
	sess.enqueue(payload)
}

// Disconnect handles transport close (explicit or liveness timeout). A
// session that never completed setup releases the transport and nothing
// else. The offline edge fires only when the user's last session is gone.
func (s *Server) Disconnect(sess *Session) {
	prev := sess.markClosed()
	s.hub.DropSession(sess.ID)
	if prev != StateEstablished {
		return
	}

	userID := sess.UserID()
	last := s.reg.Unregister(userID, sess.ID)
	if !last {
		return
	}

	lastSeen := s.clock()
	payload, err := BuildPresenceOffline(userID, lastSeen)
	if err != nil {
		logger.Errorf("[router] build presence offline user=%s err=%v", userID, err)
		return
	}
	s.fan.Broadcast(s.hub.MembersExceptUser(presenceChannel, userID), payload)
	s.publishRelay(&RelayEnvelope{
		GatewayID:   s.cfg.GatewayID,
		Channels:    []string{presenceChannel},
		ExcludeUser: userID,
		Event:       EvtUserPresence,
		Data:        mustRaw(PresencePayload{UserID: userID, IsOnline: false, LastSeen: lastSeen.UnixMilli()}),
	})
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()
		if err := s.presence.SetOffline(ctx, userID, lastSeen); err != nil {
			logger.Warnf("[router] persist offline user=%s err=%v", userID, err)
		}
	})
}

// ---- domain fan-out ----

// JoinChat subscribes the session to a chat-scoped channel.
func (s *Server) JoinChat(sess *Session, chatID string) {
	if chatID == "" {
		return
	}
	s.hub.Join(ChatChannel(chatID), sess)
}

// RouteNewMessage fans a populated message out to every chat participant's
// user channel except the sender's own. Delivery to a recipient hits all of
// that user's sessions at once, which is what keeps multi-tab usage correct.
func (s *Server) RouteNewMessage(sess *Session, f *Frame) {
	msg, err := DecodePayload[MessagePayload](f)
	if err != nil {
		logger.Warnf("[router] bad message payload session=%s err=%v", sess.ID, err)
		return
	}
	if len(msg.Chat.Users) == 0 {
		logger.Debugf("[router] message without recipients chat=%s", msg.Chat.ID)
		return
	}
	sender := msg.Sender.ID

	payload, err := EncodeFrame(EvtMessageReceived, f.Data)
	if err != nil {
		logger.Errorf("[router] encode message received err=%v", err)
		return
	}

	seen := make(map[string]struct{}, len(msg.Chat.Users))
	channels := make([]string, 0, len(msg.Chat.Users))
	for _, u := range msg.Chat.Users {
		if u.ID == "" || u.ID == sender {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		s.fan.Broadcast(s.hub.Members(UserChannel(u.ID)), payload)
		channels = append(channels, UserChannel(u.ID))
	}
	if len(channels) > 0 {
		s.publishRelay(&RelayEnvelope{
			GatewayID: s.cfg.GatewayID,
			Channels:  channels,
			Event:     EvtMessageReceived,
			Data:      f.Data,
		})
	}
}

// RouteChatEcho re-emits a chat-room event (typing, stop typing, message
// deleted, reaction updated) verbatim to the other sessions in the room.
// The emitting session is excluded, matching room-echo semantics.
func (s *Server) RouteChatEcho(sess *Session, f *Frame) {
	chatID := ExtractChatID(f)
	if chatID == "" {
		logger.Debugf("[router] %s without chatId session=%s", f.Event, sess.ID)
		return
	}
	payload, err := EncodeFrame(f.Event, f.Data)
	if err != nil {
		logger.Errorf("[router] encode %s err=%v", f.Event, err)
		return
	}
	s.fan.Broadcast(s.hub.Members(ChatChannel(chatID), sess.ID), payload)
	s.publishRelay(&RelayEnvelope{
		GatewayID: s.cfg.GatewayID,
		Channels:  []string{ChatChannel(chatID)},
		Event:     f.Event,
		Data:      f.Data,
	})
}

// RouteReadMessage persists read markers (keyed by user identity) and
// broadcasts the receipt to the whole room, the reader's own other sessions
// included.
func (s *Server) RouteReadMessage(sess *Session, f *Frame) {
	p, err := DecodePayload[ReadPayload](f)
	if err != nil || p.ChatID == "" || p.UserID == "" {
		logger.Warnf("[router] bad read payload session=%s err=%v", sess.ID, err)
		return
	}
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()
		if err := s.reads.MarkRead(ctx, p.ChatID, p.UserID); err != nil {
			logger.Warnf("[router] persist read markers chat=%s user=%s err=%v", p.ChatID, p.UserID, err)
		}
	})

	payload, err := EncodeFrame(EvtMessageRead, f.Data)
	if err != nil {
		logger.Errorf("[router] encode message read err=%v", err)
		return
	}
	s.fan.Broadcast(s.hub.Members(ChatChannel(p.ChatID)), payload)
	s.publishRelay(&RelayEnvelope{
		GatewayID: s.cfg.GatewayID,
		Channels:  []string{ChatChannel(p.ChatID)},
		Event:     EvtMessageRead,
		Data:      f.Data,
	})
}

// ---- cross-instance relay ----

func (s *Server) publishRelay(env *RelayEnvelope) {
	if s.relay == nil {
		return
	}
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()
		if err := s.relay.PublishEmit(ctx, env); err != nil {
			logger.Warnf("[router] relay publish event=%s err=%v", env.Event, err)
		}
	})
}

// HandleRelay applies an envelope published by another instance to the
// local hub. Envelopes this instance originated are skipped, so a frame is
// delivered at most once per session.
func (s *Server) HandleRelay(env *RelayEnvelope) {
	if env == nil || env.GatewayID == s.cfg.GatewayID {
		return
	}
	payload, err := EncodeFrame(env.Event, env.Data)
	if err != nil {
		logger.Errorf("[router] encode relayed %s err=%v", env.Event, err)
		return
	}
	for _, ch := range env.Channels {
		var members []*Session
		if env.ExcludeUser != "" {
			members = s.hub.MembersExceptUser(ch, env.ExcludeUser)
		} else {
			members = s.hub.Members(ch)
		}
		s.fan.Broadcast(members, payload)
	}
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("[router] marshal relay payload err=%v", err)
		return nil
	}
	return b
}
