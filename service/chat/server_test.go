package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ---- fakes ----

type fakePresence struct {
	mu           sync.Mutex
	stored       []string
	onlineCalls  int
	offlineCalls int
	lastSeen     time.Time
	err          error
}

func (p *fakePresence) OnlineUserIDs(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return append([]string(nil), p.stored...), nil
}

func (p *fakePresence) SetOnline(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onlineCalls++
	return p.err
}

func (p *fakePresence) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offlineCalls++
	p.lastSeen = lastSeen
	return p.err
}

func (p *fakePresence) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onlineCalls, p.offlineCalls
}

type fakeReads struct {
	mu    sync.Mutex
	calls [][2]string
}

func (r *fakeReads) MarkRead(ctx context.Context, chatID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{chatID, userID})
	return nil
}

func (r *fakeReads) snapshot() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.calls...)
}

type fakeRelay struct {
	mu   sync.Mutex
	envs []*RelayEnvelope
}

func (r *fakeRelay) PublishEmit(ctx context.Context, env *RelayEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *fakeRelay) snapshot() []*RelayEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RelayEnvelope(nil), r.envs...)
}

// ---- helpers ----

func newTestServer() (*Server, *fakePresence, *fakeReads, *fakeRelay) {
	fp := &fakePresence{}
	fr := &fakeReads{}
	rl := &fakeRelay{}
	s := NewServer(Config{GatewayID: "gw-test", StoreTimeout: time.Second}, fp, fr, rl)
	return s, fp, fr, rl
}

func establish(s *Server, sessionID, userID string) *Session {
	sess := NewSession(sessionID, nil, 64)
	s.Establish(sess, userID)
	return sess
}

// collect reads frames for the given window and returns them parsed.
func collect(t *testing.T, sess *Session, wait time.Duration) []*Frame {
	t.Helper()
	var out []*Frame
	deadline := time.After(wait)
	for {
		select {
		case b := <-sess.Send:
			f, err := ParseFrameJSON(b)
			if err != nil {
				t.Fatalf("session %s got unparseable frame: %v", sess.ID, err)
			}
			out = append(out, f)
		case <-deadline:
			return out
		}
	}
}

// drain empties the send queue after async work settles.
func drain(sess *Session) {
	time.Sleep(150 * time.Millisecond)
	for {
		select {
		case <-sess.Send:
		default:
			return
		}
	}
}

func countEvents(frames []*Frame, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func presenceFrames(frames []*Frame, userID string) []PresencePayload {
	var out []PresencePayload
	for _, f := range frames {
		if f.Event != EvtUserPresence {
			continue
		}
		var p PresencePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			continue
		}
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ---- lifecycle ----

func TestEstablishSeedsOnlineList(t *testing.T) {
	s, fp, _, _ := newTestServer()
	fp.stored = []string{"u9"}

	sess := establish(s, "s1", "u1")

	waitFor(t, func() bool { return s.reg.IsOnline("u1") }, "u1 should be registered")

	frames := collect(t, sess, 300*time.Millisecond)
	if countEvents(frames, EvtOnlineUsers) != 1 {
		t.Fatalf("want one online list, got %+v", frames)
	}
	for _, f := range frames {
		if f.Event != EvtOnlineUsers {
			continue
		}
		var ids []string
		if err := json.Unmarshal(f.Data, &ids); err != nil {
			t.Fatalf("bad online list payload: %v", err)
		}
		got := map[string]bool{}
		for _, id := range ids {
			got[id] = true
		}
		// store answer plus the local registry view
		if !got["u9"] || !got["u1"] {
			t.Errorf("online list missing users: %v", ids)
		}
	}
}

func TestPresenceBroadcastOnFirstSessionOnly(t *testing.T) {
	s, fp, _, _ := newTestServer()

	observer := establish(s, "obs", "watcher")
	drain(observer)

	a1 := establish(s, "a1", "userA")
	a2 := establish(s, "a2", "userA")
	drain(a1)
	drain(a2)

	frames := collect(t, observer, 300*time.Millisecond)
	got := presenceFrames(frames, "userA")
	if len(got) != 1 || !got[0].IsOnline {
		t.Fatalf("want exactly one online broadcast for userA, got %+v", got)
	}
	waitFor(t, func() bool { on, _ := fp.counts(); return on == 1 }, "online flag should persist once")
}

func TestDuplicateSetupIsIdempotent(t *testing.T) {
	s, _, _, _ := newTestServer()

	observer := establish(s, "obs", "watcher")
	drain(observer)

	a1 := establish(s, "a1", "userA")
	s.Establish(a1, "userA") // client re-sends setup
	drain(a1)

	frames := collect(t, observer, 300*time.Millisecond)
	if got := presenceFrames(frames, "userA"); len(got) != 1 {
		t.Fatalf("duplicate setup must not re-broadcast, got %+v", got)
	}
	if n := s.reg.SessionCount("userA"); n != 1 {
		t.Errorf("duplicate setup must not double-count sessions, got %d", n)
	}
}

func TestOfflineOnlyAfterLastSession(t *testing.T) {
	s, fp, _, _ := newTestServer()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return fixed }

	observer := establish(s, "obs", "watcher")
	a1 := establish(s, "a1", "userA")
	a2 := establish(s, "a2", "userA")
	drain(observer)

	s.Disconnect(a1)
	if !s.reg.IsOnline("userA") {
		t.Fatal("userA must stay online while a2 is open")
	}
	frames := collect(t, observer, 200*time.Millisecond)
	if got := presenceFrames(frames, "userA"); len(got) != 0 {
		t.Fatalf("no broadcast expected before the last session closes, got %+v", got)
	}

	s.Disconnect(a2)
	frames = collect(t, observer, 300*time.Millisecond)
	got := presenceFrames(frames, "userA")
	if len(got) != 1 || got[0].IsOnline {
		t.Fatalf("want exactly one offline broadcast, got %+v", got)
	}
	if got[0].LastSeen != fixed.UnixMilli() {
		t.Errorf("offline broadcast must carry the disconnect timestamp, got %d", got[0].LastSeen)
	}
	waitFor(t, func() bool { _, off := fp.counts(); return off == 1 }, "offline flag should persist once")
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if !fp.lastSeen.Equal(fixed) {
		t.Errorf("persisted lastSeen = %v, want %v", fp.lastSeen, fixed)
	}
}

func TestDisconnectBeforeSetupIsNoop(t *testing.T) {
	s, fp, _, _ := newTestServer()

	observer := establish(s, "obs", "watcher")
	drain(observer)

	sess := NewSession("ghost", nil, 8)
	s.Disconnect(sess) // setup never completed

	frames := collect(t, observer, 200*time.Millisecond)
	if countEvents(frames, EvtUserPresence) != 0 {
		t.Error("no presence broadcast for an unestablished session")
	}
	if _, off := fp.counts(); off != 0 {
		t.Error("no offline persist for an unestablished session")
	}
}

func TestMalformedSetupIgnored(t *testing.T) {
	s, _, _, _ := newTestServer()

	sess := NewSession("s1", nil, 8)
	s.Establish(sess, "")
	if sess.State() != StateConnected {
		t.Error("session must stay Connected after malformed setup")
	}
	if len(s.reg.AllOnlineUserIDs()) != 0 {
		t.Error("nothing should be registered")
	}
	s.Disconnect(sess) // and closing it stays silent
}

func TestAllOnlineAroundSetup(t *testing.T) {
	s, _, _, _ := newTestServer()

	sess := NewSession("s1", nil, 8)
	if s.reg.IsOnline("userA") {
		t.Fatal("userA online before setup")
	}
	s.Establish(sess, "userA")
	if !s.reg.IsOnline("userA") {
		t.Fatal("userA offline after setup")
	}
}

// ---- domain fan-out ----

func messageFrame(t *testing.T, sender string, recipients ...string) *Frame {
	t.Helper()
	users := make([]map[string]string, 0, len(recipients)+1)
	users = append(users, map[string]string{"_id": sender})
	for _, r := range recipients {
		users = append(users, map[string]string{"_id": r})
	}
	data, err := json.Marshal(map[string]any{
		"_id":     "m1",
		"sender":  map[string]string{"_id": sender},
		"content": "hello",
		"chat":    map[string]any{"_id": "chat1", "users": users},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Frame{Event: EvtNewMessage, Data: data}
}

func TestNewMessageFanOutExcludesSender(t *testing.T) {
	s, _, _, _ := newTestServer()

	a1 := establish(s, "a1", "userA")
	a2 := establish(s, "a2", "userA")
	b1 := establish(s, "b1", "userB")
	b2 := establish(s, "b2", "userB")
	c1 := establish(s, "c1", "userC")
	for _, sess := range []*Session{a1, a2, b1, b2, c1} {
		drain(sess)
	}

	s.RouteNewMessage(a1, messageFrame(t, "userA", "userB", "userC"))

	for _, sess := range []*Session{b1, b2, c1} {
		frames := collect(t, sess, 300*time.Millisecond)
		if n := countEvents(frames, EvtMessageReceived); n != 1 {
			t.Errorf("session %s: want exactly 1 message, got %d", sess.ID, n)
		}
	}
	for _, sess := range []*Session{a1, a2} {
		frames := collect(t, sess, 200*time.Millisecond)
		if n := countEvents(frames, EvtMessageReceived); n != 0 {
			t.Errorf("sender session %s must not receive its own message, got %d", sess.ID, n)
		}
	}
}

func TestNewMessageDedupesRecipients(t *testing.T) {
	s, _, _, rl := newTestServer()

	b1 := establish(s, "b1", "userB")
	drain(b1)
	a1 := establish(s, "a1", "userA")
	drain(a1)
	drain(b1)

	// participant list contains userB twice
	s.RouteNewMessage(a1, messageFrame(t, "userA", "userB", "userB"))

	frames := collect(t, b1, 300*time.Millisecond)
	if n := countEvents(frames, EvtMessageReceived); n != 1 {
		t.Errorf("duplicate participant entries must not duplicate delivery, got %d", n)
	}
	waitFor(t, func() bool {
		for _, env := range rl.snapshot() {
			if env.Event == EvtMessageReceived {
				return len(env.Channels) == 1
			}
		}
		return false
	}, "relay envelope should list userB's channel once")
}

func TestTypingEchoExcludesEmitter(t *testing.T) {
	s, _, _, _ := newTestServer()

	a1 := establish(s, "a1", "userA")
	a2 := establish(s, "a2", "userA")
	b1 := establish(s, "b1", "userB")
	s.JoinChat(a1, "chat1")
	s.JoinChat(a2, "chat1")
	s.JoinChat(b1, "chat1")
	for _, sess := range []*Session{a1, a2, b1} {
		drain(sess)
	}

	f := &Frame{Event: EvtTyping, Data: json.RawMessage(`"chat1"`)}
	s.RouteChatEcho(a1, f)

	if n := countEvents(collect(t, b1, 300*time.Millisecond), EvtTyping); n != 1 {
		t.Errorf("b1 should see typing once, got %d", n)
	}
	if n := countEvents(collect(t, a2, 200*time.Millisecond), EvtTyping); n != 1 {
		t.Errorf("the user's other session should see typing too, got %d", n)
	}
	if n := countEvents(collect(t, a1, 200*time.Millisecond), EvtTyping); n != 0 {
		t.Errorf("the emitting session must not get the echo, got %d", n)
	}
}

func TestReadMessagePersistsAndBroadcasts(t *testing.T) {
	s, _, fr, _ := newTestServer()

	a1 := establish(s, "a1", "userA")
	b1 := establish(s, "b1", "userB")
	b2 := establish(s, "b2", "userB")
	for _, sess := range []*Session{a1, b1, b2} {
		s.JoinChat(sess, "chat1")
		drain(sess)
	}

	f := &Frame{Event: EvtReadMessage, Data: json.RawMessage(`{"chatId":"chat1","userId":"userB"}`)}
	s.RouteReadMessage(b1, f)

	waitFor(t, func() bool { return len(fr.snapshot()) == 1 }, "read markers should persist")
	if calls := fr.snapshot(); calls[0] != [2]string{"chat1", "userB"} {
		t.Errorf("markers keyed wrong: %v", calls[0])
	}
	// read receipts include the reader's own sessions
	for _, sess := range []*Session{a1, b1, b2} {
		if n := countEvents(collect(t, sess, 300*time.Millisecond), EvtMessageRead); n != 1 {
			t.Errorf("session %s: want 1 receipt, got %d", sess.ID, n)
		}
	}
}

// ---- relay ----

func TestRelaySkipsOwnEnvelopes(t *testing.T) {
	s, _, _, _ := newTestServer()
	b1 := establish(s, "b1", "userB")
	drain(b1)

	env := &RelayEnvelope{
		GatewayID: "gw-test", // our own id
		Channels:  []string{UserChannel("userB")},
		Event:     EvtMessageReceived,
		Data:      json.RawMessage(`{}`),
	}
	s.HandleRelay(env)

	if n := countEvents(collect(t, b1, 200*time.Millisecond), EvtMessageReceived); n != 0 {
		t.Errorf("own envelope must be skipped, got %d frames", n)
	}

	env.GatewayID = "gw-other"
	s.HandleRelay(env)
	if n := countEvents(collect(t, b1, 300*time.Millisecond), EvtMessageReceived); n != 1 {
		t.Errorf("foreign envelope should deliver once, got %d", n)
	}
}

func TestRelayPresenceExcludesUser(t *testing.T) {
	s, _, _, _ := newTestServer()
	a1 := establish(s, "a1", "userA")
	b1 := establish(s, "b1", "userB")
	drain(a1)
	drain(b1)

	env := &RelayEnvelope{
		GatewayID:   "gw-other",
		Channels:    []string{presenceChannel},
		ExcludeUser: "userA",
		Event:       EvtUserPresence,
		Data:        json.RawMessage(`{"userId":"userA","isOnline":true}`),
	}
	s.HandleRelay(env)

	if n := countEvents(collect(t, b1, 300*time.Millisecond), EvtUserPresence); n != 1 {
		t.Errorf("b1 should see relayed presence, got %d", n)
	}
	if n := countEvents(collect(t, a1, 200*time.Millisecond), EvtUserPresence); n != 0 {
		t.Errorf("userA's sessions are excluded from their own presence, got %d", n)
	}
}

func TestPresenceEdgePublishesRelay(t *testing.T) {
	s, _, _, rl := newTestServer()

	establish(s, "a1", "userA")
	waitFor(t, func() bool {
		for _, env := range rl.snapshot() {
			if env.Event == EvtUserPresence && env.ExcludeUser == "userA" {
				return true
			}
		}
		return false
	}, "online edge should publish a relay envelope")

	for _, env := range rl.snapshot() {
		if env.GatewayID != "gw-test" {
			t.Errorf("envelope must carry origin gateway, got %q", env.GatewayID)
		}
	}
}

// ---- seeding resilience ----

func TestSeedFallsBackToRegistryOnStoreError(t *testing.T) {
	s, fp, _, _ := newTestServer()
	fp.err = fmt.Errorf("store down")

	b1 := establish(s, "b1", "userB")
	drain(b1)

	a1 := establish(s, "a1", "userA")
	frames := collect(t, a1, 300*time.Millisecond)
	if countEvents(frames, EvtOnlineUsers) != 1 {
		t.Fatal("seed must still be sent when the store is down")
	}
	for _, f := range frames {
		if f.Event != EvtOnlineUsers {
			continue
		}
		var ids []string
		_ = json.Unmarshal(f.Data, &ids)
		got := map[string]bool{}
		for _, id := range ids {
			got[id] = true
		}
		if !got["userB"] || !got["userA"] {
			t.Errorf("registry fallback should list local users, got %v", ids)
		}
	}
}
