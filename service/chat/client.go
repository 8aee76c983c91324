package chat

import (
	"sync"
	"time"

	"ChatWave/logger"

	"github.com/gorilla/websocket"
)

// Session state machine: Connected (transport open, no user bound) ->
// Established (setup received, registered) -> Closed (terminal).
type SessionState int32

const (
	StateConnected SessionState = iota
	StateEstablished
	StateClosed
)

// write pump tuning
const (
	pingInterval   = 25 * time.Second
	writeWait      = 10 * time.Second
	pongWait       = 75 * time.Second
	firstPingDelay = 5 * time.Second
)

// Session is one live transport connection. A user may hold several at once
// (tabs, devices); each gets its own send queue drained by a single writer
// goroutine, since gorilla/websocket forbids concurrent writes.
type Session struct {
	ID          string
	ConnectedAt time.Time
	WS          *websocket.Conn // nil in tests; Send stays observable
	Send        chan []byte

	mu     sync.Mutex
	userID string
	state  SessionState

	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(id string, ws *websocket.Conn, sendQueueSize int) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Session{
		ID:          id,
		ConnectedAt: time.Now(),
		WS:          ws,
		Send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// UserID is empty until the setup handshake binds an identity.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// bind moves Connected -> Established. The identity is set once; a duplicate
// setup for the same user reports alreadyBound so the caller stays idempotent.
func (s *Session) bind(userID string) (ok, alreadyBound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return false, false
	case StateEstablished:
		return s.userID == userID, true
	}
	s.userID = userID
	s.state = StateEstablished
	return true, false
}

// markClosed flips to the terminal state and reports the state left behind,
// so the disconnect path knows whether an unregister is due.
func (s *Session) markClosed() (prev SessionState) {
	s.mu.Lock()
	prev = s.state
	s.state = StateClosed
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return prev
}

// enqueue pushes a frame onto the send queue without blocking. A slow client
// loses frames rather than stalling fan-out for everyone else.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.Send <- payload:
		return true
	default:
		logger.Warnf("[session] send queue full, drop frame session=%s user=%s", s.ID, s.UserID())
		return false
	}
}

// writePump is the session's single writer: drains Send, keeps the peer
// alive with pings, and closes the socket when the session ends. Run it in
// its own goroutine right after the upgrade.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = s.WS.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.WS.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.WS.Close()
	}()

	ping := func() bool {
		err := s.WS.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
		if err != nil {
			logger.Debugf("[session] ping err session=%s err=%v", s.ID, err)
			return false
		}
		return true
	}

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.Send:
			_ = s.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("[session] write err session=%s user=%s err=%v", s.ID, s.UserID(), err)
				return
			}
		case <-first.C:
			if !ping() {
				return
			}
		case <-ticker.C:
			if !ping() {
				return
			}
		}
	}
}
