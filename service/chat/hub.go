package chat

import (
	"sync"
)

// Channel names. Membership is implicit: sessions join their user channel on
// setup and chat channels on "join chat"; the hub itself knows nothing about
// chats or participants.
const presenceChannel = "presence"

func UserChannel(userID string) string { return "user:" + userID }
func ChatChannel(chatID string) string { return "chat:" + chatID }

// Hub maps channel names to subscribed sessions, with a reverse index so a
// disconnect tears down every membership in one call.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Session // channel -> session id -> session
	sessions map[string]map[string]struct{} // session id -> channels
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[string]*Session),
		sessions: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Join(channel string, s *Session) {
	if channel == "" || s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.channels[channel]
	if m == nil {
		m = make(map[string]*Session)
		h.channels[channel] = m
	}
	m[s.ID] = s

	cs := h.sessions[s.ID]
	if cs == nil {
		cs = make(map[string]struct{})
		h.sessions[s.ID] = cs
	}
	cs[channel] = struct{}{}
}

func (h *Hub) Leave(channel, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(channel, sessionID)
}

func (h *Hub) leaveLocked(channel, sessionID string) {
	if m := h.channels[channel]; m != nil {
		delete(m, sessionID)
		if len(m) == 0 {
			delete(h.channels, channel)
		}
	}
	if cs := h.sessions[sessionID]; cs != nil {
		delete(cs, channel)
		if len(cs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// DropSession removes the session from every channel it joined.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.sessions[sessionID] {
		if m := h.channels[channel]; m != nil {
			delete(m, sessionID)
			if len(m) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.sessions, sessionID)
}

// Members returns a snapshot of the channel's sessions, optionally skipping
// the given session ids (the emitting socket, or every session of the
// triggering user for presence edges).
func (h *Hub) Members(channel string, skip ...string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.channels[channel]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(m))
next:
	for id, s := range m {
		for _, sk := range skip {
			if id == sk {
				continue next
			}
		}
		out = append(out, s)
	}
	return out
}

// MembersExceptUser returns channel members not owned by userID.
func (h *Hub) MembersExceptUser(channel, userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.channels[channel]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		if s.UserID() == userID {
			continue
		}
		out = append(out, s)
	}
	return out
}
