package chat

import (
	"sync"
)

// Registry is the authoritative in-memory record of which sessions belong to
// which user. It exists to answer one question exactly once per edge: did
// this register/unregister flip the user between offline and online?
//
// All mutations run under one lock, so the check-and-flip is atomic with the
// set update. Two rapid connects for the same user can never both observe
// "first session".
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // user -> session ids
	owner  map[string]string              // session id -> user
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		owner:  make(map[string]string),
	}
}

// Register adds sessionID to userID's set and reports whether this was the
// user's first live session (the 0->1 edge). Registering the same pair twice
// is a no-op and never reports the edge again.
func (r *Registry) Register(userID, sessionID string) (first bool) {
	if userID == "" || sessionID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[sessionID]; ok {
		if prev == userID {
			return false
		}
		// a session belongs to at most one user; drop the stale binding
		r.dropLocked(prev, sessionID)
	}

	set := r.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUser[userID] = set
		first = true
	}
	set[sessionID] = struct{}{}
	r.owner[sessionID] = userID
	return first
}

// Unregister removes sessionID from userID's set and reports whether this
// was the user's last session (the 1->0 edge). Unknown user or session is a
// no-op: disconnects race with cleanup and must not error.
func (r *Registry) Unregister(userID, sessionID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byUser[userID]
	if !ok {
		return false
	}
	if _, ok := set[sessionID]; !ok {
		return false
	}
	r.dropLocked(userID, sessionID)
	_, stillOnline := r.byUser[userID]
	return !stillOnline
}

func (r *Registry) dropLocked(userID, sessionID string) {
	if set := r.byUser[userID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	delete(r.owner, sessionID)
}

// IsOnline reports whether the user has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// SessionCount returns the number of live sessions for a user.
func (r *Registry) SessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// AllOnlineUserIDs returns a snapshot of users with a non-empty session set.
// Order is unspecified.
func (r *Registry) AllOnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	return out
}
