// Package sessions maps user identities to their single live transport session.
package sessions

import (
	"sort"
	"sync"
)

// Entry is one active user/session binding.
type Entry struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// Registry is an in-memory, process-local map of users to sessions. A user
// has at most one session: a later Join replaces the earlier one and the
// replaced session is forgotten.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[string]string
	bySession map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:    map[string]string{},
		bySession: map[string]string{},
	}
}

// Join binds userID to sessionID and returns the resulting active set.
// Joining again from the same session is a no-op.
func (r *Registry) Join(userID, sessionID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok && prev != sessionID {
		delete(r.bySession, prev)
	}
	// A session announcing a different identity drops its old binding.
	if prevUser, ok := r.bySession[sessionID]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}
	r.byUser[userID] = sessionID
	r.bySession[sessionID] = userID
	return r.listLocked("")
}

// Leave removes the binding owned by sessionID. It returns the user that
// was bound, or false when the session was unknown or already replaced.
func (r *Registry) Leave(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.bySession[sessionID]
	if !ok {
		return "", false
	}
	delete(r.bySession, sessionID)
	if r.byUser[userID] == sessionID {
		delete(r.byUser, userID)
	}
	return userID, true
}

// FindSession returns the live session of userID.
func (r *Registry) FindSession(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.byUser[userID]
	return sessionID, ok
}

// ListActive returns all entries except the one for excluding, sorted by user id.
func (r *Registry) ListActive(excluding string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(excluding)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) listLocked(excluding string) []Entry {
	out := make([]Entry, 0, len(r.byUser))
	for userID, sessionID := range r.byUser {
		if userID == excluding {
			continue
		}
		out = append(out, Entry{UserID: userID, SessionID: sessionID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
