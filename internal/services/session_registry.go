// Package services – SessionRegistry
//
// Maps session ids to live AuthSessions. Entries are created when account
// provisioning is requested and removed on session termination (success,
// failure, or channel close), whichever occurs first. Double removal is a
// no-op.
package services

import (
	"sync"

	"github.com/rs/zerolog"
)

// SessionRegistry tracks active login sessions. It is shared mutable state
// accessed from concurrent login flows, so all mutations are guarded by a
// mutex; two sessions never observe a torn map.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*AuthSession
	log      zerolog.Logger
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*AuthSession),
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

// Create builds a new session for the given phone/display name pair and
// registers it under its generated id.
func (r *SessionRegistry) Create(phone, displayName string) *AuthSession {
	sess := NewAuthSession(phone, displayName, r.log)
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	r.log.Info().Str("session_id", sess.ID).Str("display_name", displayName).Msg("auth session created")
	return sess
}

// Get looks up a session by id. An unknown id is a normal "not found"
// result, not an error; the caller decides whether that is fatal.
func (r *SessionRegistry) Get(id string) (*AuthSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Claim looks a session up and takes exclusive ownership of it in one step.
// Unknown ids yield ErrSessionNotFound; a session some other channel already
// owns yields ErrSessionClaimed. Exactly one concurrent caller per session
// ever gets the session back.
func (r *SessionRegistry) Claim(id string) (*AuthSession, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !sess.Claim() {
		return nil, ErrSessionClaimed
	}
	return sess, nil
}

// Remove drops a session from the registry. Removing an id that is absent
// (already removed by the other termination path) is a no-op.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	_, existed := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if existed {
		r.log.Info().Str("session_id", id).Msg("auth session removed")
	}
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
