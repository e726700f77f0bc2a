// Package services – AuthSession
//
// This file implements the per-login session state machine that bridges the
// long-running login automation flow with the asynchronous human code-entry
// step delivered over a WebSocket channel. The flow task blocks in AwaitCode
// while the channel's receive loop stays free to deliver SubmitCode and
// keepalive messages; the handoff is a one-shot, single-slot exchange and a
// second delivery is rejected deterministically.
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState identifies a login session's position in its state machine.
type SessionState string

// Session states. Succeeded and Failed are terminal.
const (
	StateStarted        SessionState = "started"
	StatePhoneSubmitted SessionState = "phone_submitted"
	StateCodeRequested  SessionState = "code_requested"
	StateAwaitingCode   SessionState = "awaiting_code"
	StateVerifying      SessionState = "verifying"
	StateSucceeded      SessionState = "succeeded"
	StateFailed         SessionState = "failed"
)

// EventSink receives outbound session events. The WebSocket handler binds one
// when the channel attaches; every state transition is reported through it as
// the only observable progress signal (there is no polling endpoint).
type EventSink func(eventType string, data map[string]any)

// Outbound event types pushed through the EventSink.
const (
	EventStatus         = "status"
	EventAccountCreated = "account_created"
	EventCompleted      = "completed"
	EventError          = "error"
	EventPong           = "pong"
)

// AuthSession coordinates one account-provisioning login attempt. It is
// ephemeral: created when provisioning is requested, destroyed on success,
// failure, or channel disconnect, whichever happens first.
//
// Each session owns its state exclusively; the only shared mutable state is
// the registry entry that tracks it.
type AuthSession struct {
	ID          string
	Phone       string
	DisplayName string
	CreatedAt   time.Time

	mu      sync.Mutex
	state   SessionState
	claimed bool
	codeCh  chan string
	sink    EventSink
	log     zerolog.Logger
}

// NewAuthSession constructs a session in the Started state. The event sink
// is attached later, when the WebSocket channel connects.
func NewAuthSession(phone, displayName string, log zerolog.Logger) *AuthSession {
	id := uuid.NewString()
	return &AuthSession{
		ID:          id,
		Phone:       phone,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		state:       StateStarted,
		codeCh:      make(chan string, 1),
		log:         log.With().Str("component", "auth_session").Str("session_id", id).Logger(),
	}
}

// Claim marks the session as owned by exactly one channel connection. The
// first caller wins and may attach a sink and start the login flow; every
// later caller gets false, as does any caller once the session is terminal.
// The check and the mark happen under the session mutex, so two concurrent
// connections can never both win.
func (s *AuthSession) Claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed || s.state == StateSucceeded || s.state == StateFailed {
		return false
	}
	s.claimed = true
	return true
}

// AttachSink binds the outbound event channel. Must be called before the
// login flow starts; events emitted without a sink are dropped.
func (s *AuthSession) AttachSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// State returns the current session state.
func (s *AuthSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Emit pushes an arbitrary event to the attached channel, if any.
func (s *AuthSession) Emit(eventType string, data map[string]any) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(eventType, data)
	}
}

// emitStatus reports a state transition as a {step, message} status event.
func (s *AuthSession) emitStatus(step, message string) {
	s.Emit(EventStatus, map[string]any{"step": step, "message": message})
}

// transition moves the session to a non-terminal state and reports it.
// It refuses to leave a terminal state.
func (s *AuthSession) transition(to SessionState, message string) bool {
	s.mu.Lock()
	if s.state == StateSucceeded || s.state == StateFailed {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()
	s.emitStatus(string(to), message)
	return true
}

// MarkPhoneSubmitted records that the automation entered the phone number.
func (s *AuthSession) MarkPhoneSubmitted() {
	s.transition(StatePhoneSubmitted, "phone number submitted")
}

// MarkCodeRequested records that a confirmation code was requested from the
// marketplace.
func (s *AuthSession) MarkCodeRequested() {
	s.transition(StateCodeRequested, "confirmation code requested")
}

// AwaitCode blocks the login flow until a code is submitted through the
// channel, the timeout elapses, or ctx is cancelled (channel disconnect).
// A code delivered any time before expiry wins, even at the last moment.
//
// On timeout the session fails with ErrCodeTimeout; on disconnect it fails
// with ErrSessionClosed. Either way the session is terminal afterwards and
// late deliveries are rejected.
func (s *AuthSession) AwaitCode(ctx context.Context, timeout time.Duration) (string, error) {
	if !s.transition(StateAwaitingCode, "waiting for confirmation code") {
		return "", ErrSessionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case code := <-s.codeCh:
		s.transition(StateVerifying, "verifying confirmation code")
		return code, nil
	case <-timer.C:
		s.log.Warn().Msg("timed out waiting for confirmation code")
		s.Fail("confirmation code timed out")
		return "", ErrCodeTimeout
	case <-ctx.Done():
		s.log.Info().Msg("channel went away while waiting for code")
		s.Fail("channel disconnected")
		return "", ErrSessionClosed
	}
}

// SubmitCode delivers a confirmation code from the channel's receive loop.
// Exactly one delivery is accepted per session: empty codes are rejected
// with ErrInvalidCode, and any delivery outside the AwaitingCode state or
// after the slot is taken returns ErrSessionClosed without mutating the
// session.
func (s *AuthSession) SubmitCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrInvalidCode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingCode {
		return ErrSessionClosed
	}
	select {
	case s.codeCh <- code:
		return nil
	default:
		return ErrSessionClosed
	}
}

// Succeed marks the session terminal-successful and reports it.
func (s *AuthSession) Succeed() {
	s.mu.Lock()
	if s.state == StateSucceeded || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateSucceeded
	s.mu.Unlock()
	s.emitStatus(string(StateSucceeded), "login completed")
}

// Fail marks the session terminal-failed and pushes an error event. Failures
// are never silently dropped: the channel always hears about them.
func (s *AuthSession) Fail(message string) {
	s.mu.Lock()
	if s.state == StateSucceeded || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.mu.Unlock()
	s.Emit(EventError, map[string]any{"message": message})
}
