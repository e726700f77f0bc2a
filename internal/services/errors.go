// Package services defines the business logic for account provisioning,
// scrape orchestration, and consensus aggregation. This file centralizes
// common service-level error values so that they can be consistently
// returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Login-flow errors.
var (
	// ErrAutomation indicates the external login/sampling driver failed.
	// Always recoverable: the next scheduled cycle retries naturally.
	ErrAutomation = errors.New("login automation failed")

	// ErrCodeTimeout is returned when no confirmation code arrived within
	// the configured window. Terminal for that session only.
	ErrCodeTimeout = errors.New("confirmation code timed out")

	// ErrSessionClosed is returned when a code is submitted to a session
	// that is no longer awaiting one (terminal, duplicate delivery, or
	// channel already gone).
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidCode is returned when a submitted confirmation code is
	// empty.
	ErrInvalidCode = errors.New("code must not be empty")

	// ErrSessionNotFound indicates an unknown auth session id. The caller
	// decides whether that is fatal.
	ErrSessionNotFound = errors.New("auth session not found")

	// ErrSessionClaimed is returned when a second channel tries to attach
	// to a session that already has an exclusive owner.
	ErrSessionClaimed = errors.New("auth session already claimed")
)

// Aggregation and CRUD errors.
var (
	// ErrNoSamples is returned when consensus is requested for a scope with
	// zero stored samples. User-visible "not ready yet", not a failure.
	ErrNoSamples = errors.New("no samples recorded")

	// ErrAccountNotFound indicates that the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrProductNotFound indicates that the requested product does not exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrProxyNotFound indicates that the requested proxy does not exist.
	ErrProxyNotFound = errors.New("proxy not found")

	// ErrDuplicateProduct is returned when a product with the same external
	// id is already tracked.
	ErrDuplicateProduct = errors.New("product already tracked")

	// ErrDuplicateProxy is returned when a proxy with the same name already
	// exists.
	ErrDuplicateProxy = errors.New("proxy name already exists")

	// ErrProxyStatusInvalid is returned when a status update carries an
	// empty status value.
	ErrProxyStatusInvalid = errors.New("proxy status must not be empty")
)
