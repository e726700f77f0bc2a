// Package services – LoginService
//
// This file drives one account-provisioning login attempt end to end: it
// creates the Account row, walks the opaque LoginDriver through phone entry
// and code request, parks the flow in AwaitCode until the human supplies the
// one-time code over the channel, and persists the resulting credential blob.
//
// The driver is a black box: all marketplace automation heuristics live
// behind it, and any driver failure is an automation error that surfaces to
// the channel and terminates only this session.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/repo"
)

// LoginDriver starts login attempts against the marketplace. Implementations
// are slow and fallible; the flow never retries them within one attempt.
type LoginDriver interface {
	// Begin opens a fresh login attempt for the phone number.
	Begin(ctx context.Context, phone string) (LoginAttempt, error)
}

// LoginAttempt is one in-progress marketplace login. Calls happen in order:
// SubmitPhone, RequestCode, VerifyCode. Close releases driver resources and
// is safe after any step.
type LoginAttempt interface {
	// SubmitPhone enters the phone number into the login form.
	SubmitPhone(ctx context.Context) error

	// RequestCode asks the marketplace to send the one-time code.
	RequestCode(ctx context.Context) error

	// VerifyCode submits the human-supplied code and, on success, returns
	// the opaque serialized credential blob for the now-authenticated
	// session.
	VerifyCode(ctx context.Context, code string) (string, error)

	// Close tears the attempt down.
	Close() error
}

// LoginService owns the provisioning flow for new accounts.
type LoginService struct {
	DB     *gorm.DB
	Driver LoginDriver

	// CodeTimeout bounds how long a session waits for the human code.
	CodeTimeout time.Duration

	Log zerolog.Logger
}

// NewLoginService constructs a LoginService with the given driver.
func NewLoginService(db *gorm.DB, driver LoginDriver, codeTimeout time.Duration, log zerolog.Logger) *LoginService {
	if codeTimeout <= 0 {
		codeTimeout = 5 * time.Minute
	}
	return &LoginService{
		DB:          db,
		Driver:      driver,
		CodeTimeout: codeTimeout,
		Log:         log.With().Str("component", "login_flow").Logger(),
	}
}

// Run executes the full login flow for sess. It is meant to run as the
// session's background task while the channel's receive loop keeps serving
// SubmitCode and keepalives concurrently. All outcomes, good or bad, are
// reported through the session's event sink; the returned error is for the
// caller's logging only.
func (s *LoginService) Run(ctx context.Context, sess *AuthSession) error {
	log := s.Log.With().Str("session_id", sess.ID).Str("phone", sess.Phone).Logger()

	acct, err := repo.CreateAccount(ctx, s.DB, sess.DisplayName, sess.Phone)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist account")
		sess.Fail("failed to save account")
		return err
	}
	sess.Emit(EventAccountCreated, map[string]any{
		"account_id": acct.ID,
		"message":    "account created",
	})

	attempt, err := s.Driver.Begin(ctx, sess.Phone)
	if err != nil {
		log.Error().Err(err).Msg("login driver failed to start")
		sess.Fail("login automation failed to start")
		return ErrAutomation
	}
	defer func() { _ = attempt.Close() }()

	if err := attempt.SubmitPhone(ctx); err != nil {
		log.Error().Err(err).Msg("phone submission failed")
		sess.Fail("could not submit phone number")
		return ErrAutomation
	}
	sess.MarkPhoneSubmitted()

	if err := attempt.RequestCode(ctx); err != nil {
		log.Error().Err(err).Msg("code request failed")
		sess.Fail("could not request confirmation code")
		return ErrAutomation
	}
	sess.MarkCodeRequested()

	code, err := sess.AwaitCode(ctx, s.CodeTimeout)
	if err != nil {
		// AwaitCode already failed the session and notified the channel.
		return err
	}

	blob, err := attempt.VerifyCode(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("code verification failed")
		sess.Fail("confirmation code rejected")
		return ErrAutomation
	}

	if err := repo.UpdateAccountCredentials(ctx, s.DB, acct.ID, blob); err != nil {
		log.Error().Err(err).Msg("failed to persist credentials")
		sess.Fail("failed to save credentials")
		return err
	}

	sess.Succeed()
	sess.Emit(EventCompleted, map[string]any{
		"account_id": acct.ID,
		"message":    "login completed",
	})
	log.Info().Str("account_id", acct.ID).Msg("account provisioned")
	return nil
}
