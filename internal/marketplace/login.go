package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-market-watch/internal/services"
)

// LoginClient drives phone-plus-code logins against the marketplace's auth
// endpoints and yields a credential blob of session cookies. It implements
// services.LoginDriver.
type LoginClient struct {
	// BaseURL is the auth API root, without a trailing slash.
	BaseURL string

	UserAgent string
	Timeout   time.Duration
	Log       zerolog.Logger
}

// NewLoginClient constructs a LoginClient.
func NewLoginClient(baseURL, userAgent string, timeout time.Duration, log zerolog.Logger) *LoginClient {
	return &LoginClient{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   timeout,
		Log:       log.With().Str("component", "login_driver").Logger(),
	}
}

// Begin opens a fresh attempt with its own cookie jar, so concurrent logins
// never share session state.
func (d *LoginClient) Begin(ctx context.Context, phone string) (services.LoginAttempt, error) {
	client, err := newClient(d.UserAgent, d.Timeout, nil)
	if err != nil {
		return nil, err
	}
	return &loginAttempt{
		client: client,
		base:   d.BaseURL,
		phone:  phone,
		log:    d.Log.With().Str("phone", phone).Logger(),
	}, nil
}

type loginAttempt struct {
	client *resty.Client
	base   string
	phone  string
	log    zerolog.Logger

	// sticker is the per-attempt token the code request hands back; code
	// verification has to echo it.
	sticker string
}

type authEnvelope struct {
	Result  int    `json:"result"`
	Error   string `json:"error"`
	Payload struct {
		Sticker string `json:"sticker"`
	} `json:"payload"`
}

// SubmitPhone primes the attempt's session. The auth API keys everything on
// the phone number sent with the code request, so this only has to pick up
// the anonymous session cookies.
func (a *loginAttempt) SubmitPhone(ctx context.Context) error {
	res, err := a.client.R().
		SetContext(ctx).
		Get(a.base + "/v2/session")
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("open session: unexpected status %d", res.StatusCode())
	}
	a.log.Debug().Msg("anonymous session opened")
	return nil
}

// RequestCode asks the marketplace to text the one-time code to the phone.
func (a *loginAttempt) RequestCode(ctx context.Context) error {
	var out authEnvelope
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"phone": a.phone}).
		SetResult(&out).
		Post(a.base + "/v2/code")
	if err != nil {
		return fmt.Errorf("request code: %w", err)
	}
	if res.StatusCode() != 200 || out.Result != 0 {
		return fmt.Errorf("request code: status %d result %d %s", res.StatusCode(), out.Result, out.Error)
	}
	a.sticker = out.Payload.Sticker
	a.log.Debug().Msg("confirmation code requested")
	return nil
}

// VerifyCode submits the human-entered code and serializes the resulting
// authenticated session cookies as the credential blob.
func (a *loginAttempt) VerifyCode(ctx context.Context, code string) (string, error) {
	var out authEnvelope
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"phone":   a.phone,
			"code":    code,
			"sticker": a.sticker,
		}).
		SetResult(&out).
		Post(a.base + "/v2/auth")
	if err != nil {
		return "", fmt.Errorf("verify code: %w", err)
	}
	if res.StatusCode() != 200 || out.Result != 0 {
		return "", fmt.Errorf("verify code: status %d result %d %s", res.StatusCode(), out.Result, out.Error)
	}

	blob, err := serializeCookies(a.client, a.base)
	if err != nil {
		return "", err
	}
	a.log.Info().Msg("login verified, session captured")
	return blob, nil
}

func (a *loginAttempt) Close() error {
	return nil
}
