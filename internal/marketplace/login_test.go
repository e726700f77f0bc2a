package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newAuthServer fakes the three-step auth API: session cookie handout,
// code request returning a sticker, and code verification that checks the
// sticker came back.
func newAuthServer(t *testing.T, wantCode string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v2/session":
			http.SetCookie(w, &http.Cookie{Name: "wbx-validation-key", Value: "anon-1", Path: "/"})
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v2/code":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["phone"] == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result":  0,
				"payload": map[string]string{"sticker": "stk-77"},
			})
		case r.URL.Path == "/v2/auth":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["sticker"] != "stk-77" || body["code"] != wantCode {
				_ = json.NewEncoder(w).Encode(map[string]any{"result": 1, "error": "wrong code"})
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "wbx-auth-token", Value: "session-9", Path: "/"})
			_ = json.NewEncoder(w).Encode(map[string]any{"result": 0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestLoginClient_FullFlow(t *testing.T) {
	srv := newAuthServer(t, "1234")
	t.Cleanup(srv.Close)

	d := NewLoginClient(srv.URL, "", 2*time.Second, zerolog.Nop())
	ctx := context.Background()

	attempt, err := d.Begin(ctx, "+70000000001")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { _ = attempt.Close() })

	if err := attempt.SubmitPhone(ctx); err != nil {
		t.Fatalf("SubmitPhone: %v", err)
	}
	if err := attempt.RequestCode(ctx); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}

	blob, err := attempt.VerifyCode(ctx, "1234")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !strings.Contains(blob, "wbx-auth-token") {
		t.Fatalf("blob missing auth cookie: %s", blob)
	}

	var cookies []SessionCookie
	if err := json.Unmarshal([]byte(blob), &cookies); err != nil {
		t.Fatalf("blob not valid JSON: %v", err)
	}
	if len(cookies) == 0 {
		t.Fatalf("expected captured session cookies")
	}
}

func TestLoginClient_WrongCode(t *testing.T) {
	srv := newAuthServer(t, "1234")
	t.Cleanup(srv.Close)

	d := NewLoginClient(srv.URL, "", 2*time.Second, zerolog.Nop())
	ctx := context.Background()

	attempt, _ := d.Begin(ctx, "+70000000001")
	if err := attempt.SubmitPhone(ctx); err != nil {
		t.Fatalf("SubmitPhone: %v", err)
	}
	if err := attempt.RequestCode(ctx); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if _, err := attempt.VerifyCode(ctx, "9999"); err == nil {
		t.Fatalf("expected rejection for wrong code")
	}
}

func TestLoginClient_AttemptsAreIsolated(t *testing.T) {
	srv := newAuthServer(t, "1234")
	t.Cleanup(srv.Close)

	d := NewLoginClient(srv.URL, "", 2*time.Second, zerolog.Nop())
	ctx := context.Background()

	a1, _ := d.Begin(ctx, "+70000000001")
	a2, _ := d.Begin(ctx, "+70000000002")
	if a1.(*loginAttempt).client == a2.(*loginAttempt).client {
		t.Fatalf("attempts must not share an http client")
	}
}
