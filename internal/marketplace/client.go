// Package marketplace contains the concrete drivers that talk to the
// marketplace itself: the card-API sampler and the HTTP login driver. Both
// sit behind interfaces defined in internal/services, so everything above
// this package stays oblivious to endpoints, payload shapes, and cookies.
package marketplace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tbourn/go-market-watch/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// SessionCookie is one browser cookie inside a credential blob. Blobs are
// JSON arrays of these, produced at login time and replayed on every
// sampling request.
type SessionCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// newClient builds a resty client with the shared marketplace posture:
// browser user agent, request timeout, cookie jar, optional proxy.
func newClient(userAgent string, timeout time.Duration, proxy *domain.Proxy) (*resty.Client, error) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	client := resty.New()
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(timeout)
	client.SetCookieJar(jar)

	if proxy != nil {
		client.SetProxy(proxyURL(proxy))
	}
	return client, nil
}

// proxyURL renders a Proxy row as an http proxy URL, with credentials when
// the row carries them.
func proxyURL(p *domain.Proxy) string {
	u := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// restoreCookies parses a credential blob and applies its cookies to the
// client. An empty blob is fine; a malformed one is not.
func restoreCookies(client *resty.Client, blob string) error {
	if blob == "" {
		return nil
	}
	var cookies []SessionCookie
	if err := json.Unmarshal([]byte(blob), &cookies); err != nil {
		return fmt.Errorf("decode credential blob: %w", err)
	}
	for _, c := range cookies {
		client.SetCookie(&http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return nil
}

// serializeCookies captures the client's cookies for base into a credential
// blob string.
func serializeCookies(client *resty.Client, base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	jar := client.GetClient().Jar
	if jar == nil {
		return "", fmt.Errorf("client has no cookie jar")
	}
	out := make([]SessionCookie, 0, 8)
	for _, c := range jar.Cookies(u) {
		out = append(out, SessionCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
