// Package upstream builds per-account, per-proxy HTTP clients bound to the
// scraped platform and implements the authentication ladder of spec.md §4.7.
// It is grounded on go-twitter's client.go/auth.go/headers.go, with the
// go-stealth TLS-fingerprint wrapper replaced by bogdanfinn/tls-client
// directly (go-stealth itself is unavailable outside that teacher repo).
package upstream

import (
	"context"
	"time"

	"github.com/bogdanfinn/tls-client/profiles"
)

// Config holds the platform-facing parameters of the upstream client
// factory. Values default to a generic GraphQL-style social platform,
// mirroring go-twitter's hardcoded constants (endpoints.go, headers.go)
// but made configurable since this spec is platform-agnostic.
type Config struct {
	BaseURL        string // e.g. "https://api.example.com"
	LoginURL       string // e.g. "https://api.example.com/1.1/onboarding/task.json"
	GuestTokenURL  string
	BearerToken    string
	UserAgent      string
	HeaderOrder    []string
	ClientProfile  profiles.ClientProfile
	RequestTimeout time.Duration
	LoginTimeout   time.Duration // default 45s, per spec.md §4.7 step 3
	VerifyTimeout  time.Duration // default 15s, per spec.md §4.7 steps 1-2

	SessionDir string
	SessionTTL time.Duration

	CaptchaSolver  CaptchaSolver // nil disables CAPTCHA-gated login steps
	CaptchaSiteKey string

	// Verify runs the "trivial upstream call" spec.md §4.7 calls for after
	// installing cookies; it must return (ok, err) where ok means the
	// session is usable. Supplied by the caller since the actual probe
	// operation is opaque to this package.
	Verify func(ctx context.Context, client *Client) (bool, error)
}

// DefaultConfig fills in go-twitter-shaped defaults for anything the caller
// left zero.
func DefaultConfig(cfg Config) Config {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = 45 * time.Second
	}
	if cfg.VerifyTimeout == 0 {
		cfg.VerifyTimeout = 15 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	if len(cfg.HeaderOrder) == 0 {
		cfg.HeaderOrder = defaultHeaderOrder
	}
	return cfg
}

var defaultHeaderOrder = []string{
	"authorization",
	"content-type",
	"x-csrf-token",
	"x-client-transaction-id",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
	"cookie",
	"user-agent",
	"accept",
	"accept-language",
	"accept-encoding",
}

// CaptchaSolver is satisfied by internal/upstream/captcha.Solver
// implementations; declared locally to keep this package's exported
// surface independent of the captcha package's import graph.
type CaptchaSolver interface {
	Solve(ctx context.Context, publicKey, pageURL string) (string, error)
	Balance(ctx context.Context) (float64, error)
}
