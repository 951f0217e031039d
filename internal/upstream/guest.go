package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GuestSession implements SUPPLEMENTED FEATURE 4 (SPEC_FULL.md §5.4): a
// cached anonymous bootstrap token used when no account is usable and the
// requested operation doesn't require authentication, grounded on
// go-twitter's loginOpenAccount/getGuestTokenCached pair.
type GuestSession struct {
	mu         sync.Mutex
	token      string
	acquiredAt time.Time
	ttl        time.Duration
	client     *Client
}

// NewGuestSession wraps client (built with a nil Account/proxy-bound
// identity) as a guest-token source with the given refresh TTL.
func NewGuestSession(client *Client, ttl time.Duration) *GuestSession {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &GuestSession{client: client, ttl: ttl}
}

// Token returns a usable guest token, refreshing it if absent or stale.
func (g *GuestSession) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Since(g.acquiredAt) < g.ttl {
		return g.token, nil
	}

	token, err := g.client.getGuestToken()
	if err != nil {
		return "", fmt.Errorf("acquire guest token: %w", err)
	}
	g.token = token
	g.acquiredAt = time.Now()
	return token, nil
}

// Client exposes the underlying Client for making guest-scoped requests.
func (g *GuestSession) Client() *Client { return g.client }
