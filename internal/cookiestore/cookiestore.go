// Package cookiestore implements internal/accountstore.CookieStore
// against Redis, the COOKIES_BACKEND=redis alternative to the JSON-file
// cache SPEC_FULL.md §4.4 names as the default — grounded on
// ContentSquare-chproxy's cache/redis_cache.go (a redis.UniversalClient
// wrapped in per-call context timeouts, values round-tripped through
// json.Marshal/Unmarshal).
package cookiestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
)

const (
	getTimeout = 1 * time.Second
	putTimeout = 2 * time.Second
)

// RedisStore persists one cookie jar per account under a
// "scrapegate:cookies:"-prefixed key, with no expiry (sessions are refreshed by the
// authentication ladder itself, not by Redis TTL).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// New wraps an already-constructed redis.UniversalClient. cmd/gatewayd
// builds client with redis.NewUniversalClient(&redis.UniversalOptions{
// Addrs: []string{cfg.RedisAddr}}) from internal/config.Config.RedisAddr.
func New(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "scrapegate:cookies:"}
}

func (r *RedisStore) key(username string) string {
	return r.prefix + username
}

// LoadCookies returns the cached cookie set for username, or nil if no
// entry exists — matching accountstore.Store.LoadCookies's contract so
// the two satisfy accountstore.CookieStore interchangeably.
func (r *RedisStore) LoadCookies(username string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), getTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(username)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cookies for %s: %w", username, err)
	}

	var cookies []string
	if err := json.Unmarshal([]byte(val), &cookies); err != nil {
		return nil, fmt.Errorf("parse cached cookies for %s: %w", username, err)
	}
	return cookies, nil
}

// SaveCookies upserts the cookie set for acc.Username.
func (r *RedisStore) SaveCookies(acc accountstore.Account, cookies []string) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("marshal cookies for %s: %w", acc.Username, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(acc.Username), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set cookies for %s: %w", acc.Username, err)
	}
	return nil
}

var _ accountstore.CookieStore = (*RedisStore)(nil)
