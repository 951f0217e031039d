package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
	"github.com/anatolykoptev/scrapegate/internal/classify"
	"github.com/anatolykoptev/scrapegate/internal/health"
	"github.com/anatolykoptev/scrapegate/internal/proxystore"
	"github.com/anatolykoptev/scrapegate/internal/queue"
	"github.com/anatolykoptev/scrapegate/internal/upstream"
)

// newTestDispatcher wires an accounts file with usable pre-obtained
// cookies (ct0/auth_token), so Authenticate succeeds at ladder step 2
// without any network call, an empty proxy file (direct egress), and a
// nil Verify hook (always-pass). cfg is passed through DefaultConfig.
func newTestDispatcher(t *testing.T, cfg Config, usernames ...string) *Dispatcher {
	t.Helper()
	dir := t.TempDir()

	accountsPath := filepath.Join(dir, "accounts.txt")
	var lines string
	for _, u := range usernames {
		lines += u + ":pw:" + u + "@example.com:epw:secret:ct0tok:authtok\n"
	}
	if err := os.WriteFile(accountsPath, []byte(lines), 0600); err != nil {
		t.Fatal(err)
	}
	store, err := accountstore.Load(accountsPath, filepath.Join(dir, "cookies.json"))
	if err != nil {
		t.Fatal(err)
	}

	proxiesPath := filepath.Join(dir, "proxies.txt")
	if err := os.WriteFile(proxiesPath, nil, 0600); err != nil {
		t.Fatal(err)
	}
	proxies, err := proxystore.Load(proxiesPath)
	if err != nil {
		t.Fatal(err)
	}

	hreg := health.New(health.DefaultConfig())
	ucfg := upstream.DefaultConfig(upstream.Config{BaseURL: "https://upstream.example.com"})

	d := New(cfg, ucfg, store, proxies, hreg, nil)
	return d
}

func TestDispatcher_RetryThenSucceed(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 3}, "alice", "bob")
	d.Start()
	defer d.Stop()

	var calls int32
	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	}

	fut, err := Execute(d, "search", queue.Medium, op)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	val, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if val != "ok" {
		t.Fatalf("expected %q, got %q", "ok", val)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDispatcher_AuthErrorPropagatesImmediately(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 3}, "alice")
	d.Start()
	defer d.Stop()

	var calls int32
	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("401 Unauthorized")
	}

	fut, err := Execute(d, "profile", queue.High, op)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := fut.Wait(ctx); err == nil {
		t.Fatal("expected AUTH error to propagate")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable kind, got %d", got)
	}
}

func TestDispatcher_NoUsableAccounts(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 3}, "alice")
	d.health.Disable("alice")
	d.Start()
	defer d.Stop()

	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		return "unreachable", nil
	}

	fut, err := Execute(d, "search", queue.Medium, op)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = fut.Wait(ctx)
	if err == nil || err.Error() != "No usable accounts available" {
		t.Fatalf("expected the distinct no-usable-accounts message, got %v", err)
	}
}

func TestExecute_QueueFullFailsSynchronously(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 1, QueueCapacity: 1, MaxConcurrency: 1}, "alice")
	// No Start(): nothing drains the queue, so the second Enqueue overflows.
	block := make(chan struct{})
	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		<-block
		return "done", nil
	}
	defer close(block)

	if _, err := Execute(d, "search", queue.Medium, op); err != nil {
		t.Fatalf("first enqueue should succeed, got %v", err)
	}
	if _, err := Execute(d, "search", queue.Medium, op); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestGetStats_ReportsConfiguredCapacityNotHardcoded(t *testing.T) {
	d := newTestDispatcher(t, Config{QueueCapacity: 7}, "alice", "bob")
	stats := d.GetStats()
	if stats.Queue.MaxSize != 7 {
		t.Fatalf("expected configured capacity 7, got %d (regression of the hardcoded-1000 bug)", stats.Queue.MaxSize)
	}
	if stats.Accounts.Total != 2 {
		t.Fatalf("expected 2 accounts, got %d", stats.Accounts.Total)
	}
	if _, ok := stats.PerAccount["alice"]; !ok {
		t.Fatal("expected a per-account entry for alice")
	}
}

func TestSelectAccount_SkipsIneligibleAndPrefersHealthy(t *testing.T) {
	d := newTestDispatcher(t, Config{}, "alice", "bob")
	d.health.Disable("alice")
	d.health.RecordFailure("bob", classify.Timeout, d.health.Config(), time.Now())

	acc, ok := d.selectAccount("search", time.Now())
	if !ok {
		t.Fatal("expected bob to still be eligible")
	}
	if acc.Username != "bob" {
		t.Fatalf("expected bob, got %s", acc.Username)
	}
}

func TestSelectAccount_SkipsAccountOverPerEndpointLimit(t *testing.T) {
	d := newTestDispatcher(t, Config{EndpointRateLimit: 1, EndpointRateWindow: time.Minute}, "alice", "bob")
	d.health.RecordEndpointAttempt("alice", "search", time.Now())

	acc, ok := d.selectAccount("search", time.Now())
	if !ok {
		t.Fatal("expected bob to still be under the per-endpoint limit")
	}
	if acc.Username != "bob" {
		t.Fatalf("expected bob (alice is over the per-endpoint limit), got %s", acc.Username)
	}

	// alice is untouched on a different endpoint name.
	acc, ok = d.selectAccount("profile", time.Now())
	if !ok || acc.Username != "alice" && acc.Username != "bob" {
		t.Fatalf("expected either account eligible for a fresh endpoint, got %s, ok=%v", acc.Username, ok)
	}
}

// TestDispatcher_CSRFAuthErrorRotatesCredentialAndRetriesOnce exercises
// SUPPLEMENTED FEATURE 1 (SPEC_FULL.md §5.1): an AUTH failure whose message
// looks CSRF-shaped gets one same-client retry via RotateCredential before
// classify/record/propagate ever runs, so the dispatcher-level retry loop
// sees a single successful attempt rather than a failure + retry.
func TestDispatcher_CSRFAuthErrorRotatesCredentialAndRetriesOnce(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 3}, "alice")
	d.Start()
	defer d.Stop()

	var calls int32
	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("401 unauthorized: csrf token invalid")
		}
		return "ok", nil
	}

	fut, err := Execute(d, "profile", queue.High, op)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	val, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("expected the CSRF retry to recover in-place, got %v", err)
	}
	if val != "ok" {
		t.Fatalf("expected %q, got %q", "ok", val)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 calls (original + one in-place retry), got %d", got)
	}
	if snap := d.health.Snapshot("alice", time.Now()); snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected no recorded failure (the retry resolved before classify/record), got %d", snap.ConsecutiveFailures)
	}
}

// TestDispatcher_GuestFallbackServesUnauthenticatedOperation exercises
// SUPPLEMENTED FEATURE 4 (SPEC_FULL.md §5.4): when no account is usable and
// the operation is admitted with requiresAuth=false, the dispatcher serves
// it from Config.GuestSession instead of failing immediately.
func TestDispatcher_GuestFallbackServesUnauthenticatedOperation(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 1}) // no accounts at all
	guestClient, err := upstream.New(upstream.DefaultConfig(upstream.Config{BaseURL: "https://upstream.example.com"}), accountstore.Account{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.cfg.GuestSession = upstream.NewGuestSession(guestClient, time.Minute)
	d.Start()
	defer d.Stop()

	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		return "guest-ok", nil
	}

	fut, err := ExecuteOpts(d, "profile", queue.Medium, false, op)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	val, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("expected the guest fallback to serve the request, got %v", err)
	}
	if val != "guest-ok" {
		t.Fatalf("expected %q, got %q", "guest-ok", val)
	}
}

func TestDispatcher_RequiresAuthOperationStillFailsWithNoAccounts(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxRetries: 1}) // no accounts at all
	guestClient, err := upstream.New(upstream.DefaultConfig(upstream.Config{BaseURL: "https://upstream.example.com"}), accountstore.Account{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.cfg.GuestSession = upstream.NewGuestSession(guestClient, time.Minute)
	d.Start()
	defer d.Stop()

	op := func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (string, error) {
		return "unreachable", nil
	}

	fut, err := Execute(d, "profile", queue.Medium, op)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = fut.Wait(ctx)
	if err == nil || err.Error() != "No usable accounts available" {
		t.Fatalf("expected requiresAuth=true to skip the guest fallback entirely, got %v", err)
	}
}

type fakeCaptchaSolver struct{}

func (fakeCaptchaSolver) Solve(ctx context.Context, publicKey, pageURL string) (string, error) {
	return "tok", nil
}

func (fakeCaptchaSolver) Balance(ctx context.Context) (float64, error) { return 0, nil }

// TestReloginWithCaptcha_NoPasswordFailsFast exercises the guard
// SUPPLEMENTED FEATURE 5 (SPEC_FULL.md §5.5) needs before it ever reaches
// the network: an account with no password can't complete credential
// login regardless of CAPTCHA support.
func TestReloginWithCaptcha_NoPasswordFailsFast(t *testing.T) {
	d := newTestDispatcher(t, Config{CaptchaSolver: fakeCaptchaSolver{}}, "alice")
	acc := accountstore.Account{Username: "nopass"}
	if err := d.reloginWithCaptcha(context.Background(), acc); err == nil {
		t.Fatal("expected an error for an account with no password")
	}
}
