// Package dispatch implements the Dispatcher described in spec.md §4.8:
// the scheduler that pops admitted work off internal/queue under a
// concurrency cap, selects a healthy account, attaches a proxy,
// authenticates, runs the caller's opaque operation, records the outcome
// in internal/health, and retries transient failures with exponential
// backoff and jitter. It is grounded on go-twitter's request.go dispatch
// loop (the retry-with-backoff shape and markProxyDown wiring) generalized
// from a single hardcoded loop into a reusable, generic scheduler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
	"github.com/anatolykoptev/scrapegate/internal/classify"
	"github.com/anatolykoptev/scrapegate/internal/health"
	"github.com/anatolykoptev/scrapegate/internal/proxystore"
	"github.com/anatolykoptev/scrapegate/internal/queue"
	"github.com/anatolykoptev/scrapegate/internal/timeout"
	"github.com/anatolykoptev/scrapegate/internal/upstream"
)

// errNoUsableAccounts is the distinct message spec.md §7 requires when
// account selection comes up empty.
var errNoUsableAccounts = errors.New("No usable accounts available")

// Config controls the scheduler's concurrency, retry, and deadline policy.
type Config struct {
	MaxConcurrency int           // default 10
	MaxRetries     int           // default 3
	QueueCapacity  int           // default queue.DefaultCapacity
	SweepInterval  time.Duration // default 2 minutes, per spec.md §4.6

	// OpTimeouts maps an operation class ("login", "search", "profile",
	// "tweet", ...) to its deadline; the "" entry is the fallback for any
	// opName not listed, per spec.md §9's per-operation-class deadlines.
	OpTimeouts map[string]time.Duration

	// MetricsHook is called once per attempt with the same
	// (endpoint, success, rateLimited) shape as go-twitter's
	// ClientConfig.MetricsHook; internal/metrics.Metrics.Hook() supplies
	// a Prometheus-backed implementation. Nil disables it.
	MetricsHook func(opName string, success, rateLimited bool)

	// CookieStore overrides where the authentication ladder loads and
	// saves cookie jars. Nil defaults to the accountstore.Store passed to
	// New (the file-backed cache); internal/cookiestore.RedisStore is the
	// COOKIES_BACKEND=redis alternative.
	CookieStore accountstore.CookieStore

	// EndpointRateLimit and EndpointRateWindow gate selectAccount's
	// per-endpoint sliding window (SUPPLEMENTED FEATURE 2, SPEC_FULL.md
	// §5.2), on top of health.Config's account-wide window. Zero picks
	// DefaultConfig's 30-per-5-minutes; negative disables the check
	// entirely, per health.Registry.AllowEndpoint.
	EndpointRateLimit  int
	EndpointRateWindow time.Duration

	// GuestSession, when set, is tried for operations Execute admits with
	// requiresAuth=false once account selection comes up empty, instead of
	// failing immediately with errNoUsableAccounts (SUPPLEMENTED FEATURE
	// 4, SPEC_FULL.md §5.4).
	GuestSession *upstream.GuestSession

	// CaptchaSolver, when set, gives an account that just failed with
	// ACCOUNT_LOCKED one forced relogin-with-CAPTCHA attempt before the
	// failure is recorded and propagated (SUPPLEMENTED FEATURE 5,
	// SPEC_FULL.md §5.5). Nil (the default) matches spec.md §4.6 exactly:
	// LOCKED is terminal on first sight.
	CaptchaSolver upstream.CaptchaSolver
}

// DefaultConfig fills in the zero-valued fields of cfg.
func DefaultConfig(cfg Config) Config {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Minute
	}
	if cfg.OpTimeouts == nil {
		cfg.OpTimeouts = DefaultOpTimeouts()
	}
	if cfg.EndpointRateLimit == 0 {
		cfg.EndpointRateLimit = 30
	}
	if cfg.EndpointRateWindow <= 0 {
		cfg.EndpointRateWindow = 5 * time.Minute
	}
	return cfg
}

// DefaultOpTimeouts matches the operation classes spec.md §9 names.
func DefaultOpTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"login":   45 * time.Second,
		"search":  20 * time.Second,
		"profile": 15 * time.Second,
		"tweet":   15 * time.Second,
		"":        30 * time.Second,
	}
}

// Dispatcher owns the admission queue, the account and proxy populations,
// and the health registry, and runs the scheduling loop described above.
type Dispatcher struct {
	cfg         Config
	upstreamCfg upstream.Config

	accounts *accountstore.Store
	proxies  *proxystore.Store
	health   *health.Registry
	xtidMgr  upstream.TransactionIDGenerator

	q *queue.Queue[any]

	active  int32
	wake    chan struct{}
	stopCh  chan struct{}
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statsHistMu sync.Mutex
	statsHist   []StatsSnapshot
}

// New constructs a Dispatcher. xtidMgr may be nil to disable the
// x-client-transaction-id header (SUPPLEMENTED FEATURE 6).
func New(cfg Config, upstreamCfg upstream.Config, accounts *accountstore.Store, proxies *proxystore.Store, healthReg *health.Registry, xtidMgr upstream.TransactionIDGenerator) *Dispatcher {
	cfg = DefaultConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:         cfg,
		upstreamCfg: upstreamCfg,
		accounts:    accounts,
		proxies:     proxies,
		health:      healthReg,
		xtidMgr:     xtidMgr,
		q:           queue.New[any](cfg.QueueCapacity),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		rootCtx:     ctx,
		cancel:      cancel,
	}
}

// Start initializes a health record for every known account and launches
// the scheduler loop and the periodic health sweep (spec.md §4.6, ≥ every
// two minutes).
func (d *Dispatcher) Start() {
	for _, acc := range d.accounts.ListAccounts() {
		d.health.Touch(acc.Username)
	}
	d.wg.Add(2)
	go d.schedulerLoop()
	go d.sweepLoop()
}

// Stop cancels in-flight operations' context, stops the scheduler from
// dequeuing further work, and blocks until every spawned goroutine
// (scheduler, sweep, and any still-running request) has returned. Execute
// still admits work into the queue after Stop; nothing runs it.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.cancel()
	d.wg.Wait()
}

// Future resolves once the scheduler has run (or failed to run) the
// operation Execute admitted, with its result cast back to T.
type Future[T any] struct {
	inner *queue.Future[any]
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	v, err := f.inner.Wait(ctx)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dispatch: unexpected result type %T", v)
	}
	return t, nil
}

// Operation is the caller's opaque scraping thunk: given an authenticated
// client and the account it is bound to, it runs one external call and
// returns a result or an error. The dispatcher reclassifies and retries
// errors per spec.md §7; callers should return errors whose message
// reflects the upstream failure so classify.Classify can act on it.
type Operation[T any] func(ctx context.Context, client *upstream.Client, account accountstore.Account) (T, error)

// Execute admits op at the given priority and returns a Future for its
// eventual result, per spec.md §4.8. opName selects the operation-class
// deadline from Config.OpTimeouts. Execute fails synchronously with
// queue.ErrQueueFull if the admission buffer is at capacity. Execute is
// equivalent to ExecuteOpts with requiresAuth=true.
func Execute[T any](d *Dispatcher, opName string, priority queue.Priority, op Operation[T]) (*Future[T], error) {
	return ExecuteOpts(d, opName, priority, true, op)
}

// ExecuteOpts is Execute with an explicit requiresAuth flag: when false and
// account selection comes up empty, the dispatcher tries Config.GuestSession
// before failing with errNoUsableAccounts (SUPPLEMENTED FEATURE 4,
// SPEC_FULL.md §5.4). Callers whose operation needs an authenticated
// account (anything that reads or mutates account-scoped state) must pass
// true.
func ExecuteOpts[T any](d *Dispatcher, opName string, priority queue.Priority, requiresAuth bool, op Operation[T]) (*Future[T], error) {
	wrapped := func(ctx context.Context) (any, error) {
		return d.run(ctx, opName, requiresAuth, func(ctx context.Context, client *upstream.Client, acc accountstore.Account) (any, error) {
			return op(ctx, client, acc)
		})
	}
	fut, err := d.q.Enqueue(priority, wrapped)
	if err != nil {
		return nil, err
	}
	d.signalWake()
	return &Future[T]{inner: fut}, nil
}

func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// schedulerLoop dequeues admitted requests while activeOps < MaxConcurrency,
// waking on admission, on request completion, or at least 10 times a
// second so a request enqueued between wakeups is never stranded.
func (d *Dispatcher) schedulerLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.drain()
	}
}

func (d *Dispatcher) drain() {
	for atomic.LoadInt32(&d.active) < int32(d.cfg.MaxConcurrency) {
		req, ok := d.q.Dequeue()
		if !ok {
			return
		}
		atomic.AddInt32(&d.active, 1)
		d.wg.Add(1)
		go func(req *queue.Request[any]) {
			defer d.wg.Done()
			defer atomic.AddInt32(&d.active, -1)
			defer d.signalWake()
			val, err := req.Thunk(d.rootCtx)
			req.Resolve(val, err)
		}(req)
	}
}

func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.health.Sweep(time.Now())
		}
	}
}

// run is the per-request retry loop of spec.md §4.8 steps 1-6: select an
// account, attach a proxy, authenticate, run op under its operation-class
// deadline, and on failure classify + record + decide whether to retry.
// requiresAuth gates the guest-session fallback (SPEC_FULL.md §5.4) when
// selection comes up empty.
func (d *Dispatcher) run(ctx context.Context, opName string, requiresAuth bool, op Operation[any]) (any, error) {
	var lastErr error

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		acc, ok := d.selectAccount(opName, time.Now())
		if !ok {
			if !requiresAuth {
				if val, err := d.attemptGuest(ctx, opName, op); err == nil {
					return val, nil
				}
			}
			return nil, errNoUsableAccounts
		}

		proxy, hasProxy := d.proxies.PickRandom()
		var proxyPtr *proxystore.Proxy
		if hasProxy {
			proxyPtr = &proxy
		}

		val, err := d.attempt(ctx, opName, acc, proxyPtr, op)
		if err == nil {
			return val, nil
		}

		kind := classify.Classify(err.Error())
		if kind == classify.AccountLocked && d.cfg.CaptchaSolver != nil {
			if relogErr := d.reloginWithCaptcha(ctx, acc); relogErr == nil {
				val2, err2 := d.attempt(ctx, opName, acc, proxyPtr, op)
				if err2 == nil {
					return val2, nil
				}
				err = err2
				kind = classify.Classify(err.Error())
			}
		}
		lastErr = err

		d.health.RecordFailure(acc.Username, kind, d.health.Config(), time.Now())
		d.health.RecordEndpointAttempt(acc.Username, opName, time.Now())
		if proxyPtr != nil && proxystore.IsProxyError(err) {
			d.proxies.MarkDown(proxyPtr.URL)
		}
		if d.cfg.MetricsHook != nil {
			d.cfg.MetricsHook(opName, false, kind == classify.RateLimit)
		}

		if !shouldRetryKind(kind) {
			return nil, lastErr
		}
		if attempt+1 >= d.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("operation %s exhausted retries: %w", opName, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, opName string, acc accountstore.Account, proxy *proxystore.Proxy, op Operation[any]) (any, error) {
	client, err := upstream.New(d.upstreamCfg, acc, proxy, d.xtidMgr)
	if err != nil {
		return nil, fmt.Errorf("build client for %s: %w", acc.Username, err)
	}
	if err := upstream.Authenticate(ctx, client, d.cookieStore(), acc); err != nil {
		return nil, err
	}

	deadline := d.opTimeout(opName)
	val, err := timeout.WithTimeout(ctx, deadline, opName, func(tctx context.Context) (any, error) {
		return op(tctx, client, acc)
	})
	// SUPPLEMENTED FEATURE 1 (SPEC_FULL.md §5.1): an AUTH failure that
	// looks CSRF-shaped gets one same-client, same-attempt retry after
	// RotateCredential rotates the CSRF cookie, before falling through to
	// the normal classify/record/propagate path below.
	if err != nil {
		if classify.Classify(err.Error()) == classify.Auth && client.RotateCredential(err.Error()) {
			val, err = timeout.WithTimeout(ctx, deadline, opName, func(tctx context.Context) (any, error) {
				return op(tctx, client, acc)
			})
		}
	}
	if err != nil {
		return nil, err
	}

	d.health.RecordSuccess(acc.Username, time.Now())
	d.health.RecordEndpointAttempt(acc.Username, opName, time.Now())
	if proxy != nil {
		d.proxies.MarkUp(proxy.URL)
	}
	if d.cfg.MetricsHook != nil {
		d.cfg.MetricsHook(opName, true, false)
	}
	return val, nil
}

// attemptGuest is the §5.4 no-account fallback: it skips account selection,
// proxy attachment, and the authentication ladder entirely, running op
// straight against Config.GuestSession's client.
func (d *Dispatcher) attemptGuest(ctx context.Context, opName string, op Operation[any]) (any, error) {
	if d.cfg.GuestSession == nil {
		return nil, errNoUsableAccounts
	}
	deadline := d.opTimeout(opName)
	val, err := timeout.WithTimeout(ctx, deadline, opName, func(tctx context.Context) (any, error) {
		return op(tctx, d.cfg.GuestSession.Client(), accountstore.Account{})
	})
	if err != nil {
		return nil, fmt.Errorf("guest fallback for %s: %w", opName, err)
	}
	if d.cfg.MetricsHook != nil {
		d.cfg.MetricsHook(opName, true, false)
	}
	return val, nil
}

// reloginWithCaptcha forces a fresh credential login for acc using
// Config.CaptchaSolver to clear the login flow's ArkoseChallenge subtask,
// giving a LOCKED account one more chance before its failure is recorded
// (SUPPLEMENTED FEATURE 5, SPEC_FULL.md §5.5).
func (d *Dispatcher) reloginWithCaptcha(ctx context.Context, acc accountstore.Account) error {
	cfg := d.upstreamCfg
	cfg.CaptchaSolver = d.cfg.CaptchaSolver
	client, err := upstream.New(cfg, acc, nil, d.xtidMgr)
	if err != nil {
		return err
	}
	return upstream.ReloginWithCaptcha(ctx, client, d.cookieStore(), acc)
}

// cookieStore resolves cfg.CookieStore, falling back to the account store
// itself (file-backed cookies.json) when no override was configured.
func (d *Dispatcher) cookieStore() accountstore.CookieStore {
	if d.cfg.CookieStore != nil {
		return d.cfg.CookieStore
	}
	return d.accounts
}

func (d *Dispatcher) opTimeout(opName string) time.Duration {
	if t, ok := d.cfg.OpTimeouts[opName]; ok && t > 0 {
		return t
	}
	if t, ok := d.cfg.OpTimeouts[""]; ok && t > 0 {
		return t
	}
	return 30 * time.Second
}

// selectAccount implements spec.md §4.8's filter-then-sort selection:
// eligible accounts (not DISABLED/LOCKED, not in an unexpired COOLDOWN,
// under the account-wide rate window, and under opName's per-endpoint
// window per SUPPLEMENTED FEATURE 2, SPEC_FULL.md §5.2) sorted
// HEALTHY-first, then by ascending consecutive failures, then by ascending
// last-used time.
func (d *Dispatcher) selectAccount(opName string, now time.Time) (accountstore.Account, bool) {
	type candidate struct {
		acc  accountstore.Account
		snap health.Snapshot
	}

	accounts := d.accounts.ListAccounts()
	candidates := make([]candidate, 0, len(accounts))
	for _, acc := range accounts {
		if !d.health.Eligible(acc.Username, now) {
			continue
		}
		if !d.health.AllowEndpoint(acc.Username, opName, d.cfg.EndpointRateLimit, d.cfg.EndpointRateWindow, now) {
			continue
		}
		candidates = append(candidates, candidate{acc, d.health.Snapshot(acc.Username, now)})
	}
	if len(candidates) == 0 {
		return accountstore.Account{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].snap, candidates[j].snap
		if (si.Status == health.Healthy) != (sj.Status == health.Healthy) {
			return si.Status == health.Healthy
		}
		if si.ConsecutiveFailures != sj.ConsecutiveFailures {
			return si.ConsecutiveFailures < sj.ConsecutiveFailures
		}
		return si.LastUsed.Before(sj.LastUsed)
	})
	return candidates[0].acc, true
}

// shouldRetryKind implements spec.md §7's propagation policy, which is
// wider than classify.IsTransient: RATE_LIMIT and ACCOUNT_LOCKED are not
// retried on the same account (the health registry already cooled or
// locked it), but the dispatcher still retries the request itself on a
// different account if any remain. Only AUTH and NOT_FOUND propagate
// immediately.
func shouldRetryKind(kind classify.Kind) bool {
	switch kind {
	case classify.Auth, classify.NotFound:
		return false
	default:
		return true
	}
}

// retryBackoff implements spec.md §4.8 step 6: 1000*2^attempt ms plus
// uniform(0, 500)ms of jitter.
func retryBackoff(attempt int) time.Duration {
	ms := 1000*math.Pow(2, float64(attempt)) + rand.Float64()*500
	return time.Duration(ms) * time.Millisecond
}
