// Package health implements the per-account health state machine and
// sliding-window rate bookkeeping described in spec.md §3 (AccountHealth)
// and §4.6 (HealthRegistry). The map+mutex-per-identity shape and the
// prune-in-place-then-append sliding window are grounded on
// NodeNestor-CodeGate's internal/cooldown and internal/ratelimit packages;
// the EMA success rate and the five-state machine (HEALTHY / PROBATION /
// COOLDOWN / DISABLED / LOCKED) are this spec's own resolution of the
// "successRate mixes two formulas" open question noted in spec.md §9.
package health

import (
	"sync"
	"time"

	"github.com/anatolykoptev/scrapegate/internal/classify"
)

// Status is a point in the account health state machine.
type Status int

const (
	Healthy Status = iota
	Probation
	Cooldown
	Disabled
	Locked
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Probation:
		return "PROBATION"
	case Cooldown:
		return "COOLDOWN"
	case Disabled:
		return "DISABLED"
	case Locked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Config controls the thresholds the state machine and sliding window use.
type Config struct {
	CooldownWindow         time.Duration // default 2 minutes
	MaxConsecutiveFailures int           // default 10
	RateWindow             time.Duration // default 15 minutes
	MaxRequestsPerWindow   int           // default 50
}

// DefaultConfig matches the defaults in spec.md §4.6.
func DefaultConfig() Config {
	return Config{
		CooldownWindow:         2 * time.Minute,
		MaxConsecutiveFailures: 10,
		RateWindow:             15 * time.Minute,
		MaxRequestsPerWindow:   50,
	}
}

// Snapshot is an immutable, consistent read of one account's health record.
type Snapshot struct {
	Status               Status
	LastUsed             time.Time
	RequestCount         int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	CooldownUntil        time.Time
	LastErrorKind        classify.Kind
	LastErrorAt          time.Time
	SuccessRate          float64
	WindowCount          int // requests within the rate window, as of the snapshot
}

type record struct {
	mu sync.Mutex

	status               Status
	lastUsed             time.Time
	requestCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	cooldownUntil        time.Time
	lastErrorKind        classify.Kind
	lastErrorAt          time.Time
	successRate          float64
	recentTimestamps     []time.Time

	endpointWindows map[string][]time.Time // supplemented per-endpoint limiter, see SPEC_FULL.md §5.2
}

func newRecord() *record {
	return &record{
		status:          Healthy,
		successRate:     1.0,
		endpointWindows: make(map[string][]time.Time),
	}
}

// Registry owns one record per account screen-name, keyed by a weak
// reference: if the account disappears from the AccountStore its entry is
// simply orphaned (spec.md §3 Ownership).
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	records map[string]*record
}

// New creates a Registry with the given config. A zero Config is replaced
// with DefaultConfig.
func New(cfg Config) *Registry {
	if cfg.CooldownWindow == 0 {
		cfg = DefaultConfig()
	}
	return &Registry{cfg: cfg, records: make(map[string]*record)}
}

func (r *Registry) getOrCreate(username string) *record {
	r.mu.RLock()
	rec, ok := r.records[username]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok = r.records[username]
	if ok {
		return rec
	}
	rec = newRecord()
	r.records[username] = rec
	return rec
}

// Touch lazily initialises a record without recording an outcome.
func (r *Registry) Touch(username string) {
	r.getOrCreate(username)
}

// Snapshot returns a consistent read of one account's health.
func (r *Registry) Snapshot(username string, now time.Time) Snapshot {
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshotLocked(now, r.cfg.RateWindow)
}

func (rec *record) snapshotLocked(now time.Time, window time.Duration) Snapshot {
	return Snapshot{
		Status:               rec.status,
		LastUsed:             rec.lastUsed,
		RequestCount:         rec.requestCount,
		ConsecutiveFailures:  rec.consecutiveFailures,
		ConsecutiveSuccesses: rec.consecutiveSuccesses,
		CooldownUntil:        rec.cooldownUntil,
		LastErrorKind:        rec.lastErrorKind,
		LastErrorAt:          rec.lastErrorAt,
		SuccessRate:          rec.successRate,
		WindowCount:          countWithin(rec.recentTimestamps, now, window),
	}
}

// RecordSuccess records a successful attempt at now.
func (r *Registry) RecordSuccess(username string, now time.Time) {
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.requestCount++
	rec.consecutiveSuccesses++
	rec.consecutiveFailures = 0
	rec.recentTimestamps = append(rec.recentTimestamps, now)
	rec.successRate = rec.successRate*0.9 + 0.1
	rec.lastUsed = now

	if rec.status == Probation && rec.consecutiveSuccesses >= 3 {
		rec.status = Healthy
	}
}

// RecordFailure records a failed attempt of the given kind at now and
// applies the state machine transitions of spec.md §4.6.
func (r *Registry) RecordFailure(username string, kind classify.Kind, cfg Config, now time.Time) {
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if cfg.CooldownWindow == 0 {
		cfg = r.cfg
	}

	rec.requestCount++
	rec.consecutiveFailures++
	rec.consecutiveSuccesses = 0
	rec.recentTimestamps = append(rec.recentTimestamps, now)
	rec.successRate = rec.successRate * 0.9
	rec.lastErrorKind = kind
	rec.lastErrorAt = now
	rec.lastUsed = now

	switch rec.status {
	case Healthy, Probation:
		switch {
		case kind == classify.AccountLocked:
			rec.status = Locked
		case kind == classify.RateLimit:
			rec.status = Cooldown
			rec.cooldownUntil = now.Add(cfg.CooldownWindow)
		case rec.consecutiveFailures >= cfg.MaxConsecutiveFailures:
			rec.status = Cooldown
			rec.cooldownUntil = now.Add(cfg.CooldownWindow)
		}
	case Cooldown, Locked, Disabled:
		// terminal or already cooling: counters still bumped above, no transition.
	}
}

// Disable forces DISABLED, terminal until the next AccountStore reload.
func (r *Registry) Disable(username string) {
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.status = Disabled
}

// Reload clears every record's status back to HEALTHY, modelling an
// operator reload of the account population (spec.md §8 property 7).
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*record)
}

// Sweep prunes every record's sliding windows to cfg.RateWindow and
// promotes any COOLDOWN record whose deadline has passed to PROBATION,
// per spec.md §4.6's periodic sweep. Call at least every two minutes.
func (r *Registry) Sweep(now time.Time) {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	for _, rec := range recs {
		rec.mu.Lock()
		rec.recentTimestamps = pruneWithin(rec.recentTimestamps, now, r.cfg.RateWindow)
		for ep, ts := range rec.endpointWindows {
			rec.endpointWindows[ep] = pruneWithin(ts, now, r.cfg.RateWindow)
		}
		if rec.status == Cooldown && now.After(rec.cooldownUntil) {
			rec.status = Probation
			rec.consecutiveFailures = 0
		}
		rec.mu.Unlock()
	}
}

// Eligible reports whether the account may currently be selected for
// dispatch: not DISABLED/LOCKED, not in an unexpired COOLDOWN, and under
// the rate window cap.
func (r *Registry) Eligible(username string, now time.Time) bool {
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status == Disabled || rec.status == Locked {
		return false
	}
	if rec.status == Cooldown && now.Before(rec.cooldownUntil) {
		return false
	}
	count := countWithin(rec.recentTimestamps, now, r.cfg.RateWindow)
	return count < r.cfg.MaxRequestsPerWindow
}

// AllowEndpoint reports whether username may make a request to endpoint
// right now, honoring the per-endpoint sliding window supplemented in
// SPEC_FULL.md §5.2. A zero limit disables the per-endpoint check.
func (r *Registry) AllowEndpoint(username, endpoint string, limit int, window time.Duration, now time.Time) bool {
	if limit <= 0 {
		return true
	}
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	count := countWithin(rec.endpointWindows[endpoint], now, window)
	return count < limit
}

// RecordEndpointAttempt appends an attempt timestamp to the per-endpoint window.
func (r *Registry) RecordEndpointAttempt(username, endpoint string, now time.Time) {
	rec := r.getOrCreate(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.endpointWindows[endpoint] = append(rec.endpointWindows[endpoint], now)
}

// Config returns the registry's configured thresholds.
func (r *Registry) Config() Config { return r.cfg }

func pruneWithin(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	if window <= 0 {
		return ts
	}
	cutoff := now.Add(-window)
	pruned := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}

func countWithin(ts []time.Time, now time.Time, window time.Duration) int {
	if window <= 0 {
		return len(ts)
	}
	cutoff := now.Add(-window)
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
