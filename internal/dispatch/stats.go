package dispatch

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/anatolykoptev/scrapegate/internal/health"
)

// AccountStats summarizes the account population's health distribution.
type AccountStats struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Probation int `json:"probation"`
	Cooldown  int `json:"cooldown"`
	Disabled  int `json:"disabled"`
	Locked    int `json:"locked"`
}

// ProxyStats summarizes the proxy population.
type ProxyStats struct {
	Total int `json:"total"`
}

// QueueStats reports queue depth against its configured capacity. Unlike
// the source this spec was distilled from, MaxSize here is always the
// queue's configured capacity, not a hardcoded 1000 (spec.md §9).
type QueueStats struct {
	Depth   int `json:"depth"`
	MaxSize int `json:"maxSize"`
}

// ConcurrencyStats reports how much of the concurrency budget is in use.
type ConcurrencyStats struct {
	Active int `json:"active"`
	Max    int `json:"max"`
}

// PerAccountStats is one account's entry in Stats.PerAccount.
type PerAccountStats struct {
	Status      string  `json:"status"`
	Requests    int     `json:"requests"`
	SuccessRate float64 `json:"successRate"` // percent, 0-100
}

// Stats is the GetStats() snapshot of spec.md §4.8.
type Stats struct {
	Accounts    AccountStats               `json:"accounts"`
	Proxies     ProxyStats                 `json:"proxies"`
	Queue       QueueStats                 `json:"queue"`
	Concurrency ConcurrencyStats           `json:"concurrency"`
	PerAccount  map[string]PerAccountStats `json:"perAccount"`
}

// StatsSnapshot is one entry of GetStatsHistory's ring buffer: a Stats
// reading plus the time it was taken.
type StatsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Stats     Stats     `json:"stats"`
}

// statsHistoryCapacity is the ring buffer size SUPPLEMENTED FEATURE 7
// (SPEC_FULL.md §5.7) specifies: the last 200 GetStats readings, kept only
// in memory.
const statsHistoryCapacity = 200

// GetStats returns a point-in-time snapshot of the dispatcher's state.
func (d *Dispatcher) GetStats() Stats {
	now := time.Now()
	accounts := d.accounts.ListAccounts()

	var as AccountStats
	as.Total = len(accounts)
	perAccount := make(map[string]PerAccountStats, len(accounts))

	for _, acc := range accounts {
		snap := d.health.Snapshot(acc.Username, now)
		switch snap.Status {
		case health.Healthy:
			as.Healthy++
		case health.Probation:
			as.Probation++
		case health.Cooldown:
			as.Cooldown++
		case health.Disabled:
			as.Disabled++
		case health.Locked:
			as.Locked++
		}
		perAccount[acc.Username] = PerAccountStats{
			Status:      snap.Status.String(),
			Requests:    snap.RequestCount,
			SuccessRate: math.Round(snap.SuccessRate*10000) / 100,
		}
	}

	stats := Stats{
		Accounts: as,
		Proxies:  ProxyStats{Total: d.proxies.Len()},
		Queue:    QueueStats{Depth: d.q.Len(), MaxSize: d.q.Capacity()},
		Concurrency: ConcurrencyStats{
			Active: int(atomic.LoadInt32(&d.active)),
			Max:    d.cfg.MaxConcurrency,
		},
		PerAccount: perAccount,
	}
	d.recordStatsHistory(StatsSnapshot{Timestamp: now, Stats: stats})
	return stats
}

// recordStatsHistory appends snap to the ring buffer, trimming to
// statsHistoryCapacity entries.
func (d *Dispatcher) recordStatsHistory(snap StatsSnapshot) {
	d.statsHistMu.Lock()
	defer d.statsHistMu.Unlock()
	d.statsHist = append(d.statsHist, snap)
	if len(d.statsHist) > statsHistoryCapacity {
		d.statsHist = d.statsHist[len(d.statsHist)-statsHistoryCapacity:]
	}
}

// GetStatsHistory returns every GetStats reading taken so far, oldest
// first, capped at the last 200 (SPEC_FULL.md §5.7). It is exposed at
// GET /api/v3/stats/history.
func (d *Dispatcher) GetStatsHistory() []StatsSnapshot {
	d.statsHistMu.Lock()
	defer d.statsHistMu.Unlock()
	out := make([]StatsSnapshot, len(d.statsHist))
	copy(out, d.statsHist)
	return out
}
