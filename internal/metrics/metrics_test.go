package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/anatolykoptev/scrapegate/internal/dispatch"
)

func TestHook_IncrementsCountersByOperation(t *testing.T) {
	m := New()
	hook := m.Hook()

	hook("tweet", true, false)
	hook("tweet", false, true)
	hook("search", false, false)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("tweet")); got != 2 {
		t.Fatalf("expected 2 total tweet requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsSuccess.WithLabelValues("tweet")); got != 1 {
		t.Fatalf("expected 1 successful tweet request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsRateLimited.WithLabelValues("tweet")); got != 1 {
		t.Fatalf("expected 1 rate-limited tweet request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("search")); got != 1 {
		t.Fatalf("expected 1 total search request, got %v", got)
	}
}

func TestObserveStats_SetsGauges(t *testing.T) {
	m := New()
	m.ObserveStats(dispatch.Stats{
		Queue:       dispatch.QueueStats{Depth: 3, MaxSize: 1000},
		Concurrency: dispatch.ConcurrencyStats{Active: 2, Max: 10},
		Accounts:    dispatch.AccountStats{Total: 5, Healthy: 4, Cooldown: 1},
		Proxies:     dispatch.ProxyStats{Total: 7},
	})

	if got := testutil.ToFloat64(m.queueDepth); got != 3 {
		t.Fatalf("expected queue depth gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeOps); got != 2 {
		t.Fatalf("expected active ops gauge 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.accountsByStatus.WithLabelValues("healthy")); got != 4 {
		t.Fatalf("expected 4 healthy accounts, got %v", got)
	}
	if got := testutil.ToFloat64(m.accountsByStatus.WithLabelValues("cooldown")); got != 1 {
		t.Fatalf("expected 1 cooldown account, got %v", got)
	}
	if got := testutil.ToFloat64(m.proxiesTotal); got != 7 {
		t.Fatalf("expected 7 proxies total, got %v", got)
	}
}

func TestHandler_ServesExposedFamilies(t *testing.T) {
	m := New()
	m.Hook()("login", true, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scrapegate_requests_total") {
		t.Fatal("expected exposition text to contain scrapegate_requests_total")
	}
}
