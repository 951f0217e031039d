package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
	"github.com/anatolykoptev/scrapegate/internal/dispatch"
	"github.com/anatolykoptev/scrapegate/internal/health"
	"github.com/anatolykoptev/scrapegate/internal/proxystore"
	"github.com/anatolykoptev/scrapegate/internal/upstream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	accountsPath := filepath.Join(dir, "accounts.txt")
	if err := os.WriteFile(accountsPath, []byte("alice:pw:alice@example.com:epw:secret:ct0tok:authtok\n"), 0600); err != nil {
		t.Fatal(err)
	}
	accounts, err := accountstore.Load(accountsPath, filepath.Join(dir, "cookies.json"))
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
	d := dispatch.New(dispatch.Config{}, ucfg, accounts, proxies, hreg, nil)

	return New(Config{BaseURL: "https://upstream.example.com"}, d)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPrefix+"/health", nil)
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPrefix+"/stats", nil)
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Accounts struct {
				Total int `json:"total"`
			} `json:"accounts"`
			Queue struct {
				MaxSize int `json:"maxSize"`
			} `json:"queue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.Accounts.Total != 1 {
		t.Fatalf("expected 1 account, got %d", env.Data.Accounts.Total)
	}
	if env.Data.Queue.MaxSize != 1000 {
		t.Fatalf("expected default queue capacity 1000, got %d", env.Data.Queue.MaxSize)
	}
}

func TestHandleStatsHistory_RecordsEachGetStatsReading(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, apiPrefix+"/stats", nil)
	s.httpServer.Handler.ServeHTTP(httptest.NewRecorder(), req)
	s.httpServer.Handler.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	histReq := httptest.NewRequest(http.MethodGet, apiPrefix+"/stats/history", nil)
	s.httpServer.Handler.ServeHTTP(rec, histReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Success bool `json:"success"`
		Data    []struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
	if len(env.Data) < 2 {
		t.Fatalf("expected at least 2 recorded readings, got %d", len(env.Data))
	}
}

// TestHandleTweets_AdmitsAndRespectsRequestDeadline exercises the route
// parsing (path param + count clamp) and the admission path without
// Start()ing the dispatcher's scheduler, so the request is admitted but
// never drained; a short request context deadline forces fut.Wait to
// return a timeout rather than hang the test indefinitely.
func TestHandleTweets_AdmitsAndRespectsRequestDeadline(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, apiPrefix+"/tweets/alice?count=999", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError && rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected a timeout-shaped error status, got %d: %s", rec.Code, rec.Body.String())
	}
}
