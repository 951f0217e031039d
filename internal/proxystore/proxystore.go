// Package proxystore loads the proxy flat-file and serves a uniformly
// random pick, per spec.md §4.5. It also tracks per-proxy health
// independent of account health (SPEC_FULL.md §5.3): a proxy that looks
// dead gets an exponential backoff, grounded directly on go-twitter's
// request.go markProxyDown/isProxyError pair, with the same
// InitialWait/MaxWait/Multiplier/JitterPct backoff shape.
package proxystore

import (
	"bufio"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"
)

// Scheme distinguishes how a Proxy's connection should be dialed.
type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeSOCKS4
)

// Proxy is immutable after Load. URL is of the form
// "http://[user:pass@]host:port/" or "socks4://[user:pass@]host:port/".
type Proxy struct {
	URL    string
	Scheme Scheme
	Host   string
	Port   string
}

// BackoffConfig mirrors go-twitter's stealth.BackoffConfig shape.
type BackoffConfig struct {
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	JitterPct   float64
}

// Duration returns the backoff duration for the given zero-based failure
// index, with +/- JitterPct jitter applied.
func (b BackoffConfig) Duration(failIndex int) time.Duration {
	if failIndex < 0 {
		failIndex = 0
	}
	d := float64(b.InitialWait) * math.Pow(b.Multiplier, float64(failIndex))
	if max := float64(b.MaxWait); max > 0 && d > max {
		d = max
	}
	if b.JitterPct > 0 {
		jitter := d * b.JitterPct
		d = d - jitter + rand.Float64()*2*jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// DefaultBackoff matches go-twitter's config.go defaults.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialWait: 30 * time.Second,
		MaxWait:     30 * time.Minute,
		Multiplier:  2.0,
		JitterPct:   0.3,
	}
}

type proxyHealth struct {
	mu           sync.Mutex
	consecFails  int
	backoffUntil time.Time
}

// Store owns the loaded proxies and their independent health state.
type Store struct {
	backoff BackoffConfig

	mu      sync.RWMutex
	proxies []Proxy

	healthMu sync.Mutex
	health   map[string]*proxyHealth
}

// Load reads path (the proxy flat-file) using the default backoff config.
func Load(path string) (*Store, error) {
	return LoadWithBackoff(path, DefaultBackoff())
}

// LoadWithBackoff reads path with an explicit BackoffConfig.
func LoadWithBackoff(path string, backoff BackoffConfig) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy file %s: %w", path, err)
	}
	defer f.Close()

	var proxies []Proxy
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimRight(scanner.Text(), "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, ok := parseProxyLine(line)
		if !ok {
			slog.Warn("skipping malformed proxy line", slog.Int("line", lineNo))
			continue
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file %s: %w", path, err)
	}

	return &Store{
		backoff: backoff,
		proxies: proxies,
		health:  make(map[string]*proxyHealth),
	}, nil
}

// parseProxyLine implements spec.md §4.5's two shapes, extended
// (SPEC_FULL.md §3) with an optional "socks4:" scheme tag prefix:
// "socks4:ip:port:user:pass" or "socks4:ip:port" select SOCKS4 dialing;
// otherwise the line is treated as a plain HTTP proxy.
func parseProxyLine(line string) (Proxy, bool) {
	scheme := SchemeHTTP
	rest := line
	if tagged, ok := strings.CutPrefix(line, "socks4:"); ok {
		scheme = SchemeSOCKS4
		rest = tagged
	}

	fields := strings.Split(rest, ":")
	var host, port, user, pass string
	switch len(fields) {
	case 2:
		host, port = fields[0], fields[1]
	case 4:
		host, port, user, pass = fields[0], fields[1], fields[2], fields[3]
	default:
		return Proxy{}, false
	}
	if host == "" || port == "" {
		return Proxy{}, false
	}

	schemeStr := "http"
	if scheme == SchemeSOCKS4 {
		schemeStr = "socks4"
	}
	var url string
	if user != "" || pass != "" {
		url = fmt.Sprintf("%s://%s:%s@%s:%s/", schemeStr, user, pass, host, port)
	} else {
		url = fmt.Sprintf("%s://%s:%s/", schemeStr, host, port)
	}

	return Proxy{URL: url, Scheme: scheme, Host: host, Port: port}, true
}

// PickRandom returns a uniformly-random eligible proxy (not currently
// backed off), or false if the store is empty or every proxy is backed off.
func (s *Store) PickRandom() (Proxy, bool) {
	return s.pickRandomAt(time.Now())
}

func (s *Store) pickRandomAt(now time.Time) (Proxy, bool) {
	s.mu.RLock()
	all := s.proxies
	s.mu.RUnlock()
	if len(all) == 0 {
		return Proxy{}, false
	}

	eligible := make([]Proxy, 0, len(all))
	for _, p := range all {
		if s.AvailableAt(p.URL, now) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return Proxy{}, false
	}
	return eligible[rand.Intn(len(eligible))], true
}

// Len reports how many proxies were loaded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.proxies)
}

func (s *Store) getOrCreateHealth(url string) *proxyHealth {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	h, ok := s.health[url]
	if !ok {
		h = &proxyHealth{}
		s.health[url] = h
	}
	return h
}

// MarkDown records a connectivity failure for url and applies the next
// exponential backoff step.
func (s *Store) MarkDown(url string) {
	s.markDownAt(url, time.Now())
}

func (s *Store) markDownAt(url string, now time.Time) {
	h := s.getOrCreateHealth(url)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecFails++
	d := s.backoff.Duration(h.consecFails - 1)
	h.backoffUntil = now.Add(d)
	slog.Warn("proxy down, backing off",
		slog.String("proxy", maskProxy(url)),
		slog.Int("consec_fails", h.consecFails),
		slog.Duration("backoff", d))
}

// MarkUp resets a proxy's consecutive-failure counter on any successful use.
func (s *Store) MarkUp(url string) {
	h := s.getOrCreateHealth(url)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecFails = 0
	h.backoffUntil = time.Time{}
}

// AvailableAt reports whether url is usable at the given instant (no
// record, or its backoff window has elapsed).
func (s *Store) AvailableAt(url string, now time.Time) bool {
	s.healthMu.Lock()
	h, ok := s.health[url]
	s.healthMu.Unlock()
	if !ok {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.After(h.backoffUntil)
}

// IsProxyError reports whether err looks like a proxy connectivity
// failure, mirroring go-twitter's isProxyError substring set.
func IsProxyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "proxy") ||
		strings.Contains(msg, "SOCKS") ||
		strings.Contains(msg, "tunnel") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// maskProxy redacts credentials from a proxy URL before logging it.
func maskProxy(url string) string {
	idx := strings.Index(url, "@")
	schemeIdx := strings.Index(url, "://")
	if idx < 0 || schemeIdx < 0 || idx < schemeIdx {
		return url
	}
	return url[:schemeIdx+3] + "***@" + url[idx+1:]
}
