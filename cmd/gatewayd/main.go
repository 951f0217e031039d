// Command gatewayd runs the scraping gateway: it loads configuration,
// wires the account/proxy stores, the health registry, and the
// dispatcher, and serves the /api/v3 HTTP surface until a termination
// signal arrives. Grounded on yansircc-cc-relayer's cmd/relay/main.go
// (config load -> logging setup -> store/manager init -> server.Run)
// for the overall wiring order, and kedacore-keda's pkg/signals.go for
// the signal-to-context shutdown shape.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
	"github.com/anatolykoptev/scrapegate/internal/config"
	"github.com/anatolykoptev/scrapegate/internal/cookiestore"
	"github.com/anatolykoptev/scrapegate/internal/dispatch"
	"github.com/anatolykoptev/scrapegate/internal/health"
	"github.com/anatolykoptev/scrapegate/internal/httpapi"
	"github.com/anatolykoptev/scrapegate/internal/logging"
	"github.com/anatolykoptev/scrapegate/internal/metrics"
	"github.com/anatolykoptev/scrapegate/internal/proxystore"
	"github.com/anatolykoptev/scrapegate/internal/upstream"
	"github.com/anatolykoptev/scrapegate/internal/upstream/captcha"
	"github.com/anatolykoptev/scrapegate/internal/upstream/xtid"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogJSON)
	slog.Info("scrapegate starting", slog.String("version", version))

	accounts, err := accountstore.Load(cfg.AccountsTxtPath, cfg.CookiesJSONPath)
	if err != nil {
		slog.Error("account store load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("accounts loaded", slog.Int("count", len(accounts.ListAccounts())))

	proxies, err := proxystore.LoadWithBackoff(cfg.ProxiesTxtPath, proxystore.DefaultBackoff())
	if err != nil {
		slog.Error("proxy store load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("proxies loaded", slog.Int("count", proxies.Len()))

	healthReg := health.New(health.DefaultConfig())

	var cookieStore accountstore.CookieStore
	if cfg.CookiesBackend == "redis" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		cookieStore = cookiestore.New(client)
		slog.Info("cookie store backend: redis", slog.String("addr", cfg.RedisAddr))
	}

	var solver upstream.CaptchaSolver
	if cfg.CapsolverAPIKey != "" {
		solver = captcha.NewCapsolver(cfg.CapsolverAPIKey)
	}

	xtidMgr := xtid.NewManager(cfg.UpstreamBaseURL, "")
	if err := xtidMgr.Initialize(); err != nil {
		slog.Warn("x-client-transaction-id manager init failed, header will be omitted", slog.Any("error", err))
	}

	upstreamCfg := upstream.DefaultConfig(upstream.Config{
		BaseURL:        cfg.UpstreamBaseURL,
		LoginURL:       cfg.UpstreamLoginURL,
		GuestTokenURL:  cfg.UpstreamGuestTokenURL,
		BearerToken:    cfg.UpstreamBearerToken,
		CaptchaSolver:  solver,
		CaptchaSiteKey: cfg.CaptchaSiteKey,
	})

	m := metrics.New()

	var guestSession *upstream.GuestSession
	if upstreamCfg.GuestTokenURL != "" {
		guestClient, err := upstream.New(upstreamCfg, accountstore.Account{}, nil, xtidMgr)
		if err != nil {
			slog.Warn("guest client init failed, guest fallback disabled", slog.Any("error", err))
		} else {
			guestSession = upstream.NewGuestSession(guestClient, 30*time.Minute)
		}
	}

	d := dispatch.New(dispatch.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		QueueCapacity:  cfg.MaxQueueSize,
		OpTimeouts:     cfg.DispatchOpTimeouts(),
		MetricsHook:    m.Hook(),
		CookieStore:    cookieStore,
		GuestSession:   guestSession,
		CaptchaSolver:  solver,
	}, upstreamCfg, accounts, proxies, healthReg, xtidMgr)
	d.Start()
	defer d.Stop()

	srv := httpapi.New(httpapi.Config{
		Addr:           cfg.HTTPAddr,
		BaseURL:        cfg.UpstreamBaseURL,
		MetricsHandler: m.Handler(),
	}, d)

	go statsReporter(d, m)

	ctx := shutdownContext()
	if err := srv.Run(ctx); err != nil {
		slog.Error("http server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("scrapegate stopped")
}

// statsReporter periodically snapshots the dispatcher into the metrics
// registry's gauges, since GetStats is pull-style but Prometheus gauges
// are push-style (see internal/metrics.Metrics.ObserveStats).
func statsReporter(d *dispatch.Dispatcher, m *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.ObserveStats(d.GetStats())
	}
}

// shutdownContext returns a context cancelled on the first SIGINT/SIGTERM;
// a second signal forces an immediate exit, matching kedacore-keda's
// pkg/signals.Context double-signal shape.
func shutdownContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
		sig = <-sigCh
		slog.Error("second signal received during shutdown, exiting immediately", slog.String("signal", sig.String()))
		os.Exit(1)
	}()
	return ctx
}
