// Package logging configures the process-wide default slog logger, per
// SPEC_FULL.md §2's ambient stack — grounded on opus-domini-sentinel's
// cmd/sentinel/main.go initLogger (level-string switch feeding
// slog.HandlerOptions) combined with yansircc-cc-relayer's main.go
// (slog.SetDefault(slog.New(handler)) at startup), generalized to also
// pick between Text and JSON handlers for local-dev vs. production
// deployments. The rest of this tree (go-twitter's account.go/auth.go/
// client.go idiom, kept throughout internal/accountstore, internal/
// upstream, etc.) calls the package-level slog.Info/Warn/Debug functions
// directly against whatever default this sets.
package logging

import (
	"log/slog"
	"os"
)

// Setup installs a process-wide default slog logger. level is one of
// "debug", "info" (default), "warn", "error"; json selects
// slog.NewJSONHandler over slog.NewTextHandler.
func Setup(level string, json bool) {
	opts := &slog.HandlerOptions{Level: resolveLevel(level)}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func resolveLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
