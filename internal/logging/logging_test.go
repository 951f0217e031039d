package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSetup_JSONHandlerEmitsJSONLines(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stderr")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Setup binds its handler to os.Stderr at call time, so point it at f.
	origStderr := os.Stderr
	os.Stderr = f
	Setup("info", true)
	os.Stderr = origStderr
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	slog.Info("hello", slog.String("k", "v"))

	out, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"msg":"hello"`) {
		t.Fatalf("expected JSON-formatted log line, got %q", string(out))
	}
}

func TestSetup_DebugLevelEnablesDebugLogs(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: resolveLevel("debug")})
	logger := slog.New(handler)

	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatal("expected debug-level message to be emitted at debug level")
	}
}

func TestSetup_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: resolveLevel("bogus")})
	logger := slog.New(handler)

	logger.Debug("should not appear")
	logger.Info("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatal("expected debug message suppressed at default info level")
	}
	if !strings.Contains(out, "should appear") {
		t.Fatal("expected info message to be emitted")
	}
}
