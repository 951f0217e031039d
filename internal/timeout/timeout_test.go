package timeout

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_Fires(t *testing.T) {
	_, err := WithTimeout(context.Background(), 50*time.Millisecond, "slow-op", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		// simulate a never-resolving operation by blocking past the deadline
		time.Sleep(time.Second)
		return 1, nil
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if err.Error() != "slow-op timed out after 50ms" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWithTimeout_Success(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, "fast-op", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestWithTimeout_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	_, err := WithTimeout(context.Background(), time.Second, "op", func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
}
