// Package timeout races a pending operation against a named deadline, in
// the same context.WithTimeout idiom the teacher uses for its login flow.
package timeout

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn and returns its result if it settles within d.
// Otherwise it returns a zero value and an error with the literal message
// "<name> timed out after <ms>ms". Cancelling fn's context when the
// deadline fires is best-effort: fn observes ctx.Done() but this function
// does not wait for fn to actually return before reporting the timeout.
func WithTimeout[T any](ctx context.Context, d time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	resultCh := make(chan struct {
		val T
		err error
	}, 1)

	go func() {
		val, err := fn(cctx)
		resultCh <- struct {
			val T
			err error
		}{val, err}
	}()

	select {
	case res := <-resultCh:
		return res.val, res.err
	case <-cctx.Done():
		return zero, fmt.Errorf("%s timed out after %dms", name, d.Milliseconds())
	}
}
