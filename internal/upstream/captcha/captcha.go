// Package captcha implements the CAPTCHA-solver hook of SUPPLEMENTED
// FEATURE 5 (SPEC_FULL.md §5.5), adapted from go-twitter's captcha
// package: the login flow calls into a Solver when the upstream issues a
// challenge subtask it cannot pass on its own.
package captcha

import "context"

// Solver abstracts third-party CAPTCHA solving services.
type Solver interface {
	// Solve submits a challenge and returns the solution token. siteKey is
	// the challenge's public key, pageURL is the page that triggered it.
	Solve(ctx context.Context, siteKey, pageURL string) (token string, err error)

	// Balance returns the account balance in USD.
	Balance(ctx context.Context) (float64, error)
}
