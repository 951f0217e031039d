// Package classify maps opaque upstream error messages to a small set of
// error kinds, so the dispatcher can decide what to retry and the HTTP
// layer can decide what status code to return.
package classify

import "strings"

// Kind is the result of classifying an error message.
type Kind int

const (
	Unknown Kind = iota
	Timeout
	Network
	RateLimit
	Auth
	NotFound
	AccountLocked
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "TIMEOUT"
	case Network:
		return "NETWORK"
	case RateLimit:
		return "RATE_LIMIT"
	case Auth:
		return "AUTH"
	case NotFound:
		return "NOT_FOUND"
	case AccountLocked:
		return "ACCOUNT_LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Classify inspects message with ordered, case-insensitive substring rules;
// the first rule that matches wins.
func Classify(message string) Kind {
	m := strings.ToLower(message)

	if containsAny(m, "timeout", "timed out") {
		return Timeout
	}
	if containsAny(m, "network", "fetch failed", "connection", "socket", "econnreset", "enotfound") {
		return Network
	}
	if containsAny(m, "rate limit", "too many requests", "429") {
		return RateLimit
	}
	if containsAny(m, "unauthorized", "401", "authentication failed") ||
		(strings.Contains(m, "status") && strings.Contains(m, "403")) {
		return Auth
	}
	if containsAny(m, "not found", "404") {
		return NotFound
	}
	if containsAny(m, "locked", "suspended", "verify your identity") {
		return AccountLocked
	}
	return Unknown
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsTransient reports whether kind is worth retrying, possibly with a
// different account or proxy.
func IsTransient(kind Kind) bool {
	switch kind {
	case Timeout, Network, Unknown:
		return true
	default:
		return false
	}
}

// ToExternalStatus maps an error kind to the HTTP status the API surface
// should return to its own caller.
func ToExternalStatus(kind Kind) int {
	switch kind {
	case RateLimit:
		return 429
	case Auth:
		return 401
	case NotFound:
		return 404
	case AccountLocked:
		return 503
	case Timeout, Network:
		return 502
	default:
		return 500
	}
}

// Truncate caps a user-visible message at n characters to avoid leaking
// verbose upstream stack traces.
func Truncate(message string, n int) string {
	if len(message) <= n {
		return message
	}
	return message[:n] + "..."
}
