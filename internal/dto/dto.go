// Package dto holds the HTTP-facing response envelope and per-route
// count-clamping rules of spec.md §6. It has no dependency on the
// dispatcher or upstream packages so internal/httpapi's wire shape can be
// tested without constructing either.
package dto

import "strconv"

// Envelope is the {success, message, data, errors} wrapper every
// /api/v3 route responds with.
type Envelope struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// OK builds a successful envelope.
func OK(message string, data any) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

// Fail builds a failed envelope. errs may be nil.
func Fail(message string, errs ...string) Envelope {
	return Envelope{Success: false, Message: message, Errors: errs}
}

// CountRange clamps a route's ?count= query parameter, per spec.md §6:
// tweets 1-100 (default 5), search 1-100 (default 20), follows 1-200
// (default 50).
type CountRange struct {
	Min, Max, Default int
}

var (
	TweetsCount  = CountRange{Min: 1, Max: 100, Default: 5}
	SearchCount  = CountRange{Min: 1, Max: 100, Default: 20}
	FollowsCount = CountRange{Min: 1, Max: 200, Default: 50}
)

// Clamp parses raw (the raw query string value, "" if absent) and clamps
// it into [Min, Max], falling back to Default on an empty or unparseable
// value.
func (r CountRange) Clamp(raw string) int {
	if raw == "" {
		return r.Default
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return r.Default
	}
	if n < r.Min {
		return r.Min
	}
	if n > r.Max {
		return r.Max
	}
	return n
}

// SearchMode is the ?mode= parameter on GET /search: "latest" or "top".
type SearchMode string

const (
	SearchLatest SearchMode = "latest"
	SearchTop    SearchMode = "top"
)

// ParseSearchMode defaults an empty or unrecognized value to "top".
func ParseSearchMode(raw string) SearchMode {
	if SearchMode(raw) == SearchLatest {
		return SearchLatest
	}
	return SearchTop
}
