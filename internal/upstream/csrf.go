package upstream

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// csrfMaxAge is the CSRF-cookie age threshold carried over from
// go-twitter's ct0MaxAge (SUPPLEMENTED FEATURE 1, SPEC_FULL.md §5.1).
// Nothing reads it: CSRF cookies are rotated only reactively, through
// RotateCredential, never because of their age.
const csrfMaxAge = 4 * time.Hour

// GenerateCSRFToken produces a random 32-byte hex string, mirroring
// go-twitter's GenerateCT0: used when a session has no CSRF cookie of its
// own to seed one before the first request.
func GenerateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", 64)
	}
	return hex.EncodeToString(b)
}

// extractCSRFFromSetCookie parses a CSRF cookie value out of a raw
// Set-Cookie header value, mirroring go-twitter's extractCT0FromHeaders.
func extractCSRFFromSetCookie(setCookie, cookieName string) string {
	if setCookie == "" {
		return ""
	}
	prefix := cookieName + "="
	for _, part := range strings.Split(setCookie, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, prefix) {
			if val := strings.TrimPrefix(part, prefix); val != "" {
				return val
			}
		}
	}
	return ""
}

// isCSRFError reports whether an error message signals a failed/expired
// CSRF token, the trigger for SUPPLEMENTED FEATURE 1's in-place micro-retry.
func isCSRFError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "csrf") || strings.Contains(lower, "x-csrf-token")
}
