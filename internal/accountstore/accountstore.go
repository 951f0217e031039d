// Package accountstore loads the accounts flat-file and owns the
// cookie-cache JSON file, per spec.md §4.4. The flat-file line-splitting
// and colon-rejoin trick for otpauth:// secrets is new here — the teacher's
// ParseAccounts (account.go) only ever saw comma-separated short entries —
// but the "trim, then strip everything up through the last '/'" TOTP
// normalization mirrors how teacher treats TOTPSecret as an opaque string
// handed straight to pquerna/otp/totp.GenerateCode.
package accountstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mohae/deepcopy"
)

// Account is immutable after Load.
type Account struct {
	Username      string
	Password      string
	Email         string
	EmailPassword string
	TwoFactor     string // normalized TOTP secret, "" if absent
	CT0           string
	AuthToken     string
}

// CookieEntry is one record in the cookie-cache JSON file.
type CookieEntry struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Email    string   `json:"email"`
	TwoFA    string   `json:"twofa"`
	Cookies  []string `json:"cookies"`
}

// CookieStore is the minimal interface internal/upstream's authentication
// ladder needs to load and persist an account's cookie jar. *Store
// satisfies it directly (the file-backed default); internal/cookiestore's
// Redis-backed store is the SPEC_FULL.md §3 alternative selected via
// COOKIES_BACKEND=redis.
type CookieStore interface {
	LoadCookies(username string) ([]string, error)
	SaveCookies(acc Account, cookies []string) error
}

// Store owns the loaded accounts and the cookie-cache file.
type Store struct {
	mu         sync.Mutex
	accounts   []Account
	cookiePath string
}

// Load reads path (the accounts flat-file) and cookiePath (the cookie
// cache JSON file, which need not exist yet).
func Load(path, cookiePath string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file %s: %w", path, err)
	}
	defer f.Close()

	var accounts []Account
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		acc, ok := parseAccountLine(line)
		if !ok {
			slog.Warn("skipping malformed account line", slog.Int("line", lineNo))
			continue
		}
		accounts = append(accounts, acc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read accounts file %s: %w", path, err)
	}

	return &Store{accounts: accounts, cookiePath: cookiePath}, nil
}

// parseAccountLine implements spec.md §4.4's 7-field layout:
// username:password:email:email_password:2fa:ct0:auth_token
// where everything from field index 4 through n-3 is rejoined with ':' to
// survive otpauth:// URIs that themselves contain colons.
func parseAccountLine(line string) (Account, bool) {
	fields := strings.Split(line, ":")
	if len(fields) < 7 {
		return Account{}, false
	}
	n := len(fields)
	ct0 := fields[n-2]
	authToken := fields[n-1]
	twoFARaw := strings.Join(fields[4:n-2], ":")

	return Account{
		Username:      fields[0],
		Password:      fields[1],
		Email:         fields[2],
		EmailPassword: fields[3],
		TwoFactor:     normalizeTwoFactor(twoFARaw),
		CT0:           ct0,
		AuthToken:     authToken,
	}, true
}

// normalizeTwoFactor trims the raw field and, if it looks like an
// otpauth:// URI (or any "/"-bearing value), keeps only the text after the
// last '/' — the secret= suffix carries the actual TOTP seed.
func normalizeTwoFactor(raw string) string {
	v := strings.TrimSpace(raw)
	if idx := strings.LastIndex(v, "/"); idx >= 0 {
		v = v[idx+1:]
	}
	return strings.TrimSpace(v)
}

// Render is the inverse of parseAccountLine, used by round-trip tests
// (spec.md §8 property 5).
func Render(acc Account) string {
	return strings.Join([]string{
		acc.Username, acc.Password, acc.Email, acc.EmailPassword,
		acc.TwoFactor, acc.CT0, acc.AuthToken,
	}, ":")
}

// ListAccounts returns a defensive deep copy of the loaded accounts.
func (s *Store) ListAccounts() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := deepcopy.Copy(s.accounts)
	out, ok := cp.([]Account)
	if !ok {
		// deepcopy of a nil/zero slice can come back as a differently-typed
		// nil; fall back to a manual copy rather than return garbage.
		out = make([]Account, len(s.accounts))
		copy(out, s.accounts)
	}
	return out
}

// LoadCookies returns the cached cookie set for username, or nil if the
// file doesn't exist or has no matching entry.
func (s *Store) LoadCookies(username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readCookieFileLocked()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Username == username {
			return e.Cookies, nil
		}
	}
	return nil, nil
}

// SaveCookies upserts the cookie set for account.Username and rewrites the
// entire cookie-cache file (spec.md §4.4, §5: last-write-wins).
func (s *Store) SaveCookies(acc Account, cookies []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readCookieFileLocked()
	if err != nil {
		return err
	}

	updated := CookieEntry{
		Username: acc.Username,
		Password: acc.Password,
		Email:    acc.Email,
		TwoFA:    acc.TwoFactor,
		Cookies:  cookies,
	}
	found := false
	for i, e := range entries {
		if e.Username == acc.Username {
			entries[i] = updated
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, updated)
	}

	return s.writeCookieFileLocked(entries)
}

func (s *Store) readCookieFileLocked() ([]CookieEntry, error) {
	data, err := os.ReadFile(s.cookiePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cookie cache %s: %w", s.cookiePath, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var entries []CookieEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse cookie cache %s: %w", s.cookiePath, err)
	}
	return entries, nil
}

func (s *Store) writeCookieFileLocked(entries []CookieEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookie cache: %w", err)
	}
	tmp := s.cookiePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write cookie cache %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.cookiePath); err != nil {
		return fmt.Errorf("rename cookie cache into place: %w", err)
	}
	return nil
}
