package accountstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAccountLine_OTPAuthColons(t *testing.T) {
	line := "user:pass:a@b.com:ep:otpauth://totp/Twitter:secret=ABC:longct0:token"
	acc, ok := parseAccountLine(line)
	if !ok {
		t.Fatal("expected line to parse")
	}
	if acc.TwoFactor != "Twitter:secret=ABC" {
		t.Fatalf("expected TwoFactor 'Twitter:secret=ABC', got %q", acc.TwoFactor)
	}
	if acc.CT0 != "longct0" {
		t.Fatalf("expected ct0 'longct0', got %q", acc.CT0)
	}
	if acc.AuthToken != "token" {
		t.Fatalf("expected auth_token 'token', got %q", acc.AuthToken)
	}
}

func TestParseAccountLine_TooFewFields(t *testing.T) {
	if _, ok := parseAccountLine("user:pass:a@b.com"); ok {
		t.Fatal("expected too-few-fields line to be rejected")
	}
}

func TestRoundTrip_NoColonBearingTwoFactor(t *testing.T) {
	original := Account{
		Username: "user", Password: "pass", Email: "a@b.com",
		EmailPassword: "ep", TwoFactor: "ABC123", CT0: "ct0val", AuthToken: "tok",
	}
	line := Render(original)
	parsed, ok := parseAccountLine(line)
	if !ok {
		t.Fatal("expected rendered line to parse")
	}
	if diff := cmp.Diff(original, parsed); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_SkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.txt")
	content := "# comment\n\nuser1:pass1:e1@x.com:ep1:2fa1:ct01:tok1\nbadline\nuser2:pass2:e2@x.com:ep2::ct02:tok2\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := Load(path, filepath.Join(dir, "cookies.json"))
	if err != nil {
		t.Fatal(err)
	}
	accounts := store.ListAccounts()
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d: %+v", len(accounts), accounts)
	}
	if accounts[0].Username != "user1" || accounts[1].Username != "user2" {
		t.Fatalf("unexpected usernames: %+v", accounts)
	}
	if accounts[1].TwoFactor != "" {
		t.Fatalf("expected empty 2fa for user2, got %q", accounts[1].TwoFactor)
	}
}

func TestListAccounts_IsDefensiveCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.txt")
	content := "user1:pass1:e1@x.com:ep1:2fa1:ct01:tok1\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	store, err := Load(path, filepath.Join(dir, "cookies.json"))
	if err != nil {
		t.Fatal(err)
	}

	copy1 := store.ListAccounts()
	copy1[0].Username = "mutated"

	copy2 := store.ListAccounts()
	if copy2[0].Username != "user1" {
		t.Fatalf("mutation of one copy leaked into the store: %q", copy2[0].Username)
	}
}

func TestSaveCookies_IdempotentAndUpserts(t *testing.T) {
	dir := t.TempDir()
	accPath := filepath.Join(dir, "accounts.txt")
	if err := os.WriteFile(accPath, []byte("user1:pass1:e1@x.com:ep1:2fa1:ct01:tok1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cookiePath := filepath.Join(dir, "cookies.json")
	store, err := Load(accPath, cookiePath)
	if err != nil {
		t.Fatal(err)
	}

	acc := store.ListAccounts()[0]
	if err := store.SaveCookies(acc, []string{"a=1", "b=2"}); err != nil {
		t.Fatal(err)
	}
	data1, err := os.ReadFile(cookiePath)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SaveCookies(acc, []string{"a=1", "b=2"}); err != nil {
		t.Fatal(err)
	}
	data2, err := os.ReadFile(cookiePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data1) != string(data2) {
		t.Fatalf("expected idempotent save to leave file byte-identical:\n%s\nvs\n%s", data1, data2)
	}

	loaded, err := store.LoadCookies("user1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a=1", "b=2"}, loaded); diff != "" {
		t.Fatalf("loaded cookies mismatch (-want +got):\n%s", diff)
	}

	// Upsert a second account and confirm both entries survive.
	acc2 := Account{Username: "user2", Password: "p2"}
	if err := store.SaveCookies(acc2, []string{"c=3"}); err != nil {
		t.Fatal(err)
	}
	loaded1, _ := store.LoadCookies("user1")
	loaded2, _ := store.LoadCookies("user2")
	if diff := cmp.Diff([]string{"a=1", "b=2"}, loaded1); diff != "" {
		t.Fatalf("user1 cookies mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c=3"}, loaded2); diff != "" {
		t.Fatalf("user2 cookies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadCookies_MissingFile(t *testing.T) {
	dir := t.TempDir()
	accPath := filepath.Join(dir, "accounts.txt")
	if err := os.WriteFile(accPath, []byte("user1:pass1:e1@x.com:ep1:2fa1:ct01:tok1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	store, err := Load(accPath, filepath.Join(dir, "does-not-exist.json"))
	if err != nil {
		t.Fatal(err)
	}
	cookies, err := store.LoadCookies("user1")
	if err != nil {
		t.Fatal(err)
	}
	if cookies != nil {
		t.Fatalf("expected nil cookies for missing file, got %v", cookies)
	}
}
