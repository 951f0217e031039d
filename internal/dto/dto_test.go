package dto

import "testing"

func TestCountRange_Clamp(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 5},
		{"0", 1},
		{"-3", 1},
		{"50", 50},
		{"500", 100},
		{"not-a-number", 5},
	}
	for _, c := range cases {
		if got := TweetsCount.Clamp(c.raw); got != c.want {
			t.Errorf("TweetsCount.Clamp(%q) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestParseSearchMode(t *testing.T) {
	if ParseSearchMode("latest") != SearchLatest {
		t.Fatal("expected latest")
	}
	if ParseSearchMode("top") != SearchTop {
		t.Fatal("expected top")
	}
	if ParseSearchMode("") != SearchTop {
		t.Fatal("expected default top")
	}
	if ParseSearchMode("garbage") != SearchTop {
		t.Fatal("expected unrecognized value to default to top")
	}
}

func TestOKAndFail(t *testing.T) {
	ok := OK("done", 42)
	if !ok.Success || ok.Message != "done" || ok.Data != 42 {
		t.Fatalf("unexpected OK envelope: %+v", ok)
	}
	fail := Fail("bad", "e1", "e2")
	if fail.Success {
		t.Fatal("expected Success=false")
	}
	if len(fail.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", fail.Errors)
	}
}
