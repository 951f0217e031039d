package xtid

import "testing"

func TestGetOnDemandFileURL(t *testing.T) {
	html := `<script>var x = {"ondemand.s":"abc123"};</script>`
	got := getOnDemandFileURL(html, "https://cdn.example.com/ondemand.s.%sa.js")
	want := "https://cdn.example.com/ondemand.s.abc123a.js"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetOnDemandFileURL_NotFound(t *testing.T) {
	if got := getOnDemandFileURL("<html></html>", "%s"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestJsRound(t *testing.T) {
	cases := map[float64]float64{
		1.4:  1,
		1.5:  2,
		-1.5: -1,
		0:    0,
	}
	for in, want := range cases {
		if got := jsRound(in); got != want {
			t.Fatalf("jsRound(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestCubicBezierEndpoints(t *testing.T) {
	c := newCubic([]float64{0, 0, 1, 1})
	if v := c.getValue(0); v != 0 {
		t.Fatalf("expected 0 at t=0, got %v", v)
	}
	if v := c.getValue(1); v != 1 {
		t.Fatalf("expected 1 at t=1, got %v", v)
	}
}

func TestInterpolate(t *testing.T) {
	got := interpolate([]float64{0, 0}, []float64{10, 20}, 0.5)
	if got[0] != 5 || got[1] != 10 {
		t.Fatalf("unexpected interpolation: %v", got)
	}
}

func TestGenerateID_NonEmpty(t *testing.T) {
	ct := &clientTransaction{keyBytes: []byte{1, 2, 3, 4, 5, 6, 7, 8}, animationKey: "abcXYZ123"}
	id1 := ct.generateID("GET", "/i/api/graphql/test?foo=bar")
	if id1 == "" {
		t.Fatal("expected non-empty transaction id")
	}
}
