package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/v1/engagements/01ABC":   "/v1/engagements/:id",
		"/v1/engagements":         "/v1/engagements",
		"/v1/messages":            "/v1/messages",
		"/v1/quota?resource=x":    "/v1/quota",
		"/v1/sat/token":           "/v1/sat/token",
		"/v1/engagements/a/extra": "/v1/engagements/a/extra",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
