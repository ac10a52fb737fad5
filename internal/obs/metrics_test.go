package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/":                       "/",
		"/graphql":                "/graphql",
		"/graphql?op=findOne":     "/graphql",
		"/health":                 "/health",
		"/metrics":                "/metrics",
		"/v1/anything":            "other",
		"/graphql/extra":          "other",
		"/.well-known/robots.txt": "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
