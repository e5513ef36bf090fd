package redact

import (
	"strings"
	"testing"
)

func TestScrubSecretsInText(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		mustNot []string // substrings that must not survive
		must    []string // substrings that must remain
	}{
		{
			name:    "authorization bearer header",
			in:      `request failed: Authorization: Bearer sk_live_abc123XYZ`,
			mustNot: []string{"sk_live_abc123XYZ"},
			must:    []string{"Authorization", RedactedValue},
		},
		{
			name:    "zammad token header",
			in:      `upstream rejected Token token=abcdef0123456789`,
			mustNot: []string{"abcdef0123456789"},
			must:    []string{"Token token=" + RedactedValue},
		},
		{
			name:    "common key value secret",
			in:      `connection refused: password=sup3rSecret!`,
			mustNot: []string{"sup3rSecret!"},
			must:    []string{"password=" + RedactedValue},
		},
		{
			name:    "webhook hmac secret field",
			in:      `webhook_hmac_secret=whs_abCDef12`,
			mustNot: []string{"whs_abCDef12"},
		},
		{
			name:    "query string secret",
			in:      `GET https://tms.example.com/api?access_token=xyz789&foo=bar`,
			mustNot: []string{"xyz789"},
			must:    []string{"foo=bar"},
		},
		{
			name: "plain message untouched",
			in:   "ticket 42 could not be rendered: template error on line 3",
			must: []string{"ticket 42 could not be rendered: template error on line 3"},
		},
		{
			name: "empty string",
			in:   "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := ScrubSecretsInText(tc.in)
			for _, s := range tc.mustNot {
				if strings.Contains(out, s) {
					t.Fatalf("expected %q to be scrubbed from %q, got %q", s, tc.in, out)
				}
			}
			for _, s := range tc.must {
				if !strings.Contains(out, s) {
					t.Fatalf("expected %q to remain in %q, got %q", s, tc.in, out)
				}
			}
		})
	}
}

func TestScrubSecretsInText_Idempotent(t *testing.T) {
	in := "Authorization: Bearer abc123 and password=xyz"
	once := ScrubSecretsInText(in)
	twice := ScrubSecretsInText(once)
	if once != twice {
		t.Fatalf("scrubbing should be idempotent: %q != %q", once, twice)
	}
}
