package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"401 status code", "request failed with status 401", "API key invalid or expired. Check your key."},
		{"403 status code", "error: 403 Forbidden", "API key invalid or expired. Check your key."},
		{"429 rate limit", "got 429 from upstream", "Rate limited. Check proxy quota."},
		{"503 unavailable", "proxy returned 503", "Service unavailable. Check proxy status."},
		{"connection refused", "dial tcp: connect: ECONNREFUSED", "Connection refused. Check base URL."},
		{"dns failure", "lookup api.example.com: ENOTFOUND", "DNS resolution failed. Check network."},
		{"unmatched passes through raw", "something unexpected happened", "something unexpected happened"},
		{"embedded digits are not a status code", "request id 40112345 failed", "request id 40112345 failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.raw))
		})
	}
}
