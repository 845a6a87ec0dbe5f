// Package classifier maps a raw agent-returned error into a stable,
// user-facing taxonomy. Pure function; invoked only on the ask executor's
// error path, never on successful completions (spec §4.5/§9).
package classifier

import (
	"regexp"
	"strings"
)

var standalone401or403 = regexp.MustCompile(`(^|[^0-9])(401|403)([^0-9]|$)`)
var standalone429 = regexp.MustCompile(`(^|[^0-9])429([^0-9]|$)`)
var standalone503 = regexp.MustCompile(`(^|[^0-9])503([^0-9]|$)`)

// Classify maps raw (an error's string form) to a stable, user-facing
// message. Rules are applied in order; the first match wins. If nothing
// matches, the raw message is returned unchanged.
func Classify(raw string) string {
	switch {
	case standalone401or403.MatchString(raw):
		return "API key invalid or expired. Check your key."
	case standalone429.MatchString(raw):
		return "Rate limited. Check proxy quota."
	case standalone503.MatchString(raw):
		return "Service unavailable. Check proxy status."
	case strings.Contains(raw, "ECONNREFUSED"):
		return "Connection refused. Check base URL."
	case strings.Contains(raw, "ENOTFOUND"):
		return "DNS resolution failed. Check network."
	default:
		return raw
	}
}
