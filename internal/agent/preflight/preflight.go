// Package preflight validates that an agent type can actually be spawned
// before the bridge pays the cost of doing so: binary presence, required
// credentials, and upstream reachability.
package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const probeTimeout = 5 * time.Second

var installHints = map[string]string{
	"codex":    "Install the Codex CLI and its ACP adapter (codex-acp), or run `codex mcp-server`.",
	"claude":   "Install claude-agent-acp and ensure it is on PATH.",
	"gemini":   "Install the Gemini CLI (`gemini`) and ensure it is on PATH.",
	"opencode": "Install OpenCode (`opencode`) and ensure it is on PATH.",
}

func installHint(typ string) string {
	if h, ok := installHints[typ]; ok {
		return h
	}
	return fmt.Sprintf("Install the %s binary and ensure it is on PATH.", typ)
}

// candidateBinaries returns the binary names to check for typ, in order,
// absent an explicit ACP_BRIDGE_AGENT_COMMAND override. Codex accepts either
// of two names; the caller accepts the first one present on PATH.
func candidateBinaries(typ string) []string {
	switch typ {
	case "codex":
		return []string{"codex-acp", "codex"}
	case "claude":
		return []string{"claude-agent-acp"}
	case "gemini":
		return []string{"gemini"}
	case "opencode":
		return []string{"opencode"}
	default:
		return []string{typ}
	}
}

// ResolveBinary checks whether name is available: a path containing a
// separator is checked by filesystem existence (expanding a leading "~"),
// a bare name is checked via PATH lookup.
func ResolveBinary(name string) bool {
	if name == "" {
		return false
	}
	if strings.HasPrefix(name, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			name = filepath.Join(home, strings.TrimPrefix(name, "~"))
		}
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.Contains(name, "/") {
		_, err := os.Stat(name)
		return err == nil
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckBinary implements spec §4.1 step 1: if explicitCommand is set, that
// exact executable is checked; otherwise each of typ's candidates is tried
// in order and the first present one wins.
func CheckBinary(typ, explicitCommand string) (resolved string, err error) {
	if explicitCommand != "" {
		if ResolveBinary(explicitCommand) {
			return explicitCommand, nil
		}
		return "", fmt.Errorf("%s binary not found on PATH. %s", explicitCommand, installHint(typ))
	}
	var lastCandidate string
	for _, candidate := range candidateBinaries(typ) {
		lastCandidate = candidate
		if ResolveBinary(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s binary not found on PATH. %s", lastCandidate, installHint(typ))
}

// requiredCredential returns the set of env vars of which at least one must
// be non-empty (after trim) for typ, or nil if none are required.
func requiredCredential(typ string) []string {
	switch typ {
	case "codex":
		return []string{"OPENAI_API_KEY"}
	case "claude":
		return []string{"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"}
	case "gemini":
		return []string{"GEMINI_API_KEY"}
	default:
		return nil
	}
}

// CheckCredential implements spec §4.1 step 2.
func CheckCredential(typ string, lookup func(string) string) error {
	vars := requiredCredential(typ)
	if len(vars) == 0 {
		return nil
	}
	for _, v := range vars {
		if strings.TrimSpace(lookup(v)) != "" {
			return nil
		}
	}
	return fmt.Errorf("%s is not set. Set it in environment or config.", vars[0])
}

// DefaultBaseURL returns the probe target for typ, honoring the type's
// environment override, or "" if the type has no default (spec §6).
func DefaultBaseURL(typ string, lookup func(string) string) string {
	switch typ {
	case "codex":
		if v := lookup("OPENAI_BASE_URL"); v != "" {
			return v
		}
		return "https://api.openai.com/v1"
	case "claude":
		if v := lookup("ANTHROPIC_BASE_URL"); v != "" {
			return v
		}
		return "https://api.anthropic.com"
	case "gemini":
		if v := lookup("GOOGLE_GEMINI_BASE_URL"); v != "" {
			return v
		}
		return "https://generativelanguage.googleapis.com"
	default:
		return ""
	}
}

// ProbeResult describes the outcome of a HEAD reachability probe.
type ProbeResult struct {
	Reachable  bool
	StatusCode int
	LatencyMs  int64
	Err        error
}

// ProbeEndpoint performs a one-shot HEAD request against url with a 5s
// timeout. Any status code counts as reachable; connection failures, DNS
// failures, and timeouts do not.
func ProbeEndpoint(ctx context.Context, url string) ProbeResult {
	if url == "" {
		return ProbeResult{Reachable: false, Err: fmt.Errorf("no endpoint configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ProbeResult{Reachable: false, Err: err}
	}

	client := &http.Client{Timeout: probeTimeout}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Reachable: false, LatencyMs: latency, Err: err}
	}
	defer resp.Body.Close()
	return ProbeResult{Reachable: true, StatusCode: resp.StatusCode, LatencyMs: latency}
}

// Validate composes the binary, credential, and endpoint checks into the
// pre-spawn gate keyed by agent type (spec §4.1). lookup resolves an
// environment variable name, allowing callers to layer per-agent overrides
// over the process environment.
func Validate(ctx context.Context, typ, explicitCommand string, lookup func(string) string) error {
	if _, err := CheckBinary(typ, explicitCommand); err != nil {
		return err
	}
	if err := CheckCredential(typ, lookup); err != nil {
		return err
	}
	url := DefaultBaseURL(typ, lookup)
	if url == "" {
		return nil
	}
	result := ProbeEndpoint(ctx, url)
	if !result.Reachable {
		code := "no response"
		if result.Err != nil {
			code = result.Err.Error()
		}
		return fmt.Errorf("Proxy %s is unreachable (%s). Check the URL.", url, code)
	}
	return nil
}
