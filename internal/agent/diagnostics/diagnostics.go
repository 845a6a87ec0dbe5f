// Package diagnostics composes the preflight and per-agent health checks
// exposed over /doctor and /agents/:name/diagnose.
package diagnostics

import (
	"context"
	"strings"

	"github.com/allvegetable/acp-bridge/internal/agent/preflight"
	"github.com/allvegetable/acp-bridge/internal/agent/record"
)

var knownTypes = []string{"codex", "claude", "gemini", "opencode"}

// DoctorResult is one agent type's aggregated health.
type DoctorResult struct {
	Type     string `json:"type"`
	Status   string `json:"status"` // ok | warning | error
	Binary   bool   `json:"binary"`
	APIKey   bool   `json:"apiKey"`
	Endpoint bool   `json:"endpoint"`
	Message  string `json:"message,omitempty"`
}

// Lookup resolves an environment variable by name; callers typically pass
// os.Getenv or a layered per-agent override.
type Lookup func(string) string

// Doctor runs the no-spawn preflight checks for every known agent type
// (spec §4.7).
func Doctor(ctx context.Context, lookup Lookup) []DoctorResult {
	results := make([]DoctorResult, 0, len(knownTypes))
	for _, typ := range knownTypes {
		results = append(results, doctorOne(ctx, typ, lookup))
	}
	return results
}

func doctorOne(ctx context.Context, typ string, lookup Lookup) DoctorResult {
	r := DoctorResult{Type: typ, Status: "ok"}

	if _, err := preflight.CheckBinary(typ, ""); err != nil {
		r.Binary = false
		r.Status = "error"
		r.Message = err.Error()
		return r
	}
	r.Binary = true

	if err := preflight.CheckCredential(typ, lookup); err != nil {
		r.APIKey = false
		r.Status = "error"
		r.Message = err.Error()
		return r
	}
	r.APIKey = true

	url := preflight.DefaultBaseURL(typ, lookup)
	if url == "" {
		r.Endpoint = true
		return r
	}
	result := preflight.ProbeEndpoint(ctx, url)
	if !result.Reachable {
		r.Endpoint = false
		r.Status = "warning"
		r.Message = "endpoint unreachable or unhealthy"
		return r
	}
	if result.StatusCode >= 500 {
		r.Endpoint = false
		r.Status = "warning"
		r.Message = "endpoint unreachable or unhealthy"
		return r
	}
	r.Endpoint = true
	return r
}

// APIKeyFormat classifies a credential's prefix for a given agent type,
// without validating it against the upstream service.
func APIKeyFormat(typ, key string) string {
	if requiredVars(typ) == nil {
		return "not_required"
	}
	if strings.TrimSpace(key) == "" {
		return "missing"
	}
	switch typ {
	case "codex":
		if strings.HasPrefix(key, "sk-") {
			return "valid"
		}
		return "invalid"
	case "claude":
		if strings.HasPrefix(key, "cr_") || strings.HasPrefix(key, "sk-ant-") {
			return "valid"
		}
		return "invalid"
	case "gemini":
		if strings.HasPrefix(key, "AIza") {
			return "valid"
		}
		return "invalid"
	default:
		return "unknown"
	}
}

func requiredVars(typ string) []string {
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

func firstNonEmpty(lookup Lookup, vars []string) string {
	for _, v := range vars {
		if val := strings.TrimSpace(lookup(v)); val != "" {
			return val
		}
	}
	return ""
}

// Checks is the per-agent check block of a diagnose report.
type Checks struct {
	APIKeySet         bool   `json:"apiKeySet"`
	APIKeyFormat      string `json:"apiKeyFormat"`
	EndpointReachable bool   `json:"endpointReachable"`
	EndpointLatencyMs int64  `json:"endpointLatencyMs"`
	ProtocolVersion   string `json:"protocolVersion,omitempty"`
}

// Report is the full per-agent diagnose response.
type Report struct {
	Agent        string   `json:"agent"`
	ProcessAlive bool     `json:"processAlive"`
	State        string   `json:"state"`
	RecentStderr []string `json:"recentStderr"`
	LastError    string   `json:"lastError,omitempty"`
	Checks       Checks   `json:"checks"`
}

// Diagnose builds a Report for a live agent. processAlive is supplied by the
// caller, since only the supervisor that owns the child knows whether it has
// been killed or exited.
func Diagnose(ctx context.Context, rec *record.Record, typ string, processAlive bool, lookup Lookup) Report {
	vars := requiredVars(typ)
	key := firstNonEmpty(lookup, vars)

	rep := Report{
		Agent:        rec.Name,
		ProcessAlive: processAlive,
		State:        string(rec.State()),
		RecentStderr: rec.StderrSnapshot(),
		LastError:    rec.LastError(),
		Checks: Checks{
			APIKeySet:       key != "" || len(vars) == 0,
			APIKeyFormat:    APIKeyFormat(typ, key),
			ProtocolVersion: rec.ProtocolVersion(),
		},
	}

	url := preflight.DefaultBaseURL(typ, lookup)
	if url != "" {
		result := preflight.ProbeEndpoint(ctx, url)
		rep.Checks.EndpointReachable = result.Reachable && result.StatusCode < 500
		rep.Checks.EndpointLatencyMs = result.LatencyMs
	}

	return rep
}
