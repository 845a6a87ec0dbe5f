// Package manager is the bridge's top-level agent lifecycle manager: it
// composes preflight, the ACP supervisor, the agent record store, the
// permission queue, and the ask executor into the operations the HTTP layer
// calls directly (start/stop/ask/approve/deny/cancel/diagnose), the same way
// the teacher's lifecycle.Manager composes its registry/docker/eventbus
// collaborators.
package manager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/acp"
	"github.com/allvegetable/acp-bridge/internal/agent/ask"
	"github.com/allvegetable/acp-bridge/internal/agent/diagnostics"
	"github.com/allvegetable/acp-bridge/internal/agent/permission"
	"github.com/allvegetable/acp-bridge/internal/agent/preflight"
	"github.com/allvegetable/acp-bridge/internal/agent/record"
	"github.com/allvegetable/acp-bridge/internal/agent/terminal"
	"github.com/allvegetable/acp-bridge/internal/common/config"
	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"
)

const defaultType = "opencode"

// Manager owns the process-wide agent store and every live agent's
// supervisor.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *record.Store

	mu          sync.RWMutex
	supervisors map[string]*acp.Supervisor
}

// New builds a Manager over an empty agent store.
func New(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		store:       record.NewStore(),
		supervisors: make(map[string]*acp.Supervisor),
	}
}

// Store exposes the underlying agent registry for read-only callers (the
// HTTP layer's list/status/diagnose handlers).
func (m *Manager) Store() *record.Store { return m.store }

func (m *Manager) setSupervisor(name string, sup *acp.Supervisor) {
	m.mu.Lock()
	m.supervisors[name] = sup
	m.mu.Unlock()
}

func (m *Manager) getSupervisor(name string) *acp.Supervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supervisors[name]
}

func (m *Manager) dropSupervisor(name string) {
	m.mu.Lock()
	delete(m.supervisors, name)
	m.mu.Unlock()
}

// StartSpec is the creation-time input for POST /agents.
type StartSpec struct {
	Name    string
	Type    string
	Cwd     string
	Command string
	Args    []string
	Env     map[string]string
}

// globalLookup resolves an environment variable against the request's own
// override, then the type's configured override, then the process
// environment — the layering preflight's Validate expects.
func (m *Manager) globalLookup(typ string, reqEnv map[string]string) func(string) string {
	typeEnv := map[string]string{}
	if ov, ok := m.cfg.Agents[typ]; ok {
		typeEnv = ov.Env
	}
	return func(k string) string {
		if v, ok := reqEnv[k]; ok && v != "" {
			return v
		}
		if v, ok := typeEnv[k]; ok && v != "" {
			return v
		}
		return os.Getenv(k)
	}
}

func (m *Manager) explicitCommand(typ string, spec StartSpec) string {
	if spec.Command != "" {
		return spec.Command
	}
	if ov, ok := m.cfg.Agents[typ]; ok && ov.Command != "" {
		return ov.Command
	}
	return m.cfg.AgentBinary
}

func (m *Manager) candidates(typ string, spec StartSpec) []acp.Candidate {
	if spec.Command != "" {
		return []acp.Candidate{{Command: spec.Command, Args: spec.Args}}
	}
	if ov, ok := m.cfg.Agents[typ]; ok && ov.Command != "" {
		return []acp.Candidate{{Command: ov.Command, Args: ov.Args}}
	}
	return acp.FallbackCandidates(typ)
}

func (m *Manager) mergedEnv(typ string, spec StartSpec) map[string]string {
	out := map[string]string{}
	if ov, ok := m.cfg.Agents[typ]; ok {
		for k, v := range ov.Env {
			out[k] = v
		}
	}
	for k, v := range spec.Env {
		out[k] = v
	}
	return out
}

// StartAgent runs preflight, spawns the child, performs the ACP handshake,
// and registers the resulting record (spec §4.1/§4.2).
func (m *Manager) StartAgent(ctx context.Context, spec StartSpec) (*record.Record, error) {
	if spec.Name == "" {
		return nil, acperrors.BadRequest("name must be non-empty")
	}
	if spec.Type == "" {
		spec.Type = defaultType
	}
	if spec.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			spec.Cwd = wd
		} else {
			spec.Cwd = "."
		}
	}

	if m.store.Get(spec.Name) != nil {
		return nil, acperrors.Conflict(fmt.Sprintf("agent '%s' already exists", spec.Name))
	}

	lookup := m.globalLookup(spec.Type, spec.Env)
	if err := preflight.Validate(ctx, spec.Type, m.explicitCommand(spec.Type, spec), lookup); err != nil {
		return nil, acperrors.BadRequest(err.Error())
	}

	rec := record.New(spec.Name, spec.Type, spec.Cwd)
	env := m.mergedEnv(spec.Type, spec)
	term := terminal.NewManager(spec.Cwd, os.Environ())
	sup := acp.NewSupervisor(m.logger.With(zap.String("agent", spec.Name)), rec, term)

	if err := sup.Spawn(ctx, spec.Cwd, m.candidates(spec.Type, spec), env); err != nil {
		return nil, acperrors.BadRequest(err.Error())
	}

	// The supervisor owns both the child process and the ACP connection, so
	// it is stored as the record's Connection handle. The manager's own
	// Ask/Cancel paths reach it through the supervisors map instead.
	rec.Connection = sup
	if err := m.store.Add(rec); err != nil {
		_ = sup.Stop()
		return nil, acperrors.Conflict(err.Error())
	}
	m.setSupervisor(spec.Name, sup)

	m.logger.Info("agent started", zap.String("agent", spec.Name), zap.String("type", spec.Type))
	return rec, nil
}

// StopAgent cancels every pending permission, terminates the child, and
// deregisters the record (spec's Destruction rule).
func (m *Manager) StopAgent(name string) error {
	rec := m.store.Remove(name)
	if rec == nil {
		return acperrors.NotFound("agent", name)
	}
	permission.CancelAll(rec.Permissions)
	sup := m.getSupervisor(name)
	m.dropSupervisor(name)
	if sup != nil {
		if err := sup.Stop(); err != nil {
			m.logger.Warn("failed to stop agent child process", zap.String("agent", name), zap.Error(err))
		}
	}
	m.logger.Info("agent stopped", zap.String("agent", name))
	return nil
}

// StopAll is invoked at daemon shutdown (spec §5): every agent is stopped,
// cancelling its pendings and sending SIGTERM to its child.
func (m *Manager) StopAll() {
	for _, rec := range m.store.List() {
		_ = m.StopAgent(rec.Name)
	}
}

// Ask executes a single prompt against a live agent.
func (m *Manager) Ask(ctx context.Context, name, prompt string, opts ask.Options) (ask.Result, error) {
	rec := m.store.Get(name)
	if rec == nil {
		return ask.Result{}, acperrors.NotFound("agent", name)
	}
	sup := m.getSupervisor(name)
	if sup == nil {
		return ask.Result{}, acperrors.NotFound("agent", name)
	}
	return ask.Ask(ctx, rec, sup, prompt, opts)
}

// CancelAgent issues an ACP cancel on the agent's current session and drains
// its pending permissions, returning it to idle if it was working (spec §6).
func (m *Manager) CancelAgent(ctx context.Context, name string) error {
	rec := m.store.Get(name)
	if rec == nil {
		return acperrors.NotFound("agent", name)
	}
	sup := m.getSupervisor(name)
	if sup != nil {
		if err := sup.Cancel(ctx); err != nil {
			m.logger.Warn("ACP cancel failed", zap.String("agent", name), zap.Error(err))
		}
	}
	permission.CancelAll(rec.Permissions)
	if rec.State() == record.StateWorking {
		rec.SetState(record.StateIdle)
	}
	return nil
}

// Approve resolves the head pending permission, preferring an allow-kind
// option (spec §4.3).
func (m *Manager) Approve(name, optionID string) (string, error) {
	rec := m.store.Get(name)
	if rec == nil {
		return "", acperrors.NotFound("agent", name)
	}
	selected, ok := permission.Approve(rec.Permissions, optionID)
	if !ok {
		return "", acperrors.Conflict("no_pending_permissions")
	}
	rec.Touch()
	return selected, nil
}

// Deny resolves the head pending permission, preferring a reject-kind option.
func (m *Manager) Deny(name, optionID string) (string, error) {
	rec := m.store.Get(name)
	if rec == nil {
		return "", acperrors.NotFound("agent", name)
	}
	selected, ok := permission.Deny(rec.Permissions, optionID)
	if !ok {
		return "", acperrors.Conflict("no_pending_permissions")
	}
	rec.Touch()
	return selected, nil
}

// Diagnose composes a live agent's deep health report (spec §4.7).
func (m *Manager) Diagnose(ctx context.Context, name string) (diagnostics.Report, error) {
	rec := m.store.Get(name)
	if rec == nil {
		return diagnostics.Report{}, acperrors.NotFound("agent", name)
	}
	sup := m.getSupervisor(name)
	alive := sup != nil && sup.Alive()
	lookup := diagnostics.Lookup(m.globalLookup(rec.Type, nil))
	return diagnostics.Diagnose(ctx, rec, rec.Type, alive, lookup), nil
}

// Doctor runs the no-spawn preflight checks for every known agent type
// (spec §4.7), using the process environment layered with any configured
// per-type overrides.
func (m *Manager) Doctor(ctx context.Context) []diagnostics.DoctorResult {
	lookup := diagnostics.Lookup(func(k string) string {
		for _, ov := range m.cfg.Agents {
			if v, ok := ov.Env[k]; ok && v != "" {
				return v
			}
		}
		return os.Getenv(k)
	})
	return diagnostics.Doctor(ctx, lookup)
}

// AskTimeout returns the configured default wall-clock ask timeout.
func (m *Manager) AskTimeout() time.Duration {
	return time.Duration(m.cfg.AskTimeout) * time.Millisecond
}
