package acp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/permission"
	"github.com/allvegetable/acp-bridge/internal/agent/record"
	"github.com/allvegetable/acp-bridge/internal/agent/terminal"
)

// Candidate is one command/args pair the supervisor will try when spawning
// an agent type.
type Candidate struct {
	Command string
	Args    []string
}

// FallbackCandidates returns the ordered list of commands to try for typ
// when no explicit command/args override is configured (spec §4.2).
func FallbackCandidates(typ string) []Candidate {
	switch typ {
	case "codex":
		return []Candidate{
			{Command: "codex-acp"},
			{Command: "codex", Args: []string{"mcp-server"}},
		}
	case "claude":
		return []Candidate{{Command: "claude-agent-acp"}}
	case "gemini":
		return []Candidate{{Command: "gemini", Args: []string{"--experimental-acp"}}}
	case "opencode":
		return []Candidate{{Command: "opencode", Args: []string{"acp"}}}
	default:
		return []Candidate{{Command: typ}}
	}
}

// shapePath prepends the directory housing the locally-installed OpenCode
// binary to PATH, so type-specific default commands resolve even when the
// daemon runs from a restricted shell (spec §4.2/§9). A no-op if opencode
// isn't resolvable.
func shapePath(env []string) []string {
	opencodeBin, err := exec.LookPath("opencode")
	if err != nil {
		return env
	}
	dir := filepath.Dir(opencodeBin)

	out := make([]string, len(env))
	copy(out, env)
	for i, kv := range out {
		if strings.HasPrefix(kv, "PATH=") {
			out[i] = "PATH=" + dir + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return out
		}
	}
	return append(out, "PATH="+dir)
}

// buildEnv layers per-type overrides on top of the process environment,
// then applies PATH shaping.
func buildEnv(overrides map[string]string) []string {
	base := os.Environ()
	if len(overrides) == 0 {
		return shapePath(base)
	}
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return shapePath(out)
}

func protocolAccepted(v int) bool {
	return v == acp.ProtocolVersionNumber || v == 1
}

// Supervisor owns one agent's child process, ACP connection, and the fan-in
// of stream notifications into its AgentRecord (spec §4.2).
type Supervisor struct {
	logger *zap.Logger
	rec    *record.Record
	term   *terminal.Manager

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	conn   *acp.ClientSideConnection
	exited atomic.Bool
}

// NewSupervisor builds a supervisor for one agent's connection, sharing its
// AgentRecord and terminal manager with the inbound ACP client.
func NewSupervisor(logger *zap.Logger, rec *record.Record, term *terminal.Manager) *Supervisor {
	return &Supervisor{logger: logger, rec: rec, term: term}
}

// Spawn tries each candidate in order, stopping at the first that spawns and
// completes the ACP handshake. On failure it records the error and proceeds
// to the next candidate; if every candidate fails, the last error is
// surfaced (spec §4.2).
func (s *Supervisor) Spawn(ctx context.Context, cwd string, candidates []Candidate, overrides map[string]string) error {
	env := buildEnv(overrides)

	var lastErr error
	for _, c := range candidates {
		if err := s.spawnOne(ctx, cwd, c, env); err != nil {
			lastErr = err
			s.logger.Warn("agent spawn candidate failed",
				zap.String("agent", s.rec.Name),
				zap.String("command", c.Command),
				zap.Error(err))
			continue
		}
		return nil
	}
	return lastErr
}

// spawnOne starts a single candidate and races the ACP handshake against a
// spawn-error future; a process exit before the handshake completes wins and
// kills/propagates, per spec §4.2.
func (s *Supervisor) spawnOne(ctx context.Context, cwd string, c Candidate, env []string) error {
	cmd := exec.Command(c.Command, c.Args...)
	cmd.Dir = cwd
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.Command, err)
	}

	// The agent's own lifetime, not the inbound HTTP request's, governs the
	// child: exec.CommandContext would kill it the moment the spawning
	// request completes.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	client := NewClient(s.logger, s.rec, s.term)
	conn := acp.NewClientSideConnection(client, stdin, stdout)
	conn.SetLogger(slog.Default().With("component", "acp-conn"))

	type handshakeResult struct {
		initResp acp.InitializeResponse
		sessResp acp.NewSessionResponse
		err      error
	}
	handshakeDone := make(chan handshakeResult, 1)
	go func() {
		initResp, err := conn.Initialize(ctx, acp.InitializeRequest{
			ProtocolVersion:    acp.ProtocolVersionNumber,
			ClientCapabilities: acp.ClientCapabilities{},
		})
		if err != nil {
			handshakeDone <- handshakeResult{err: fmt.Errorf("initialize failed: %w", err)}
			return
		}
		sessResp, err := conn.NewSession(ctx, acp.NewSessionRequest{
			Cwd:        cwd,
			McpServers: []acp.McpServer{},
		})
		if err != nil {
			handshakeDone <- handshakeResult{err: fmt.Errorf("newSession failed: %w", err)}
			return
		}
		handshakeDone <- handshakeResult{initResp: initResp, sessResp: sessResp}
	}()

	var hr handshakeResult
	select {
	case waitErr := <-waitCh:
		return fmt.Errorf("%s exited before handshake completed: %v", c.Command, waitErr)
	case hr = <-handshakeDone:
		if hr.err != nil {
			_ = cmd.Process.Kill()
			<-waitCh
			return hr.err
		}
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.conn = conn
	s.mu.Unlock()

	protocolVersion := fmt.Sprintf("%d", hr.initResp.ProtocolVersion)
	s.rec.SetSession(string(hr.sessResp.SessionId), protocolVersion)
	if !protocolAccepted(int(hr.initResp.ProtocolVersion)) {
		s.rec.SetLastError(fmt.Sprintf("protocol mismatch: %d", hr.initResp.ProtocolVersion))
	}
	s.rec.SetState(record.StateIdle)

	s.logger.Info("agent spawned",
		zap.String("agent", s.rec.Name),
		zap.String("command", c.Command),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("protocol_version", int(hr.initResp.ProtocolVersion)))

	go s.captureStderr(stderr)
	go s.watchExit(waitCh)

	return nil
}

// captureStderr appends every non-empty trimmed stderr line to the record's
// ring buffer; the last line doubles as lastError (spec §4.2).
func (s *Supervisor) captureStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.rec.AppendStderr(line)
	}
}

// watchExit waits for the child to exit, cancels every pending permission,
// and transitions the record to stopped (unless it already recorded a
// terminal error) with a synthesized lastError if none was set (spec §4.2).
func (s *Supervisor) watchExit(waitCh <-chan error) {
	waitErr := <-waitCh
	s.exited.Store(true)

	cancelled := permission.CancelAll(s.rec.Permissions)
	if cancelled > 0 {
		s.logger.Info("cancelled pending permissions on agent exit",
			zap.String("agent", s.rec.Name), zap.Int("count", cancelled))
	}

	if s.rec.State() != record.StateError {
		s.rec.SetState(record.StateStopped)
	}

	if s.rec.LastError() == "" {
		code, signal := exitDetails(waitErr)
		s.rec.SetLastError(fmt.Sprintf("exit code=%d signal=%s", code, signal))
	}
}

// Cancel sends an ACP cancel notification for the agent's current session.
func (s *Supervisor) Cancel(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("agent not connected")
	}
	return conn.Cancel(ctx, acp.CancelNotification{SessionId: acp.SessionId(s.rec.SessionID())})
}

// Prompt sends a single text prompt on the agent's current session,
// returning the stop reason as a plain string (the ask executor has no
// reason to depend on the SDK's distinct StopReason type).
func (s *Supervisor) Prompt(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return "", fmt.Errorf("agent not connected")
	}
	resp, err := conn.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(s.rec.SessionID()),
		Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
	})
	if err != nil {
		return "", err
	}
	return string(resp.StopReason), nil
}

// Stop sends SIGTERM (spec §5: daemon shutdown "sends SIGTERM to the
// child") to the child process if still running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	return terminateProcess(cmd)
}

// Alive reports whether the child process has neither been killed nor
// exited, for diagnostics' processAlive field (spec §4.7).
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	return cmd != nil && cmd.Process != nil && !s.exited.Load()
}
