// Package acp owns the bridge's half of the ACP conversation: the inbound
// acp.Client implementation that the SDK's connection delivers agent
// notifications and calls to, and the supervisor that spawns the child,
// performs the handshake, and fans stream updates into an AgentRecord.
package acp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/record"
	"github.com/allvegetable/acp-bridge/internal/agent/terminal"
)

// Client implements acp.Client for a single agent: it routes every inbound
// notification and call into that agent's AgentRecord instead of answering
// on the agent's behalf.
type Client struct {
	logger *zap.Logger
	rec    *record.Record
	term   *terminal.Manager

	mu sync.Mutex
}

// NewClient builds the ACP client for one agent's connection.
func NewClient(logger *zap.Logger, rec *record.Record, term *terminal.Manager) *Client {
	return &Client{logger: logger, rec: rec, term: term}
}

// SessionUpdate handles every agent-to-client stream notification (spec
// §4.2): text chunks are appended and fanned out, tool calls flip the
// record back to working.
func (c *Client) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	u := n.Update
	switch {
	case u.AgentMessageChunk != nil:
		if u.AgentMessageChunk.Content.Text != nil {
			c.rec.AppendText(u.AgentMessageChunk.Content.Text.Text)
		}
	case u.ToolCall != nil:
		c.rec.SetState(record.StateWorking)
	case u.ToolCallUpdate != nil:
		// No record-visible state change; status is observable only via
		// the eventual agent_message_chunk/tool_call that follows it.
	case u.Plan != nil:
		// Plan entries are agent-internal bookkeeping; not part of the
		// spec's observable AgentRecord surface.
	}
	return nil
}

// RequestPermission parks the inbound permission call on the agent's
// permission queue instead of answering it (spec §4.2/§4.3) — the inverted
// permission callback that is the central re-architecture of this bridge.
// The call blocks until an HTTP caller resolves it via approve/deny/cancel,
// or the request context is cancelled (e.g. the child exited).
func (c *Client) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	title := ""
	if p.ToolCall.Title != nil {
		title = *p.ToolCall.Title
	}

	outcomeCh := make(chan acp.RequestPermissionOutcome, 1)
	c.rec.Permissions.Enqueue(string(p.ToolCall.ToolCallId), title, p.Options, func(outcome acp.RequestPermissionOutcome) {
		outcomeCh <- outcome
	})
	c.rec.SetState(record.StateWorking)

	c.logger.Info("permission requested",
		zap.String("tool_call_id", string(p.ToolCall.ToolCallId)),
		zap.String("title", title),
		zap.Int("options", len(p.Options)))

	select {
	case outcome := <-outcomeCh:
		return acp.RequestPermissionResponse{Outcome: outcome}, nil
	case <-ctx.Done():
		return acp.RequestPermissionResponse{}, ctx.Err()
	}
}

// ReadTextFile reads an absolute path from the agent's workspace.
func (c *Client) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	if !filepath.IsAbs(p.Path) {
		return acp.ReadTextFileResponse{}, fmt.Errorf("path must be absolute: %s", p.Path)
	}
	b, err := os.ReadFile(p.Path)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	content := string(b)
	if p.Line != nil || p.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if p.Line != nil && *p.Line > 0 {
			start = *p.Line - 1
			if start > len(lines) {
				start = len(lines)
			}
		}
		end := len(lines)
		if p.Limit != nil && *p.Limit > 0 && start+*p.Limit < end {
			end = start + *p.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile writes an absolute path in the agent's workspace.
func (c *Client) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if !filepath.IsAbs(p.Path) {
		return acp.WriteTextFileResponse{}, fmt.Errorf("path must be absolute: %s", p.Path)
	}
	if dir := filepath.Dir(p.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return acp.WriteTextFileResponse{}, err
		}
	}
	return acp.WriteTextFileResponse{}, os.WriteFile(p.Path, []byte(p.Content), 0o644)
}

// CreateTerminal starts a real pty-backed terminal, instead of a stub. The
// terminal always runs in the agent's own cwd; ACP does not give the host a
// per-call override.
func (c *Client) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	id, err := c.term.Create(p.Command, p.Args, "")
	if err != nil {
		return acp.CreateTerminalResponse{}, err
	}
	return acp.CreateTerminalResponse{TerminalId: id}, nil
}

// KillTerminalCommand terminates the underlying process.
func (c *Client) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	if err := c.term.Kill(string(p.TerminalId)); err != nil {
		return acp.KillTerminalCommandResponse{}, err
	}
	return acp.KillTerminalCommandResponse{}, nil
}

// TerminalOutput returns the buffered output captured so far.
func (c *Client) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	output, _, _, ok := c.term.Output(string(p.TerminalId))
	if !ok {
		return acp.TerminalOutputResponse{}, fmt.Errorf("terminal %s not found", p.TerminalId)
	}
	return acp.TerminalOutputResponse{Output: output, Truncated: false}, nil
}

// ReleaseTerminal closes and forgets the terminal.
func (c *Client) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	if err := c.term.Release(string(p.TerminalId)); err != nil {
		return acp.ReleaseTerminalResponse{}, err
	}
	return acp.ReleaseTerminalResponse{}, nil
}

// WaitForTerminalExit blocks until the terminal process exits.
func (c *Client) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	code, ok := c.term.WaitExit(string(p.TerminalId))
	if !ok {
		return acp.WaitForTerminalExitResponse{}, fmt.Errorf("terminal %s not found", p.TerminalId)
	}
	return acp.WaitForTerminalExitResponse{ExitCode: &code}, nil
}

var _ acp.Client = (*Client)(nil)
