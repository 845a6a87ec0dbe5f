// Package ask implements the single-prompt executor shared by direct HTTP
// asks and task-driven subtask execution: per-agent mutual exclusion, chunk
// subscription for the duration of one call, a wall-clock timeout race
// against the ACP prompt call, and classification on the error path only.
package ask

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"

	"github.com/allvegetable/acp-bridge/internal/agent/classifier"
	"github.com/allvegetable/acp-bridge/internal/agent/record"
)

// Prompter is the subset of the ACP supervisor an ask needs: sending a
// prompt on the agent's current session.
type Prompter interface {
	Prompt(ctx context.Context, text string) (stopReason string, err error)
}

const defaultTimeout = 300 * time.Second

// Result is the outcome of a completed or failed ask.
type Result struct {
	Name       string
	State      record.State
	StopReason string
	Response   string
}

// Options configures a single Ask call.
type Options struct {
	// OnChunk, if non-nil, is registered as a subscriber to the agent's
	// chunk fan-out for the duration of the call.
	OnChunk func(chunk string)
	// ActiveTask, if non-nil, is stamped on the record for the duration of
	// the call (spec §4.4/§4.6) and cleared via the compare-and-clear guard
	// on exit.
	ActiveTask *record.ActiveTask
	// Timeout overrides the default wall-clock timeout; zero means use the
	// package default.
	Timeout time.Duration
}

// Ask executes a single prompt against rec's agent (spec §4.4).
//
// Mutual exclusion is enforced here, not by the caller: Ask claims rec via
// TryBeginWork and returns agent_busy if another prompt is already in
// flight, so two subtasks targeting the same agent can race into Ask
// concurrently and still get exactly one winner (spec §5/§8).
func Ask(ctx context.Context, rec *record.Record, prompter Prompter, prompt string, opts Options) (Result, error) {
	if !rec.TryBeginWork() {
		return Result{}, acperrors.Conflict("agent_busy")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, span := otel.Tracer("acp-bridge").Start(ctx, "agent.ask")
	defer span.End()

	rec.ResetCurrentText()
	rec.SetStopReason("")
	rec.SetActiveTask(opts.ActiveTask)

	var subToken int
	subscribed := false
	if opts.OnChunk != nil {
		subToken = rec.Subscribe(opts.OnChunk)
		subscribed = true
	}
	defer func() {
		if subscribed {
			rec.Unsubscribe(subToken)
		}
		if opts.ActiveTask != nil {
			rec.ClearActiveTaskIfMatches(opts.ActiveTask.TaskID, opts.ActiveTask.SubtaskID)
		} else {
			rec.SetActiveTask(nil)
		}
	}()

	type promptResult struct {
		stopReason string
		err        error
	}
	done := make(chan promptResult, 1)
	go func() {
		stopReason, err := prompter.Prompt(ctx, prompt)
		done <- promptResult{stopReason: stopReason, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		rec.SetState(record.StateIdle)
		rec.SetStopReason("timeout")
		rec.SetLastError(fmt.Sprintf("ask timeout after %dms", timeout.Milliseconds()))
		return Result{}, acperrors.Timeout(fmt.Sprintf("ask timeout after %dms", timeout.Milliseconds()))

	case r := <-done:
		if r.err != nil {
			msg := classifier.Classify(r.err.Error())
			rec.SetState(record.StateError)
			rec.SetLastError(msg)
			return Result{}, acperrors.AgentFailure(msg, r.err)
		}
		rec.SetState(record.StateIdle)
		rec.SetStopReason(r.stopReason)
		text := rec.CurrentText()
		return Result{
			Name:       rec.Name,
			State:      record.StateIdle,
			StopReason: r.stopReason,
			Response:   text,
		}, nil
	}
}
