package task

import (
	"context"
	stderrors "errors"
	"reflect"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/allvegetable/acp-bridge/internal/agent/ask"
	"github.com/allvegetable/acp-bridge/internal/agent/record"
	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"
)

// AgentOps is the subset of the agent manager the scheduler needs: sending
// a task-driven prompt, and cancelling an agent's in-flight work when its
// task is cancelled.
type AgentOps interface {
	Ask(ctx context.Context, name, prompt string, opts ask.Options) (ask.Result, error)
	CancelAgent(ctx context.Context, name string) error
}

// Scheduler executes validated subtask DAGs: one execution goroutine per
// subtask, event-driven dependency waiting, result templating, cascading
// cancellation, and periodic terminal-task eviction (spec §4.6).
type Scheduler struct {
	store      *Store
	ops        AgentOps
	logger     *zap.Logger
	tracer     trace.Tracer
	askTimeout time.Duration

	stopCh chan struct{}
}

// NewScheduler builds a Scheduler over store, driving subtask asks through
// ops. askTimeout is the wall-clock deadline applied to every subtask's ask
// (spec §4.4); zero means use the ask package's own default.
func NewScheduler(store *Store, ops AgentOps, logger *zap.Logger, tracer trace.Tracer, askTimeout time.Duration) *Scheduler {
	return &Scheduler{store: store, ops: ops, logger: logger, tracer: tracer, askTimeout: askTimeout, stopCh: make(chan struct{})}
}

// Store exposes the underlying task registry for read-only callers.
func (s *Scheduler) Store() *Store { return s.store }

// RunEvictionLoop runs the eviction sweep every 60 seconds until Stop is
// called (spec §4.6: "and on a 60-second timer").
func (s *Scheduler) RunEvictionLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.store.Evict(); n > 0 {
				s.logger.Info("evicted terminal tasks", zap.Int("count", n))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop ends the eviction loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// CreateTask validates spec, stores the resulting Task, and launches its
// subtasks concurrently, returning immediately (spec §4.6 creation).
func (s *Scheduler) CreateTask(spec Spec) (*Task, error) {
	t, err := Build(spec)
	if err != nil {
		return nil, acperrors.BadRequest(err.Error())
	}
	s.store.Add(t)

	var wg errgroup.Group
	for _, st := range t.Subtasks() {
		st := st
		wg.Go(func() error {
			s.runSubtask(t, st)
			return nil
		})
	}
	go func() {
		_ = wg.Wait()
		s.logger.Debug("task subtasks finished", zap.String("task", t.ID))
	}()

	return t, nil
}

// CancelTask cancels a task: non-terminal subtasks are marked cancelled,
// running ones are ACP-cancelled on their agent, and eviction is triggered
// (spec §4.6 cancellation).
func (s *Scheduler) CancelTask(ctx context.Context, id string) (int, error) {
	t, ok := s.store.Get(id)
	if !ok {
		return 0, acperrors.NotFound("task", id)
	}
	t.requestCancel()

	count := 0
	for _, st := range t.Subtasks() {
		wasRunning := st.State() == SubtaskRunning
		if wasRunning {
			if err := s.ops.CancelAgent(ctx, st.Agent); err != nil {
				s.logger.Warn("failed to cancel agent for cancelled task",
					zap.String("task", t.ID), zap.String("subtask", st.ID), zap.String("agent", st.Agent), zap.Error(err))
			}
		}
		if st.fireTerminal(SubtaskCancelled, "", false, "") {
			count++
		}
	}
	s.recompute(t)
	if n := s.store.Evict(); n > 0 {
		s.logger.Info("evicted terminal tasks", zap.Int("count", n))
	}
	return count, nil
}

// depsPending returns the dependencies of st that are not yet terminal.
func depsPending(t *Task, st *Subtask) []*Subtask {
	var pending []*Subtask
	for _, depID := range st.DependsOn {
		dep, ok := t.Subtask(depID)
		if !ok {
			continue
		}
		if !isTerminalSubtaskState(dep.State()) {
			pending = append(pending, dep)
		}
	}
	return pending
}

// waitForDepsOrCancel blocks until either the task's cancel signal fires or
// any still-pending dependency becomes terminal — event-driven, no polling
// (spec §4.6/§9).
func waitForDepsOrCancel(t *Task, pending []*Subtask) {
	cases := make([]reflect.SelectCase, 0, len(pending)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(t.CancelSignal())})
	for _, dep := range pending {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(dep.Done())})
	}
	reflect.Select(cases)
}

// runSubtask is one subtask's independent execution unit (spec §4.6).
func (s *Scheduler) runSubtask(t *Task, st *Subtask) {
	for {
		if t.CancelRequested() {
			if st.fireTerminal(SubtaskCancelled, "", false, "") {
				s.recompute(t)
			}
			return
		}
		pending := depsPending(t, st)
		if len(pending) == 0 {
			break
		}
		waitForDepsOrCancel(t, pending)
	}

	// Re-check immediately before running: cancellation may have raced in
	// between the last wake and this point.
	if t.CancelRequested() {
		if st.fireTerminal(SubtaskCancelled, "", false, "") {
			s.recompute(t)
		}
		return
	}

	prompt := renderTemplate(st.PromptTemplate, t)
	st.setRunning()
	s.recompute(t)

	ctx := context.Background()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "task.subtask")
		defer span.End()
	}

	result, err := s.ops.Ask(ctx, st.Agent, prompt, ask.Options{
		ActiveTask: &record.ActiveTask{TaskID: t.ID, SubtaskID: st.ID},
		Timeout:    s.askTimeout,
	})
	if err != nil {
		st.fireTerminal(SubtaskError, "", false, classifiedMessage(err))
	} else {
		st.fireTerminal(SubtaskDone, result.Response, true, "")
	}
	s.recompute(t)

	if n := s.store.Evict(); n > 0 {
		s.logger.Info("evicted terminal tasks", zap.Int("count", n))
	}
}

func classifiedMessage(err error) string {
	var appErr *acperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// recompute re-derives a task's aggregate state from its subtasks' states
// (spec §4.6 "Task-state recomputation").
func (s *Scheduler) recompute(t *Task) {
	if t.State() == StateCancelled {
		return
	}

	subs := t.Subtasks()
	var pendingOrRunning, done, errored, cancelled int
	for _, st := range subs {
		switch st.State() {
		case SubtaskPending, SubtaskRunning:
			pendingOrRunning++
		case SubtaskDone:
			done++
		case SubtaskError:
			errored++
		case SubtaskCancelled:
			cancelled++
		}
	}

	var next State
	switch {
	case pendingOrRunning > 0:
		next = StateRunning
	case done == len(subs):
		next = StateDone
	case cancelled == len(subs):
		next = StateCancelled
	case errored > 0:
		next = StateError
	default:
		next = StateRunning
	}
	t.setState(next)
}

// templatePattern matches {{ <id>.result }} with whitespace tolerated
// around the id (spec §4.6).
var templatePattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)\.result\s*\}\}`)

// renderTemplate substitutes every {{<id>.result}} occurrence in tmpl with
// the named sibling subtask's result, or "" if it has none.
func renderTemplate(tmpl string, t *Task) string {
	return templatePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := templatePattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		dep, ok := t.Subtask(sub[1])
		if !ok {
			return ""
		}
		return dep.ResultFor()
	})
}
