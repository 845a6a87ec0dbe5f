package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/ask"
	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"
)

// fakeOps is a scripted AgentOps: Ask returns (response, err) keyed by agent
// name, optionally blocking on a gate until released.
type fakeOps struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	gates     map[string]chan struct{}
	cancelled []string
	calls     []string
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		responses: map[string]string{},
		errs:      map[string]error{},
		gates:     map[string]chan struct{}{},
	}
}

func (f *fakeOps) Ask(ctx context.Context, name, prompt string, opts ask.Options) (ask.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	gate := f.gates[name]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[name]; ok {
		return ask.Result{}, err
	}
	return ask.Result{Name: name, Response: f.responses[name]}, nil
}

func (f *fakeOps) CancelAgent(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, name)
	return nil
}

func newTestScheduler(ops AgentOps) *Scheduler {
	return NewScheduler(NewStore(0, 0), ops, zap.NewNop(), nil, time.Second)
}

func waitForTaskState(t *testing.T, sched *Scheduler, id string, want State) {
	require.Eventually(t, func() bool {
		task, ok := sched.Store().Get(id)
		return ok && task.State() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateTaskRunsIndependentSubtasksToCompletion(t *testing.T) {
	ops := newFakeOps()
	ops.responses["agent-a"] = "result-a"
	sched := newTestScheduler(ops)

	task, err := sched.CreateTask(Spec{Name: "t", Subtasks: []SubtaskSpec{
		{ID: "a", Agent: "agent-a", Prompt: "do a"},
	}})
	require.NoError(t, err)

	waitForTaskState(t, sched, task.ID, StateDone)
	sub, _ := task.Subtask("a")
	assert.Equal(t, "result-a", sub.ResultFor())
}

func TestCreateTaskTemplatesDependencyResult(t *testing.T) {
	ops := newFakeOps()
	ops.responses["agent-a"] = "42"
	sched := newTestScheduler(ops)

	task, err := sched.CreateTask(Spec{Name: "t", Subtasks: []SubtaskSpec{
		{ID: "a", Agent: "agent-a", Prompt: "compute"},
		{ID: "b", Agent: "agent-a", Prompt: "use {{a.result}} now", DependsOn: []string{"a"}},
	}})
	require.NoError(t, err)

	waitForTaskState(t, sched, task.ID, StateDone)

	ops.mu.Lock()
	calls := append([]string(nil), ops.calls...)
	ops.mu.Unlock()
	assert.Contains(t, calls, "use 42 now")
}

func TestRunSubtaskErrorPropagatesToTaskState(t *testing.T) {
	ops := newFakeOps()
	ops.errs["agent-a"] = acperrors.AgentFailure("boom", nil)
	sched := newTestScheduler(ops)

	task, err := sched.CreateTask(Spec{Name: "t", Subtasks: []SubtaskSpec{
		{ID: "a", Agent: "agent-a", Prompt: "do a"},
	}})
	require.NoError(t, err)

	waitForTaskState(t, sched, task.ID, StateError)
	sub, _ := task.Subtask("a")
	assert.Equal(t, SubtaskError, sub.State())
}

func TestCancelTaskCancelsRunningSubtaskAndBlocksDependents(t *testing.T) {
	ops := newFakeOps()
	ops.gates["agent-a"] = make(chan struct{})
	sched := newTestScheduler(ops)

	task, err := sched.CreateTask(Spec{Name: "t", Subtasks: []SubtaskSpec{
		{ID: "a", Agent: "agent-a", Prompt: "slow"},
		{ID: "b", Agent: "agent-b", Prompt: "depends", DependsOn: []string{"a"}},
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sub, _ := task.Subtask("a")
		return sub.State() == SubtaskRunning
	}, time.Second, 5*time.Millisecond)

	count, err := sched.CancelTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "both the running subtask and its pending dependent transition to cancelled")

	close(ops.gates["agent-a"])

	waitForTaskState(t, sched, task.ID, StateCancelled)
	ops.mu.Lock()
	assert.Contains(t, ops.cancelled, "agent-a")
	ops.mu.Unlock()

	a, _ := task.Subtask("a")
	assert.Equal(t, SubtaskCancelled, a.State())
	b, _ := task.Subtask("b")
	assert.Equal(t, SubtaskCancelled, b.State())
}

func TestCancelUnknownTaskReturnsNotFound(t *testing.T) {
	sched := newTestScheduler(newFakeOps())
	_, err := sched.CancelTask(context.Background(), "missing")
	assert.True(t, acperrors.IsNotFound(err))
}
