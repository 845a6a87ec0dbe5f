// Package task implements the subtask DAG scheduler: validated creation,
// event-driven dependency waiting, result templating, cooperative
// cancellation, and terminal-task eviction (spec §3/§4.6).
package task

import (
	"sync"
	"time"
)

// State is a task's aggregate lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// SubtaskState is one subtask's lifecycle state.
type SubtaskState string

const (
	SubtaskPending   SubtaskState = "pending"
	SubtaskRunning   SubtaskState = "running"
	SubtaskDone      SubtaskState = "done"
	SubtaskError     SubtaskState = "error"
	SubtaskCancelled SubtaskState = "cancelled"
)

func isTerminalSubtaskState(s SubtaskState) bool {
	return s == SubtaskDone || s == SubtaskError || s == SubtaskCancelled
}

// Subtask is one node of a task's DAG.
type Subtask struct {
	ID             string
	Agent          string
	PromptTemplate string
	DependsOn      []string

	mu          sync.RWMutex
	state       SubtaskState
	result      string
	hasResult   bool
	errMsg      string
	createdAt   time.Time
	updatedAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	terminalSignal chan struct{}
	terminalOnce   sync.Once
}

func newSubtask(id, agent, prompt string, dependsOn []string) *Subtask {
	now := time.Now().UTC()
	return &Subtask{
		ID:             id,
		Agent:          agent,
		PromptTemplate: prompt,
		DependsOn:      dependsOn,
		state:          SubtaskPending,
		createdAt:      now,
		updatedAt:      now,
		terminalSignal: make(chan struct{}),
	}
}

// State returns the subtask's current state.
func (s *Subtask) State() SubtaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// fireTerminal transitions state (if not already terminal) and closes the
// terminal signal exactly once (spec's invariant that it fires exactly
// once, only on a terminal transition). Returns whether this call actually
// performed the transition, so callers racing against a subtask's own
// execution unit can count real transitions rather than no-op attempts.
func (s *Subtask) fireTerminal(state SubtaskState, result string, hasResult bool, errMsg string) bool {
	s.mu.Lock()
	if isTerminalSubtaskState(s.state) {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.result = result
	s.hasResult = hasResult
	s.errMsg = errMsg
	s.completedAt = time.Now().UTC()
	s.updatedAt = s.completedAt
	s.mu.Unlock()

	s.terminalOnce.Do(func() { close(s.terminalSignal) })
	return true
}

// Done returns the subtask's one-shot terminal signal, closed exactly once
// when it reaches a terminal state.
func (s *Subtask) Done() <-chan struct{} {
	return s.terminalSignal
}

func (s *Subtask) setRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SubtaskRunning
	s.startedAt = time.Now().UTC()
	s.updatedAt = s.startedAt
}

// ResultFor returns the subtask's stored result, or "" if it has none yet
// (used by template substitution against a dependency that didn't finish
// with a result).
func (s *Subtask) ResultFor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasResult {
		return ""
	}
	return s.result
}

// Snapshot is a point-in-time view of a subtask suitable for serialization.
type Snapshot struct {
	ID          string       `json:"id"`
	Agent       string       `json:"agent"`
	Prompt      string       `json:"prompt"`
	DependsOn   []string     `json:"dependsOn"`
	State       SubtaskState `json:"state"`
	Result      *string      `json:"result"`
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Snapshot returns a serializable view of the subtask.
func (s *Subtask) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:        s.ID,
		Agent:     s.Agent,
		Prompt:    s.PromptTemplate,
		DependsOn: append([]string(nil), s.DependsOn...),
		State:     s.state,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.hasResult {
		r := s.result
		snap.Result = &r
	}
	if s.errMsg != "" {
		e := s.errMsg
		snap.Error = &e
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// Task is one validated subtask DAG and its execution state.
type Task struct {
	ID   string
	Name string

	mu       sync.RWMutex
	state    State
	subtasks []*Subtask
	byID     map[string]*Subtask

	cancelRequested bool
	cancelSignal    chan struct{}
	cancelOnce      sync.Once

	createdAt time.Time
	updatedAt time.Time
}

// CancelRequested reports whether the task has been asked to cancel.
func (t *Task) CancelRequested() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelRequested
}

// CancelSignal returns the task's one-shot broadcast cancellation signal.
func (t *Task) CancelSignal() <-chan struct{} {
	return t.cancelSignal
}

// requestCancel sets cancelRequested, fires the cancel signal exactly once,
// and sets the task state to cancelled (spec §4.6 cancellation).
func (t *Task) requestCancel() {
	t.mu.Lock()
	t.cancelRequested = true
	t.state = StateCancelled
	t.updatedAt = time.Now().UTC()
	t.mu.Unlock()
	t.cancelOnce.Do(func() { close(t.cancelSignal) })
}

// setState overwrites the task's aggregate state and refreshes updatedAt.
func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
	t.updatedAt = time.Now().UTC()
}

// State returns the task's current aggregate state.
func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// UpdatedAt returns the task's last-updated timestamp, used by eviction.
func (t *Task) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}

// Subtask looks up a subtask by id.
func (t *Task) Subtask(id string) (*Subtask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	return s, ok
}

// Subtasks returns every subtask, in creation order.
func (t *Task) Subtasks() []*Subtask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subtask, len(t.subtasks))
	copy(out, t.subtasks)
	return out
}

// TaskSnapshot is a point-in-time view of a task.
type TaskSnapshot struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	State     State      `json:"state"`
	Subtasks  []Snapshot `json:"subtasks"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Snapshot returns a serializable view of the task and all its subtasks.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	state, createdAt, updatedAt := t.state, t.createdAt, t.updatedAt
	subtasks := make([]*Subtask, len(t.subtasks))
	copy(subtasks, t.subtasks)
	t.mu.RUnlock()

	snaps := make([]Snapshot, len(subtasks))
	for i, s := range subtasks {
		snaps[i] = s.Snapshot()
	}
	return TaskSnapshot{
		ID:        t.ID,
		Name:      t.Name,
		State:     state,
		Subtasks:  snaps,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}
