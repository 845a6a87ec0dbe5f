package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubtaskSpec is the creation-time input for one subtask, before ids are
// assigned and dependsOn is sanitized.
type SubtaskSpec struct {
	ID        string
	Agent     string
	Prompt    string
	DependsOn []string
}

// Spec is the creation-time input for a task.
type Spec struct {
	Name     string
	Subtasks []SubtaskSpec
}

// Build validates spec per spec §4.6 and, on success, constructs a running
// Task ready to be launched. All validation failures are reported as plain
// errors; callers surface them as HTTP 400 verbatim.
func Build(spec Spec) (*Task, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("name must be non-empty")
	}
	if len(spec.Subtasks) == 0 {
		return nil, fmt.Errorf("subtasks must be non-empty")
	}

	ids := make(map[string]bool, len(spec.Subtasks))
	resolved := make([]SubtaskSpec, len(spec.Subtasks))
	for i, st := range spec.Subtasks {
		if strings.TrimSpace(st.Agent) == "" {
			return nil, fmt.Errorf("subtask at index %d: agent must be non-empty", i)
		}
		if strings.TrimSpace(st.Prompt) == "" {
			return nil, fmt.Errorf("subtask at index %d: prompt must be non-empty", i)
		}

		id := strings.TrimSpace(st.ID)
		if id == "" {
			id = fmt.Sprintf("subtask-%d", i+1)
		}
		if ids[id] {
			return nil, fmt.Errorf("duplicate subtask id %q", id)
		}
		ids[id] = true

		resolved[i] = SubtaskSpec{ID: id, Agent: st.Agent, Prompt: st.Prompt, DependsOn: st.DependsOn}
	}

	for i, st := range resolved {
		deps := make([]string, 0, len(st.DependsOn))
		seen := make(map[string]bool, len(st.DependsOn))
		for _, d := range st.DependsOn {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			if d == st.ID {
				return nil, fmt.Errorf("subtask %q cannot depend on itself", st.ID)
			}
			if !ids[d] {
				return nil, fmt.Errorf("subtask %q depends on unknown id %q", st.ID, d)
			}
			if seen[d] {
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
		resolved[i].DependsOn = deps
	}

	if err := detectCycle(resolved); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &Task{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		state:        StateRunning,
		byID:         make(map[string]*Subtask, len(resolved)),
		cancelSignal: make(chan struct{}),
		createdAt:    now,
		updatedAt:    now,
	}
	for _, st := range resolved {
		sub := newSubtask(st.ID, st.Agent, st.Prompt, st.DependsOn)
		t.subtasks = append(t.subtasks, sub)
		t.byID[st.ID] = sub
	}
	return t, nil
}

// detectCycle runs a DFS over the dependsOn graph, rejecting any cycle.
func detectCycle(subtasks []SubtaskSpec) error {
	byID := make(map[string]SubtaskSpec, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	mark := make(map[string]int, len(subtasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch mark[id] {
		case visiting:
			return fmt.Errorf("subtask dependency cycle detected")
		case done:
			return nil
		}
		mark[id] = visiting
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		mark[id] = done
		return nil
	}

	for _, st := range subtasks {
		if err := visit(st.ID); err != nil {
			return err
		}
	}
	return nil
}
