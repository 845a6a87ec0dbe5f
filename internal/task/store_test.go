package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBuild(t *testing.T, name string) *Task {
	task, err := Build(Spec{Name: name, Subtasks: []SubtaskSpec{{Agent: "a", Prompt: "p"}}})
	require.NoError(t, err)
	return task
}

func TestStoreAddGet(t *testing.T) {
	s := NewStore(0, 0)
	task := mustBuild(t, "t1")
	s.Add(task)

	got, ok := s.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, task, got)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestEvictDoesNotTouchRunningTasks(t *testing.T) {
	s := NewStore(1, time.Millisecond)
	task := mustBuild(t, "t1")
	s.Add(task)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, s.Evict())
	_, ok := s.Get(task.ID)
	assert.True(t, ok)
}

func TestEvictDropsTerminalTasksPastTTL(t *testing.T) {
	s := NewStore(0, time.Millisecond)
	task := mustBuild(t, "t1")
	task.setState(StateDone)
	s.Add(task)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, s.Evict())
	_, ok := s.Get(task.ID)
	assert.False(t, ok)
}

func TestEvictDropsOldestTerminalTasksOverCapacity(t *testing.T) {
	s := NewStore(1, 0)
	older := mustBuild(t, "older")
	older.setState(StateDone)
	s.Add(older)

	time.Sleep(2 * time.Millisecond)
	newer := mustBuild(t, "newer")
	newer.setState(StateDone)
	s.Add(newer)

	assert.Equal(t, 1, s.Evict())
	_, ok := s.Get(older.ID)
	assert.False(t, ok)
	_, ok = s.Get(newer.ID)
	assert.True(t, ok)
}

func TestStoreList(t *testing.T) {
	s := NewStore(0, 0)
	s.Add(mustBuild(t, "t1"))
	s.Add(mustBuild(t, "t2"))
	assert.Len(t, s.List(), 2)
}
