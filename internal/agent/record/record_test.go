package record

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordStartsInStarting(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	assert.Equal(t, StateStarting, r.State())
	assert.NotNil(t, r.Permissions)
	assert.WithinDuration(t, r.CreatedAt(), r.UpdatedAt(), 0)
}

func TestSetState(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	before := r.UpdatedAt()
	r.SetState(StateIdle)
	assert.Equal(t, StateIdle, r.State())
	assert.True(t, !r.UpdatedAt().Before(before))
}

func TestAppendTextFansOutToSubscribers(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	var got []string
	token := r.Subscribe(func(chunk string) { got = append(got, chunk) })

	r.AppendText("hello ")
	r.AppendText("world")

	assert.Equal(t, []string{"hello ", "world"}, got)
	assert.Equal(t, "hello world", r.CurrentText())

	r.Unsubscribe(token)
	r.AppendText("!")
	assert.Equal(t, []string{"hello ", "world"}, got)
}

func TestResetCurrentTextPreservesLastText(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	r.AppendText("final reply")
	r.ResetCurrentText()

	assert.Empty(t, r.CurrentText())
	assert.Equal(t, "final reply", r.LastText())
}

func TestAppendStderrBoundedRingBuffer(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	for i := 0; i < stderrBufferCap+10; i++ {
		r.AppendStderr("line")
	}
	assert.Len(t, r.StderrSnapshot(), stderrBufferCap)
	assert.Equal(t, "line", r.LastError())
}

func TestActiveTaskClearGuardsAgainstNewerClaim(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	r.SetActiveTask(&ActiveTask{TaskID: "t1", SubtaskID: "s1"})

	// A newer claim races in before the stale clear arrives.
	r.SetActiveTask(&ActiveTask{TaskID: "t2", SubtaskID: "s1"})
	r.ClearActiveTaskIfMatches("t1", "s1")

	require.NotNil(t, r.ActiveTask())
	assert.Equal(t, "t2", r.ActiveTask().TaskID)

	r.ClearActiveTaskIfMatches("t2", "s1")
	assert.Nil(t, r.ActiveTask())
}

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore()
	r := New("agent-1", "opencode", "/tmp")

	require.NoError(t, s.Add(r))
	assert.ErrorContains(t, s.Add(r), "already exists")

	assert.Equal(t, r, s.Get("agent-1"))
	assert.Nil(t, s.Get("missing"))
	assert.Equal(t, 1, s.Len())

	removed := s.Remove("agent-1")
	assert.Equal(t, r, removed)
	assert.Nil(t, s.Get("agent-1"))
	assert.Equal(t, 0, s.Len())
}

func TestStoreListIsSortedByName(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(New("charlie", "opencode", "/tmp")))
	require.NoError(t, s.Add(New("alpha", "opencode", "/tmp")))
	require.NoError(t, s.Add(New("bravo", "opencode", "/tmp")))

	names := make([]string, 0, 3)
	for _, r := range s.List() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

func TestTryBeginWorkClaimsOnlyOnce(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	require.True(t, r.TryBeginWork())
	assert.Equal(t, StateWorking, r.State())
	assert.False(t, r.TryBeginWork())

	r.SetState(StateIdle)
	assert.True(t, r.TryBeginWork())
}

func TestTryBeginWorkUnderConcurrencyHasExactlyOneWinner(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")

	const racers = 50
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			wins <- r.TryBeginWork()
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent TryBeginWork call must win")
}

func TestSnapshot(t *testing.T) {
	r := New("agent-1", "opencode", "/tmp")
	r.SetState(StateWorking)
	r.AppendText("partial")
	r.SetStopReason("end_turn")

	snap := r.Snapshot()
	assert.Equal(t, "agent-1", snap.Name)
	assert.Equal(t, StateWorking, snap.State)
	assert.Equal(t, "end_turn", snap.StopReason)
}
