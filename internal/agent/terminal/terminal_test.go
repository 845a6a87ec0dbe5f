package terminal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForExit(t *testing.T, m *Manager, id string) (string, int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		output, exited, code, ok := m.Output(id)
		require.True(t, ok)
		if exited {
			return output, code
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("terminal did not exit in time")
	return "", 0
}

func TestCreateCapturesOutputAndExitCode(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	id, err := m.Create("echo hello-terminal", nil, "")
	require.NoError(t, err)

	output, code := waitForExit(t, m, id)
	assert.Equal(t, 0, code)
	assert.True(t, strings.Contains(output, "hello-terminal"))
}

func TestCreateWithNonZeroExit(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	id, err := m.Create("exit 7", nil, "")
	require.NoError(t, err)

	_, code := waitForExit(t, m, id)
	assert.Equal(t, 7, code)
}

func TestOutputOnUnknownIDIsNotFound(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	_, _, _, ok := m.Output("ghost")
	assert.False(t, ok)
}

func TestKillUnknownTerminalErrors(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	assert.Error(t, m.Kill("ghost"))
}

func TestReleaseForgetsTheTerminal(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	id, err := m.Create("echo done", nil, "")
	require.NoError(t, err)
	waitForExit(t, m, id)

	require.NoError(t, m.Release(id))
	_, _, _, ok := m.Output(id)
	assert.False(t, ok)
}

func TestWaitExitBlocksUntilProcessExits(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	id, err := m.Create("sleep 0.05 && exit 3", nil, "")
	require.NoError(t, err)

	code, ok := m.WaitExit(id)
	require.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestWaitExitOnUnknownIDIsNotFound(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	_, ok := m.WaitExit("ghost")
	assert.False(t, ok)
}

func TestAllocateIDsAreUnique(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	first, err := m.Create("true", nil, "")
	require.NoError(t, err)
	second, err := m.Create("true", nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	waitForExit(t, m, first)
	waitForExit(t, m, second)
}
