package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnPTYWithConfigRunsAndEchoes(t *testing.T) {
	m := NewManager(nil)
	handle, err := m.SpawnPTYWithConfig("term-1", SpawnConfig{Command: "cat", Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer m.KillTerminal("term-1")

	assert.Positive(t, handle.PID)
	assert.NotEmpty(t, handle.SessionID)
	assert.True(t, m.IsRunning("term-1"))

	_, err = handle.Stdin().Write([]byte("hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	readDone := make(chan struct{})
	var n int
	go func() {
		n, _ = handle.Output().Read(buf)
		close(readDone)
	}()

	select {
	case <-readDone:
		assert.Contains(t, string(buf[:n]), "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cat to echo input back")
	}

	// A PTY handle carries the Screen buffer that the tee read path feeds.
	assert.NotNil(t, handle.Screen())
}

func TestKillTerminalStopsProcess(t *testing.T) {
	m := NewManager(nil)
	handle, err := m.SpawnPTYWithConfig("term-2", SpawnConfig{Command: "cat"})
	require.NoError(t, err)

	require.NoError(t, m.KillTerminal("term-2"))

	select {
	case <-handleDone(handle):
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after kill")
	}
	assert.False(t, m.IsRunning("term-2"))
}

func handleDone(h *Handle) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	return done
}

func TestKillTerminalIsNoopForUnknownTerminal(t *testing.T) {
	m := NewManager(nil)
	assert.NoError(t, m.KillTerminal("no-such-terminal"))
}

func TestHandleLookup(t *testing.T) {
	m := NewManager(nil)
	_, ok := m.Handle("missing")
	assert.False(t, ok)

	handle, err := m.SpawnPTYWithConfig("term-3", SpawnConfig{Command: "cat"})
	require.NoError(t, err)
	defer m.KillTerminal("term-3")

	got, ok := m.Handle("term-3")
	require.True(t, ok)
	assert.Equal(t, handle.PID, got.PID)
}

func TestResizeDefaultsApplied(t *testing.T) {
	m := NewManager(nil)
	handle, err := m.SpawnPTYWithConfig("term-4", SpawnConfig{Command: "cat"})
	require.NoError(t, err)
	defer m.KillTerminal("term-4")

	assert.Len(t, handle.Screen().Snapshot(), 40, "rows default to 40 when SpawnConfig leaves them unset")
	require.NoError(t, handle.Resize(100, 30))
}
