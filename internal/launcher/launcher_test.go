package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/process"
	"github.com/coderunhq/coderun/internal/store"
)

func TestResolveFindsExecutableOnPath(t *testing.T) {
	path, err := Resolve(CLIDescriptor{ID: "cat", Executable: "cat"})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestResolveFailsForUnknownExecutable(t *testing.T) {
	_, err := Resolve(CLIDescriptor{ID: "nope", Executable: "no-such-coderun-cli-binary"})
	assert.Error(t, err)
}

func TestDescriptorFallsBackToIDAsExecutable(t *testing.T) {
	r := NewRegistry()
	d := r.Descriptor("some-custom-cli")
	assert.Equal(t, "some-custom-cli", d.Executable)
}

func TestRegistryKnowsBuiltinCLIs(t *testing.T) {
	r := NewRegistry()
	d := r.Descriptor("claude")
	assert.Equal(t, "claude", d.Executable)
	assert.Equal(t, "--dangerously-skip-permissions", d.AutoConfirmFlag)
}

func TestModelSwitcherWritesProfile(t *testing.T) {
	dir := t.TempDir()
	sw := NewModelSwitcher(dir)
	term := &model.Terminal{ModelConfigID: "claude-sonnet", BaseURL: "https://api.example.com"}

	require.NoError(t, sw.SwitchForTerminal("claude", term, "sk-test-key"))

	data, err := os.ReadFile(filepath.Join(dir, "claude", "profile.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "model: claude-sonnet")
	assert.Contains(t, string(data), "sk-test-key")
}

func TestStartTerminalsForWorkflowSpawnsInOrder(t *testing.T) {
	st := store.NewMemoryStore()
	st.SeedAPIKey("key-1", "sk-seeded")

	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1", OrderIndex: 0}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", OrderIndex: 0, CLIType: "test-cli", KeyHandle: "key-1"}
	require.NoError(t, st.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	registry := NewRegistry()
	registry.Register(CLIDescriptor{ID: "test-cli", Executable: "cat"})

	procs := process.NewManager(nil)
	b := bus.NewMemoryBus(nil)
	sw := NewModelSwitcher(t.TempDir())

	l := New(registry, sw, procs, st, b, nil)
	require.NoError(t, l.StartTerminalsForWorkflow(context.Background(), "wf-1"))
	defer l.StopAll(context.Background(), "wf-1")

	got, err := st.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalWaiting, got.Status)
	assert.NotEmpty(t, got.PTYSessionID)
	assert.True(t, procs.IsRunning("term-1"))
}

func TestStartTerminalFailsWhenCLIMissing(t *testing.T) {
	st := store.NewMemoryStore()
	st.SeedAPIKey("key-1", "sk-seeded")

	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1"}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", CLIType: "missing-cli", KeyHandle: "key-1"}
	require.NoError(t, st.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	registry := NewRegistry()
	procs := process.NewManager(nil)
	b := bus.NewMemoryBus(nil)
	l := New(registry, NewModelSwitcher(t.TempDir()), procs, st, b, nil)

	err := l.StartTerminalsForWorkflow(context.Background(), "wf-1")
	assert.Error(t, err)

	got, _ := st.GetTerminal(context.Background(), "term-1")
	assert.Equal(t, model.TerminalFailed, got.Status)
}

func TestStartTerminalFailsWhenDockerBackendUnconfigured(t *testing.T) {
	st := store.NewMemoryStore()
	st.SeedAPIKey("key-1", "sk-seeded")

	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1"}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", CLIType: "sandboxed-cli", KeyHandle: "key-1"}
	require.NoError(t, st.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	registry := NewRegistry()
	registry.Register(CLIDescriptor{ID: "sandboxed-cli", Executable: "some-agent", Backend: BackendDocker, DockerImage: "coderun/some-agent:latest"})

	procs := process.NewManager(nil)
	b := bus.NewMemoryBus(nil)
	l := New(registry, NewModelSwitcher(t.TempDir()), procs, st, b, nil)

	err := l.StartTerminalsForWorkflow(context.Background(), "wf-1")
	assert.Error(t, err, "a docker-backend CLI with no docker launcher attached must fail, not silently fall back to a host PTY")

	got, getErr := st.GetTerminal(context.Background(), "term-1")
	require.NoError(t, getErr)
	assert.Equal(t, model.TerminalFailed, got.Status)
}

func TestBridgeForwardsInputToStdin(t *testing.T) {
	st := store.NewMemoryStore()
	st.SeedAPIKey("key-1", "sk-seeded")

	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1"}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", CLIType: "test-cli", KeyHandle: "key-1"}
	require.NoError(t, st.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	registry := NewRegistry()
	registry.Register(CLIDescriptor{ID: "test-cli", Executable: "cat"})

	procs := process.NewManager(nil)
	b := bus.NewMemoryBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(registry, NewModelSwitcher(t.TempDir()), procs, st, b, nil)
	require.NoError(t, l.StartTerminalsForWorkflow(ctx, "wf-1"))
	defer l.StopAll(context.Background(), "wf-1")

	require.NoError(t, b.PublishTerminalInput("term-1", "irrelevant-session", "hello cat", ""))

	handle, ok := procs.Handle("term-1")
	require.True(t, ok)

	buf := make([]byte, 64)
	readDone := make(chan struct{})
	var n int
	go func() {
		n, _ = handle.Output().Read(buf)
		close(readDone)
	}()

	select {
	case <-readDone:
		assert.Contains(t, string(buf[:n]), "hello cat")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged input to echo back from cat")
	}
}
