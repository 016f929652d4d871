package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderunhq/coderun/internal/model"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	m := NewMemoryStore()
	wf := &model.Workflow{ID: "wf-1", Name: "Demo", Status: model.WorkflowReady}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1", OrderIndex: 0}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", OrderIndex: 0}
	require.NoError(t, m.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	got, err := m.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)

	tasks, err := m.ListTasksForWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	terms, err := m.ListTerminalsForTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, terms, 1)
}

func TestMemoryStoreGetWorkflowNotFound(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.GetWorkflow(context.Background(), "no-such-id")
	assert.Error(t, err)
}

func TestMemoryStoreSetWorkflowStartedRequiresReady(t *testing.T) {
	m := NewMemoryStore()
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	require.NoError(t, m.CreateWithTasks(context.Background(), wf, nil, nil))

	err := m.SetWorkflowStarted(context.Background(), "wf-1")
	assert.Error(t, err, "setting started on an already-running workflow should fail the CAS")
}

func TestMemoryStoreSetWorkflowStartedFromReady(t *testing.T) {
	m := NewMemoryStore()
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowReady}
	require.NoError(t, m.CreateWithTasks(context.Background(), wf, nil, nil))

	require.NoError(t, m.SetWorkflowStarted(context.Background(), "wf-1"))
	got, _ := m.GetWorkflow(context.Background(), "wf-1")
	assert.Equal(t, model.WorkflowRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestMemoryStoreSeedAPIKeyAndDecrypt(t *testing.T) {
	m := NewMemoryStore()
	m.SeedAPIKey("handle-1", "sk-secret")

	v, err := m.DecryptedAPIKey(context.Background(), "handle-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", v)

	_, err = m.DecryptedAPIKey(context.Background(), "no-such-handle")
	assert.Error(t, err)
}

func TestMemoryStoreSeedPresetAndGet(t *testing.T) {
	m := NewMemoryStore()
	m.SeedPreset(&model.SlashCommandPreset{ID: "preset-1", Command: "/review", PromptTemplate: "review {{name}}"})

	p, err := m.GetSlashCommandPreset(context.Background(), "preset-1")
	require.NoError(t, err)
	assert.Equal(t, "/review", p.Command)

	_, err = m.GetSlashCommandPreset(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMemoryStoreSetTerminalCommit(t *testing.T) {
	m := NewMemoryStore()
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowReady}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1"}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1"}
	require.NoError(t, m.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	require.NoError(t, m.SetTerminalCommit(context.Background(), "term-1", "abc123", "fix stuff"))
	got, err := m.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.LastCommitHash)
	assert.Equal(t, "fix stuff", got.LastCommitMsg)

	assert.Error(t, m.SetTerminalCommit(context.Background(), "no-such-term", "x", "y"))
}

func TestMemoryStoreRecordGitEventAndListRunningWorkflows(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.RecordGitEvent(context.Background(), &model.GitEventRecord{ID: "ev-1", WorkflowID: "wf-1", CommitHash: "abc"}))

	wf1 := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	wf2 := &model.Workflow{ID: "wf-2", Status: model.WorkflowReady}
	require.NoError(t, m.CreateWithTasks(context.Background(), wf1, nil, nil))
	require.NoError(t, m.CreateWithTasks(context.Background(), wf2, nil, nil))

	running, err := m.ListRunningWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "wf-1", running[0].ID)
}

func TestWithSecretsResolverRoutesKeyLookups(t *testing.T) {
	m := NewMemoryStore()
	wrapped := WithSecretsResolver(m, func(_ context.Context, handle string) (string, error) {
		if handle == "handle-1" {
			return "sk-resolved", nil
		}
		return "", errors.New("unknown handle")
	})

	v, err := wrapped.DecryptedAPIKey(context.Background(), "handle-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-resolved", v)

	_, err = wrapped.DecryptedAPIKey(context.Background(), "other")
	assert.Error(t, err)

	// Non-secret methods pass through to the wrapped backend.
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowReady}
	require.NoError(t, wrapped.CreateWithTasks(context.Background(), wf, nil, nil))
	got, err := wrapped.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowReady, got.Status)
}

func TestMemoryStoreListWorkflowCommandsEmptyIsNilNotError(t *testing.T) {
	m := NewMemoryStore()
	cmds, err := m.ListWorkflowCommands(context.Background(), "no-such-workflow")
	require.NoError(t, err)
	assert.Empty(t, cmds)
}
