package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderunhq/coderun/internal/model"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	return s
}

func TestSQLiteStoreCreateAndGetWorkflow(t *testing.T) {
	s := openTestSQLite(t)
	wf := &model.Workflow{ID: "wf-1", Name: "Demo", Status: model.WorkflowReady, TargetBranch: "main"}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1", Name: "Build", OrderIndex: 0, Status: model.TaskPending}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", CLIType: "claude", OrderIndex: 0, Status: model.TerminalNotStarted}

	require.NoError(t, s.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	got, err := s.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)
	assert.Equal(t, model.WorkflowReady, got.Status)

	tasks, err := s.ListTasksForWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Build", tasks[0].Name)

	terms, err := s.ListTerminalsForTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "claude", terms[0].CLIType)
}

func TestSQLiteStoreGetWorkflowNotFound(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.GetWorkflow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLiteStoreSetWorkflowStatusAndStarted(t *testing.T) {
	s := openTestSQLite(t)
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowReady}
	require.NoError(t, s.CreateWithTasks(context.Background(), wf, nil, nil))

	require.NoError(t, s.SetWorkflowStarted(context.Background(), "wf-1"))
	got, err := s.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.SetWorkflowStatus(context.Background(), "wf-1", model.WorkflowCompleted))
	got, err = s.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, got.Status)
}

func TestSQLiteStoreTerminalLifecycle(t *testing.T) {
	s := openTestSQLite(t)
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowReady}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1"}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1"}
	require.NoError(t, s.CreateWithTasks(context.Background(), wf, []*model.Task{task}, map[string][]*model.Terminal{"task-1": {term}}))

	require.NoError(t, s.SetTerminalStarted(context.Background(), "term-1", 12345, "sess-abc"))
	require.NoError(t, s.SetTerminalStatus(context.Background(), "term-1", model.TerminalWaiting))
	require.NoError(t, s.SetTerminalCommit(context.Background(), "term-1", "deadbeef", "did the thing"))

	got, err := s.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 12345, got.PID)
	assert.Equal(t, "sess-abc", got.PTYSessionID)
	assert.Equal(t, model.TerminalWaiting, got.Status)
	assert.Equal(t, "deadbeef", got.LastCommitHash)
}

func TestSQLiteStoreRecordGitEventAndListRunningWorkflows(t *testing.T) {
	s := openTestSQLite(t)
	wf1 := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	wf2 := &model.Workflow{ID: "wf-2", Status: model.WorkflowReady}
	require.NoError(t, s.CreateWithTasks(context.Background(), wf1, nil, nil))
	require.NoError(t, s.CreateWithTasks(context.Background(), wf2, nil, nil))

	require.NoError(t, s.RecordGitEvent(context.Background(), &model.GitEventRecord{
		ID: "ev-1", WorkflowID: "wf-1", CommitHash: "abc123", ProcessStatus: "handled",
	}))

	running, err := s.ListRunningWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "wf-1", running[0].ID)
}

func TestSQLiteStoreSlashCommandPresetNotFound(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.GetSlashCommandPreset(context.Background(), "missing")
	assert.Error(t, err)
}
