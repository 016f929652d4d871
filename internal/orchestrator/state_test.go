package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState("wf-1", 0)
	assert.Equal(t, "wf-1", s.WorkflowID())
	assert.Equal(t, RunIdle, s.RunState())
}

func TestTransitionToValidAndInvalid(t *testing.T) {
	s := NewState("wf-1", 10)
	require.NoError(t, s.TransitionTo(RunProcessing))
	assert.Equal(t, RunProcessing, s.RunState())

	require.NoError(t, s.TransitionTo(RunStopped))
	assert.Equal(t, RunStopped, s.RunState())

	err := s.TransitionTo(RunProcessing)
	assert.Error(t, err)
	assert.Equal(t, RunStopped, s.RunState(), "invalid transition must not mutate state")
}

func TestTransitionToSameStateIsNoop(t *testing.T) {
	s := NewState("wf-1", 10)
	require.NoError(t, s.TransitionTo(RunIdle))
	assert.Equal(t, RunIdle, s.RunState())
}

func TestInitTaskIsIdempotent(t *testing.T) {
	s := NewState("wf-1", 10)
	s.InitTask("task-1", 3)
	s.InitTask("task-1", 99) // should not overwrite

	p, ok := s.TaskProgressSnapshot("task-1")
	require.True(t, ok)
	assert.Equal(t, 3, p.TotalTerminals)
}

func TestMarkTerminalCompletedIsIdempotent(t *testing.T) {
	s := NewState("wf-1", 10)
	s.InitTask("task-1", 2)

	s.MarkTerminalCompleted("task-1", "term-1", true)
	s.MarkTerminalCompleted("task-1", "term-1", true) // duplicate, ignored
	s.MarkTerminalCompleted("task-1", "term-2", false)

	p, ok := s.TaskProgressSnapshot("task-1")
	require.True(t, ok)
	assert.Equal(t, []string{"term-1"}, p.CompletedTerminals)
	assert.Equal(t, []string{"term-2"}, p.FailedTerminals)
	assert.True(t, p.IsCompleted)
	assert.True(t, s.TaskHasFailures("task-1"))
	assert.True(t, s.TaskIsCompleted("task-1"))
}

func TestMarkTerminalCompletedInitializesMissingTask(t *testing.T) {
	s := NewState("wf-1", 10)
	s.MarkTerminalCompleted("unseen-task", "term-1", true)
	assert.True(t, s.HasTask("unseen-task"))
}

func TestAdvanceTerminal(t *testing.T) {
	s := NewState("wf-1", 10)
	s.InitTask("task-1", 2)

	idx, ok := s.GetNextTerminalForTask("task-1")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	assert.True(t, s.AdvanceTerminal("task-1"))
	idx, ok = s.GetNextTerminalForTask("task-1")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	assert.False(t, s.AdvanceTerminal("task-1"), "no terminal left beyond the last index")
}

func TestGetNextTerminalForTaskWhenCompleted(t *testing.T) {
	s := NewState("wf-1", 10)
	s.InitTask("task-1", 1)
	s.MarkTerminalCompleted("task-1", "term-1", true)

	_, ok := s.GetNextTerminalForTask("task-1")
	assert.False(t, ok)
}

func TestAddMessagePrunesRetainingSystemMessages(t *testing.T) {
	s := NewState("wf-1", 3)
	s.AddMessage("system", "you are the orchestrator")
	s.AddMessage("user", "turn 1")
	s.AddMessage("assistant", "turn 1 reply")
	s.AddMessage("user", "turn 2")
	s.AddMessage("assistant", "turn 2 reply")

	history := s.ConversationHistory()
	require.Len(t, history, 3)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "turn 2", history[1].Content)
	assert.Equal(t, "turn 2 reply", history[2].Content)
}

func TestTokensAndErrorCounters(t *testing.T) {
	s := NewState("wf-1", 10)
	s.AddTokensUsed(100)
	s.AddTokensUsed(50)
	assert.Equal(t, 150, s.TotalTokensUsed())

	s.IncrementErrorCount()
	s.IncrementErrorCount()
	assert.Equal(t, 2, s.ErrorCount())
}

func TestCommitProcessedTracking(t *testing.T) {
	s := NewState("wf-1", 10)
	assert.False(t, s.IsCommitProcessed("abc123"))
	s.MarkCommitProcessed("abc123")
	assert.True(t, s.IsCommitProcessed("abc123"))
}
