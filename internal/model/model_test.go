package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionWorkflow(t *testing.T) {
	assert.True(t, CanTransitionWorkflow(WorkflowReady, WorkflowRunning))
	assert.True(t, CanTransitionWorkflow(WorkflowRunning, WorkflowMerging))
	assert.False(t, CanTransitionWorkflow(WorkflowReady, WorkflowCompleted))
	assert.False(t, CanTransitionWorkflow(WorkflowCompleted, WorkflowRunning))
}

func TestCanTransitionTask(t *testing.T) {
	assert.True(t, CanTransitionTask(TaskPending, TaskRunning))
	assert.True(t, CanTransitionTask(TaskReviewPending, TaskRunning))
	assert.False(t, CanTransitionTask(TaskPending, TaskCompleted))
	assert.False(t, CanTransitionTask(TaskFailed, TaskRunning))
}

func TestCanTransitionTerminal(t *testing.T) {
	assert.True(t, CanTransitionTerminal(TerminalWorking, TerminalReviewRejected))
	assert.True(t, CanTransitionTerminal(TerminalReviewRejected, TerminalWorking))
	assert.False(t, CanTransitionTerminal(TerminalReviewPassed, TerminalWorking))
	assert.False(t, CanTransitionTerminal(TerminalNotStarted, TerminalWorking))
}

func TestDeriveCompletionStatus(t *testing.T) {
	cases := []struct {
		name string
		meta *CommitMetadata
		want CompletionStatus
	}{
		{"nil metadata", nil, CompletionNone},
		{"completed, no next action", &CommitMetadata{Status: MetaCompleted}, CompletionCompleted},
		{"completed, continue", &CommitMetadata{Status: MetaCompleted, NextAction: "continue"}, CompletionNone},
		{"completed, retry", &CommitMetadata{Status: MetaCompleted, NextAction: "retry"}, CompletionNone},
		{"review pass", &CommitMetadata{Status: MetaReviewPass}, CompletionReviewPass},
		{"review reject", &CommitMetadata{Status: MetaReviewReject}, CompletionReviewReject},
		{"failed", &CommitMetadata{Status: MetaFailed}, CompletionFailed},
		{"unrecognized status", &CommitMetadata{Status: "bogus"}, CompletionNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveCompletionStatus(tc.meta))
		})
	}
}

func TestIsCheckpoint(t *testing.T) {
	assert.True(t, (&CommitMetadata{Status: MetaCompleted, NextAction: "continue"}).IsCheckpoint())
	assert.True(t, (&CommitMetadata{Status: MetaCompleted, NextAction: "retry"}).IsCheckpoint())
	assert.False(t, (&CommitMetadata{Status: MetaCompleted}).IsCheckpoint())
	assert.False(t, (&CommitMetadata{Status: MetaFailed, NextAction: "continue"}).IsCheckpoint())

	var nilMeta *CommitMetadata
	assert.False(t, nilMeta.IsCheckpoint())
}
