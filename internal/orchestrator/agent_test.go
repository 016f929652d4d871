package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/llm"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/store"
)

func seedWorkflow(t *testing.T, st *store.MemoryStore) (*model.Workflow, *model.Task, *model.Terminal) {
	t.Helper()
	wf := &model.Workflow{ID: "wf-1", Name: "Demo", Status: model.WorkflowRunning, TargetBranch: "main"}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1", Name: "Implement", OrderIndex: 0, Status: model.TaskRunning}
	term := &model.Terminal{ID: "term-1", TaskID: "task-1", CLIType: "claude-code", OrderIndex: 0, Status: model.TerminalWaiting, PTYSessionID: "sess-1"}

	require.NoError(t, st.CreateWithTasks(context.Background(), wf, []*model.Task{task},
		map[string][]*model.Terminal{"task-1": {term}}))
	return wf, task, term
}

func TestAgentHandleTerminalCompletedMarksTaskCompleted(t *testing.T) {
	st := store.NewMemoryStore()
	_, _, _ = seedWorkflow(t, st)

	b := bus.NewMemoryBus(nil)
	mockLLM := llm.NewMockClient(llm.Response{Content: "Acknowledged."})

	agent := NewAgent(AgentConfig{WorkflowID: "wf-1", SystemPrompt: "system prompt"}, b, mockLLM, st, nil, nil)
	agent.state.InitTask("task-1", 1)

	err := agent.handleTerminalCompleted(context.Background(), bus.TerminalCompletedPayload{
		WorkflowID: "wf-1", TaskID: "task-1", TerminalID: "term-1",
		CommitHash: "abc123", CommitMsg: "done", Status: string(model.CompletionCompleted),
	})
	require.NoError(t, err)

	task, err := st.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
	assert.Equal(t, RunIdle, agent.State().RunState())
	assert.Equal(t, 1, mockLLM.CallCount())
	assert.Greater(t, agent.State().TotalTokensUsed(), 0, "a response with no provider usage must still account tokens via the estimator fallback")

	term, err := st.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalCompleted, term.Status)
	assert.Equal(t, "abc123", term.LastCommitHash)
}

func TestAgentHandleTerminalCompletedFailurePropagates(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)

	b := bus.NewMemoryBus(nil)
	mockLLM := llm.NewMockClient(llm.Response{Content: ""})
	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, mockLLM, st, nil, nil)
	agent.state.InitTask("task-1", 1)

	err := agent.handleTerminalCompleted(context.Background(), bus.TerminalCompletedPayload{
		TaskID: "task-1", TerminalID: "term-1", Status: string(model.CompletionFailed),
	})
	require.NoError(t, err)

	task, err := st.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, task.Status)
}

func TestAgentHandleGitEventPlainCommitRecordsSystemMessage(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)
	b := bus.NewMemoryBus(nil)
	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, llm.NewMockClient(), st, nil, nil)

	agent.handleGitEvent(context.Background(), bus.GitEventPayload{
		WorkflowID: "wf-1", CommitHash: "deadbeef01", Branch: "main", Message: "chore: tidy up", FullMessage: "chore: tidy up",
	})

	history := agent.State().ConversationHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "system", history[0].Role)
	assert.Contains(t, history[0].Content, "deadbeef")
	assert.True(t, agent.State().IsCommitProcessed("deadbeef01"))
}

func TestAgentHandleGitEventWithMetadataMarksTerminalCompleted(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)
	b := bus.NewMemoryBus(nil)
	recv := b.Subscribe(bus.WorkflowTopic("wf-1"))
	defer recv.Close()

	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, llm.NewMockClient(), st, nil, nil)

	full := "fix: done\n\n---METADATA---\nworkflow_id: wf-1\ntask_id: task-1\nterminal_id: term-1\nstatus: completed\nnext_action: stop\n"
	agent.handleGitEvent(context.Background(), bus.GitEventPayload{WorkflowID: "wf-1", CommitHash: "c1", FullMessage: full})

	term, err := st.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalCompleted, term.Status)

	select {
	case msg := <-recv.Recv():
		assert.Equal(t, bus.TypeTerminalCompleted, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a synthesized TerminalCompleted bus message")
	}
}

func TestAgentHandleGitEventCheckpointDoesNotAdvance(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)
	b := bus.NewMemoryBus(nil)
	recv := b.Subscribe(bus.WorkflowTopic("wf-1"))
	defer recv.Close()

	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, llm.NewMockClient(), st, nil, nil)

	full := "wip: still working\n\n---METADATA---\nworkflow_id: wf-1\ntask_id: task-1\nterminal_id: term-1\nstatus: completed\nnext_action: continue\n"
	agent.handleGitEvent(context.Background(), bus.GitEventPayload{WorkflowID: "wf-1", CommitHash: "c3", Branch: "main", Message: "wip: still working", FullMessage: full})

	term, err := st.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalWaiting, term.Status, "a checkpoint commit must not advance terminal status")

	select {
	case <-recv.Recv():
		t.Fatal("a checkpoint commit must not publish a synthesized TerminalCompleted event")
	case <-time.After(200 * time.Millisecond):
	}

	history := agent.State().ConversationHistory()
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Content, "Checkpoint commit detected")
}

func TestAgentHandleGitEventIgnoresOtherWorkflow(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)
	b := bus.NewMemoryBus(nil)
	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, llm.NewMockClient(), st, nil, nil)

	full := "---METADATA---\nworkflow_id: wf-other\ntask_id: task-1\nterminal_id: term-1\nstatus: completed\n"
	agent.handleGitEvent(context.Background(), bus.GitEventPayload{WorkflowID: "wf-1", CommitHash: "c2", FullMessage: full})

	term, err := st.GetTerminal(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalWaiting, term.Status, "a commit tagged for a different workflow must not mutate this workflow's terminal")
}

func TestAgentTerminalCompletedReviewRejectRoutesReviewedTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowRunning}
	task := &model.Task{ID: "task-1", WorkflowID: "wf-1", Status: model.TaskRunning}
	coder := &model.Terminal{ID: "term-coder", TaskID: "task-1", OrderIndex: 0, Status: model.TerminalCompleted, PTYSessionID: "sess-1"}
	reviewer := &model.Terminal{ID: "term-reviewer", TaskID: "task-1", OrderIndex: 1, Status: model.TerminalWorking, PTYSessionID: "sess-2"}
	require.NoError(t, st.CreateWithTasks(context.Background(), wf, []*model.Task{task},
		map[string][]*model.Terminal{"task-1": {coder, reviewer}}))

	b := bus.NewMemoryBus(nil)
	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, llm.NewMockClient(llm.Response{Content: "noted"}), st, nil, nil)
	agent.state.InitTask("task-1", 2)

	line := 3
	err := agent.handleTerminalCompleted(context.Background(), bus.TerminalCompletedPayload{
		WorkflowID: "wf-1", TaskID: "task-1", TerminalID: "term-reviewer",
		CommitHash: "rev456", CommitMsg: "review done", Status: string(model.CompletionReviewReject),
		Meta: &model.CommitMetadata{
			WorkflowID: "wf-1", TaskID: "task-1", TerminalID: "term-reviewer",
			Status: model.MetaReviewReject, ReviewedTerminal: "term-coder",
			Issues: []model.Issue{{Severity: "error", File: "x.go", Line: &line, Message: "bad"}},
		},
	})
	require.NoError(t, err)

	reviewed, err := st.GetTerminal(context.Background(), "term-coder")
	require.NoError(t, err)
	assert.Equal(t, model.TerminalReviewRejected, reviewed.Status)
}

func TestAgentRunExitsOnShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)
	b := bus.NewMemoryBus(nil)
	agent := NewAgent(AgentConfig{WorkflowID: "wf-1", SystemPrompt: "be helpful"}, b, llm.NewMockClient(), st, nil, nil)

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background()) }()

	// Give Run a moment to subscribe before publishing shutdown.
	time.Sleep(20 * time.Millisecond)
	_, err := b.PublishWorkflowEvent("wf-1", bus.Message{Type: bus.TypeShutdown})
	require.NoError(t, err)

	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Shutdown")
	}
}

func TestAgentHandleUserPromptResponseRejectsForeignTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	seedWorkflow(t, st)
	other := &model.Task{ID: "task-2", WorkflowID: "wf-other", Name: "X"}
	otherTerm := &model.Terminal{ID: "term-2", TaskID: "task-2", PTYSessionID: "sess-2"}
	require.NoError(t, st.CreateWithTasks(context.Background(), &model.Workflow{ID: "wf-other", Status: model.WorkflowRunning},
		[]*model.Task{other}, map[string][]*model.Terminal{"task-2": {otherTerm}}))

	b := bus.NewMemoryBus(nil)
	agent := NewAgent(AgentConfig{WorkflowID: "wf-1"}, b, llm.NewMockClient(), st, nil, nil)

	err := agent.HandleUserPromptResponse(context.Background(), "term-2", "approve")
	assert.Error(t, err)
}
