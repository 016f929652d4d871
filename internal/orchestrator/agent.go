package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/gitmeta"
	"github.com/coderunhq/coderun/internal/llm"
	"github.com/coderunhq/coderun/internal/logger"
	"github.com/coderunhq/coderun/internal/merge"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/store"
)

// AgentConfig configures one Orchestrator Agent instance.
type AgentConfig struct {
	WorkflowID             string
	SystemPrompt           string
	BaseRepoPath           string
	MaxConversationHistory int
}

// Agent drives one workflow's orchestration: a single-consumer event
// loop over the workflow's topic, built on the already-assembled State,
// Bus, LLM Client, and Store.
type Agent struct {
	cfg    AgentConfig
	state  *State
	bus    bus.Bus
	llm    llm.Client
	store  store.Store
	merger *merge.Driver
	log    *logger.Logger
}

func NewAgent(cfg AgentConfig, b bus.Bus, llmClient llm.Client, st store.Store, merger *merge.Driver, log *logger.Logger) *Agent {
	if log == nil {
		log = logger.Default()
	}
	return &Agent{
		cfg:    cfg,
		state:  NewState(cfg.WorkflowID, cfg.MaxConversationHistory),
		bus:    b,
		llm:    llmClient,
		store:  st,
		merger: merger,
		log:    log.WithWorkflowID(cfg.WorkflowID),
	}
}

// State exposes the agent's in-memory OrchestratorState, for tests and
// for the Runtime Registry's crash-recovery inspection.
func (a *Agent) State() *State { return a.state }

// Run subscribes to the workflow topic, seeds the conversation, runs
// slash commands and initial dispatch, then consumes events until a
// Shutdown message is observed or ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	recv := a.bus.Subscribe(bus.WorkflowTopic(a.cfg.WorkflowID))
	defer recv.Close()

	a.state.AddMessage("system", a.cfg.SystemPrompt)

	wf, err := a.store.GetWorkflow(ctx, a.cfg.WorkflowID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "run: load workflow failed", err)
	}

	if wf.UseSlashCommands {
		if err := a.runSlashCommands(ctx, wf); err != nil {
			a.log.Error("orchestrator: slash command execution failed", zap.Error(err))
		}
	}

	a.autoDispatchInitialTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-recv.Recv():
			if !ok {
				return nil
			}
			if msg.Type == bus.TypeShutdown {
				return nil
			}
			a.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one bus message by type; unrecognized types are ignored.
func (a *Agent) dispatch(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeTerminalCompleted:
		payload, ok := msg.Payload.(bus.TerminalCompletedPayload)
		if !ok {
			return
		}
		if err := a.handleTerminalCompleted(ctx, payload); err != nil {
			a.log.Error("orchestrator: terminal completed handling failed", zap.Error(err))
		}
	case bus.TypeTerminalPromptDetected:
		a.log.Info("orchestrator: terminal prompt detected", zap.Any("payload", msg.Payload))
	case bus.TypeGitEvent:
		payload, ok := msg.Payload.(bus.GitEventPayload)
		if !ok {
			return
		}
		a.handleGitEvent(ctx, payload)
	default:
		// All other bus message types are not acted upon by the agent loop.
	}
}

// autoDispatchInitialTasks dispatches the next waiting terminal of every
// unsettled task. Per-task errors are logged and do not abort the
// dispatch of sibling tasks.
func (a *Agent) autoDispatchInitialTasks(ctx context.Context) {
	tasks, err := a.store.ListTasksForWorkflow(ctx, a.cfg.WorkflowID)
	if err != nil {
		a.log.Error("orchestrator: auto-dispatch: list tasks failed", zap.Error(err))
		return
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].OrderIndex < tasks[j].OrderIndex })

	for _, task := range tasks {
		if task.Status == model.TaskCompleted || task.Status == model.TaskFailed || task.Status == model.TaskCancelled {
			continue
		}
		if err := a.dispatchNextForTask(ctx, task); err != nil {
			a.log.Error("orchestrator: auto-dispatch failed for task", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

// dispatchNextForTask loads task's terminals, initializes progress if
// absent, and dispatches the next waiting terminal, if any.
func (a *Agent) dispatchNextForTask(ctx context.Context, task *model.Task) error {
	terminals, err := a.store.ListTerminalsForTask(ctx, task.ID)
	if err != nil {
		return err
	}
	sort.Slice(terminals, func(i, j int) bool { return terminals[i].OrderIndex < terminals[j].OrderIndex })

	if !a.state.HasTask(task.ID) {
		a.state.InitTask(task.ID, len(terminals))
	}

	idx, ok := a.state.GetNextTerminalForTask(task.ID)
	if !ok || idx >= len(terminals) {
		return nil
	}
	term := terminals[idx]
	if term.Status != model.TerminalWaiting {
		return nil
	}
	return a.dispatchTerminal(ctx, task, term, len(terminals))
}

// dispatchTerminal marks a waiting terminal working and sends it its
// task instruction. A terminal with no PTY session cannot receive input
// and fails, cascading to its task.
func (a *Agent) dispatchTerminal(ctx context.Context, task *model.Task, term *model.Terminal, totalTerminals int) error {
	if term.PTYSessionID == "" {
		a.broadcastTerminalStatus(ctx, term.ID, model.TerminalFailed)
		a.broadcastTaskStatus(ctx, task.ID, model.TaskFailed)
		a.publishError(ctx, "terminal "+term.ID+" has no pty_session_id; cannot dispatch")
		return apperrors.New(apperrors.CodeValidationMissing, "terminal missing pty_session_id: "+term.ID)
	}

	if err := a.store.SetTerminalStatus(ctx, term.ID, model.TerminalWorking); err != nil {
		return err
	}
	if err := a.setTaskStatusChecked(ctx, task.ID, model.TaskRunning); err != nil {
		return err
	}

	instruction := BuildTaskInstruction(task, term, totalTerminals)
	return a.sendToTerminal(term.ID, term.PTYSessionID, instruction)
}

// sendToTerminal delivers message to a terminal: prefer
// terminal.input.<id>, fall back to the legacy session-id topic only
// when the primary has no live subscriber.
func (a *Agent) sendToTerminal(terminalID, sessionID, message string) error {
	return a.bus.PublishTerminalInput(terminalID, sessionID, message, "")
}

// handleTerminalCompleted advances task progress for the reporting
// terminal, persists the outcome, consults the LLM, executes any
// instruction it returns, and dispatches the next terminal when one
// remains.
func (a *Agent) handleTerminalCompleted(ctx context.Context, ev bus.TerminalCompletedPayload) error {
	success := ev.Status == string(model.CompletionCompleted) || ev.Status == string(model.CompletionReviewPass)

	if err := a.state.TransitionTo(RunProcessing); err != nil {
		a.log.Debug("orchestrator: run-state transition skipped", zap.Error(err))
	}

	a.state.MarkTerminalCompleted(ev.TaskID, ev.TerminalID, success)
	if success {
		a.state.AdvanceTerminal(ev.TaskID)
	}
	nextIdx, hasNext := a.state.GetNextTerminalForTask(ev.TaskID)
	taskCompleted := a.state.TaskIsCompleted(ev.TaskID)
	taskHasFailures := a.state.TaskHasFailures(ev.TaskID)

	a.persistCompletedTerminal(ctx, ev)

	switch {
	case !success:
		_ = a.setTaskStatusChecked(ctx, ev.TaskID, model.TaskFailed)
	case taskHasFailures && taskCompleted:
		_ = a.setTaskStatusChecked(ctx, ev.TaskID, model.TaskFailed)
	case taskCompleted:
		_ = a.setTaskStatusChecked(ctx, ev.TaskID, model.TaskCompleted)
	}

	// With no LLM configured the workflow still advances terminal by
	// terminal; there is just no decision loop riding on top.
	if a.llm != nil {
		prompt := fmt.Sprintf(
			"Terminal %s (task %s) reported commit %s: %s",
			ev.TerminalID, ev.TaskID, ev.CommitHash, ev.CommitMsg,
		)
		a.state.AddMessage("user", prompt)

		resp, err := a.llm.Chat(ctx, a.state.ConversationHistory())
		if err != nil {
			a.state.IncrementErrorCount()
			_ = a.state.TransitionTo(RunIdle)
			return apperrors.Wrap(apperrors.CodeLLMTimeout, "orchestrator: llm call failed after terminal completion", err)
		}
		a.state.AddMessage("assistant", resp.Content)
		if resp.Usage != nil {
			a.state.AddTokensUsed(resp.Usage.TotalTokens)
		} else {
			a.state.AddTokensUsed(llm.EstimateTokens([]llm.Message{{Role: "assistant", Content: resp.Content}}))
		}

		if instr, ok := ParseInstruction(resp.Content); ok {
			if err := a.executeInstruction(ctx, instr); err != nil {
				a.log.Error("orchestrator: instruction execution failed", zap.Error(err))
			}
		}
	}

	if success && hasNext && !taskHasFailures {
		terminals, err := a.store.ListTerminalsForTask(ctx, ev.TaskID)
		if err == nil {
			sort.Slice(terminals, func(i, j int) bool { return terminals[i].OrderIndex < terminals[j].OrderIndex })
			if nextIdx < len(terminals) {
				task, terr := a.store.GetTask(ctx, ev.TaskID)
				if terr == nil {
					if derr := a.dispatchTerminal(ctx, task, terminals[nextIdx], len(terminals)); derr != nil {
						a.log.Error("orchestrator: failed to dispatch next terminal", zap.Error(derr))
					}
				}
			}
		}
	}

	return a.state.TransitionTo(RunIdle)
}

// persistCompletedTerminal records the reporting terminal's final status
// and last commit, and routes review outcomes to the reviewed terminal
// when the event carries commit metadata. A reviewer that reports
// review_pass or review_reject has itself finished its step; the review
// verdict lands on the terminal it reviewed.
func (a *Agent) persistCompletedTerminal(ctx context.Context, ev bus.TerminalCompletedPayload) {
	switch model.CompletionStatus(ev.Status) {
	case model.CompletionFailed:
		_ = a.store.SetTerminalStatus(ctx, ev.TerminalID, model.TerminalFailed)
	case model.CompletionCompleted, model.CompletionReviewPass, model.CompletionReviewReject:
		_ = a.store.SetTerminalStatus(ctx, ev.TerminalID, model.TerminalCompleted)
	}
	if ev.CommitHash != "" {
		_ = a.store.SetTerminalCommit(ctx, ev.TerminalID, ev.CommitHash, ev.CommitMsg)
	}

	if ev.Meta == nil || ev.Meta.ReviewedTerminal == "" {
		return
	}
	switch model.CompletionStatus(ev.Status) {
	case model.CompletionReviewPass:
		a.broadcastTerminalStatus(ctx, ev.Meta.ReviewedTerminal, model.TerminalReviewPassed)
	case model.CompletionReviewReject:
		a.broadcastTerminalStatus(ctx, ev.Meta.ReviewedTerminal, model.TerminalReviewRejected)
	}
}

// executeInstruction acts on a decoded LLM instruction. Unrecognized
// types are a logged no-op, never an error.
func (a *Agent) executeInstruction(ctx context.Context, instr *Instruction) error {
	switch instr.Type {
	case InstrSendToTerminal:
		return a.execSendToTerminal(ctx, instr.TerminalID, instr.Message)
	case InstrStartTask:
		return a.execStartTask(ctx, instr.TaskID)
	case InstrReviewCode:
		msg := fmt.Sprintf("Please review commit %s and report findings via the commit metadata block.", instr.CommitHash)
		return a.execSendToTerminal(ctx, instr.TerminalID, msg)
	case InstrFixIssues:
		msg := "Please fix the following issues:\n" + strings.Join(instr.Issues, "\n")
		return a.execSendToTerminal(ctx, instr.TerminalID, msg)
	case InstrMergeBranch:
		return a.execMergeBranch(ctx, instr)
	case InstrPauseWorkflow:
		return a.execPauseWorkflow(ctx, instr.Reason)
	case InstrCompleteWorkflow:
		return a.execCompleteWorkflow(ctx, instr.Summary)
	case InstrFailWorkflow:
		return a.execFailWorkflow(ctx, instr.Reason)
	default:
		a.log.Debug("orchestrator: unrecognized instruction type, no-op", zap.String("type", string(instr.Type)))
		return nil
	}
}

func (a *Agent) execSendToTerminal(ctx context.Context, terminalID, message string) error {
	term, err := a.store.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}
	if term.PTYSessionID == "" {
		return apperrors.New(apperrors.CodeValidationMissing, "terminal missing pty_session_id: "+terminalID)
	}
	return a.sendToTerminal(term.ID, term.PTYSessionID, message)
}

func (a *Agent) execStartTask(ctx context.Context, taskID string) error {
	task, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return a.dispatchNextForTask(ctx, task)
}

func (a *Agent) execMergeBranch(ctx context.Context, instr *Instruction) error {
	if a.merger == nil {
		return apperrors.New(apperrors.CodeMergeFailed, "merge driver not configured")
	}
	branch := merge.TaskBranch{
		TaskID:       instr.SourceBranch,
		WorktreePath: a.cfg.BaseRepoPath,
		Branch:       instr.SourceBranch,
	}
	err := a.merger.MergeAll(ctx, a.cfg.BaseRepoPath, instr.TargetBranch, []merge.TaskBranch{branch})
	return a.finishMerge(ctx, err)
}

func (a *Agent) execPauseWorkflow(ctx context.Context, reason string) error {
	if err := a.setWorkflowStatusChecked(ctx, model.WorkflowPaused); err != nil {
		return err
	}
	a.publishWorkflowStatusUpdate(model.WorkflowPaused)
	a.log.Info("orchestrator: workflow paused", zap.String("reason", reason))
	return a.state.TransitionTo(RunPaused)
}

func (a *Agent) execCompleteWorkflow(ctx context.Context, summary string) error {
	if err := a.setWorkflowStatusChecked(ctx, model.WorkflowCompleted); err != nil {
		return err
	}
	a.publishWorkflowStatusUpdate(model.WorkflowCompleted)
	a.log.Info("orchestrator: workflow completed", zap.String("summary", summary))
	return a.state.TransitionTo(RunIdle)
}

func (a *Agent) execFailWorkflow(ctx context.Context, reason string) error {
	if err := a.setWorkflowStatusChecked(ctx, model.WorkflowFailed); err != nil {
		return err
	}
	a.publishError(ctx, "workflow failed: "+reason)
	return a.state.TransitionTo(RunIdle)
}

// handleGitEvent handles a bare git event: dedupes by commit hash,
// parses metadata, and routes review/completion/failure outcomes to
// terminal status updates.
func (a *Agent) handleGitEvent(ctx context.Context, ev bus.GitEventPayload) {
	if a.state.IsCommitProcessed(ev.CommitHash) {
		return
	}

	meta, ok := parseCommitMetadataFromEvent(ev)
	if !ok {
		a.state.MarkCommitProcessed(ev.CommitHash)
		a.state.AddMessage("system", fmt.Sprintf("Git commit detected on branch '%s': %s - %s", ev.Branch, shortHash(ev.CommitHash), ev.Message))
		return
	}

	if meta.WorkflowID != a.cfg.WorkflowID {
		a.log.Debug("orchestrator: git event workflow_id mismatch, skipping", zap.String("commit", ev.CommitHash))
		return
	}

	a.state.MarkCommitProcessed(ev.CommitHash)

	if meta.IsCheckpoint() {
		a.state.AddMessage("system", fmt.Sprintf("Checkpoint commit detected on branch '%s': %s - %s", ev.Branch, shortHash(ev.CommitHash), ev.Message))
		return
	}

	switch meta.Status {
	case model.MetaCompleted:
		_ = a.store.SetTerminalStatus(ctx, meta.TerminalID, model.TerminalCompleted)
		_ = a.store.SetTerminalCommit(ctx, meta.TerminalID, ev.CommitHash, ev.Message)
		_, _ = a.bus.PublishWorkflowEvent(a.cfg.WorkflowID, bus.Message{
			Type: bus.TypeTerminalCompleted,
			Payload: bus.TerminalCompletedPayload{
				WorkflowID: a.cfg.WorkflowID, TaskID: meta.TaskID, TerminalID: meta.TerminalID,
				CommitHash: ev.CommitHash, CommitMsg: ev.Message,
				Status: string(model.CompletionCompleted), Synthesized: true, Meta: meta,
			},
		})
	case model.MetaReviewPass:
		if meta.ReviewedTerminal == "" {
			a.log.Error("orchestrator: review_pass commit missing reviewed_terminal", zap.String("commit", ev.CommitHash))
			return
		}
		_ = a.store.SetTerminalStatus(ctx, meta.ReviewedTerminal, model.TerminalReviewPassed)
		a.broadcastTerminalStatus(ctx, meta.ReviewedTerminal, model.TerminalReviewPassed)
	case model.MetaReviewReject:
		if meta.ReviewedTerminal == "" || len(meta.Issues) == 0 {
			a.log.Error("orchestrator: review_reject commit missing reviewed_terminal or issues", zap.String("commit", ev.CommitHash))
			return
		}
		_ = a.store.SetTerminalStatus(ctx, meta.ReviewedTerminal, model.TerminalReviewRejected)
		a.broadcastTerminalStatus(ctx, meta.ReviewedTerminal, model.TerminalReviewRejected)
	case model.MetaFailed:
		_ = a.store.SetTerminalStatus(ctx, meta.TerminalID, model.TerminalFailed)
		a.publishError(ctx, "terminal "+meta.TerminalID+" reported failure via commit "+ev.CommitHash)
	default:
		a.log.Debug("orchestrator: git event with unrecognized metadata status, ignoring", zap.String("status", string(meta.Status)))
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// runSlashCommands renders each of the workflow's command presets in
// order and feeds them through the LLM to seed the conversation. A
// missing preset or render failure aborts the remaining commands.
func (a *Agent) runSlashCommands(ctx context.Context, wf *model.Workflow) error {
	if a.llm == nil {
		a.log.Warn("orchestrator: slash commands requested but no llm is configured, skipping")
		return nil
	}
	commands, err := a.store.ListWorkflowCommands(ctx, wf.ID)
	if err != nil {
		return err
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i].OrderIndex < commands[j].OrderIndex })

	for _, cmd := range commands {
		preset, err := a.store.GetSlashCommandPreset(ctx, cmd.PresetID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStoreNotFound, "slash command preset not found: "+cmd.PresetID, err)
		}
		rendered := RenderSlashCommand(preset.PromptTemplate, wf, cmd.CustomParams)
		a.state.AddMessage("user", rendered)

		resp, err := a.llm.Chat(ctx, a.state.ConversationHistory())
		if err != nil {
			return apperrors.Wrap(apperrors.CodeLLMTimeout, "slash command llm call failed for preset "+cmd.PresetID, err)
		}
		a.state.AddMessage("assistant", resp.Content)
		if resp.Usage != nil {
			a.state.AddTokensUsed(resp.Usage.TotalTokens)
		} else {
			a.state.AddTokensUsed(llm.EstimateTokens([]llm.Message{{Role: "assistant", Content: resp.Content}}))
		}
	}
	return nil
}

// TriggerMerge squash-merges every task branch into targetBranch. On
// conflict the workflow moves to merging; on any other merge failure it
// moves to failed.
func (a *Agent) TriggerMerge(ctx context.Context, taskBranches map[string]string, baseRepoPath, targetBranch string) error {
	if a.merger == nil {
		return apperrors.New(apperrors.CodeMergeFailed, "merge driver not configured")
	}

	taskIDs := make([]string, 0, len(taskBranches))
	for taskID := range taskBranches {
		taskIDs = append(taskIDs, taskID)
	}
	sort.Strings(taskIDs)

	branches := make([]merge.TaskBranch, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		branches = append(branches, merge.TaskBranch{TaskID: taskID, WorktreePath: baseRepoPath, Branch: taskBranches[taskID]})
	}

	err := a.merger.MergeAll(ctx, baseRepoPath, targetBranch, branches)
	return a.finishMerge(ctx, err)
}

func (a *Agent) finishMerge(ctx context.Context, mergeErr error) error {
	if mergeErr == nil {
		a.broadcastWorkflowStatus(ctx, model.WorkflowCompleted)
		return nil
	}

	if _, isConflict := mergeErr.(*merge.ConflictError); isConflict {
		a.broadcastWorkflowStatus(ctx, model.WorkflowMerging)
		return mergeErr
	}

	_ = a.setWorkflowStatusChecked(ctx, model.WorkflowFailed)
	a.publishError(ctx, "merge failed: "+mergeErr.Error())
	return mergeErr
}

// setWorkflowStatusChecked applies the workflow transition table before
// persisting: a same-status write is a no-op, an unauthorized transition
// returns an error without mutating the store.
func (a *Agent) setWorkflowStatusChecked(ctx context.Context, status model.WorkflowStatus) error {
	wf, err := a.store.GetWorkflow(ctx, a.cfg.WorkflowID)
	if err != nil {
		return err
	}
	if wf.Status == status {
		return nil
	}
	if !model.CanTransitionWorkflow(wf.Status, status) {
		return apperrors.New(apperrors.CodeValidationState, "invalid workflow transition: "+string(wf.Status)+" -> "+string(status))
	}
	return a.store.SetWorkflowStatus(ctx, a.cfg.WorkflowID, status)
}

// setTaskStatusChecked is the task-level counterpart of setWorkflowStatusChecked.
func (a *Agent) setTaskStatusChecked(ctx context.Context, taskID string, status model.TaskStatus) error {
	task, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == status {
		return nil
	}
	if !model.CanTransitionTask(task.Status, status) {
		return apperrors.New(apperrors.CodeValidationState, "invalid task transition: "+string(task.Status)+" -> "+string(status))
	}
	return a.store.SetTaskStatus(ctx, taskID, status)
}

// broadcastWorkflowStatus persists the workflow status, then publishes
// the matching StatusUpdate.
func (a *Agent) broadcastWorkflowStatus(ctx context.Context, status model.WorkflowStatus) {
	if err := a.setWorkflowStatusChecked(ctx, status); err != nil {
		a.log.Error("orchestrator: workflow status transition rejected", zap.String("status", string(status)), zap.Error(err))
		return
	}
	a.publishWorkflowStatusUpdate(status)
}

func (a *Agent) publishWorkflowStatusUpdate(status model.WorkflowStatus) {
	_, _ = a.bus.PublishWorkflowEvent(a.cfg.WorkflowID, bus.Message{
		Type:    bus.TypeStatusUpdate,
		Payload: map[string]string{"workflow_id": a.cfg.WorkflowID, "status": string(status)},
	})
}

// broadcastTerminalStatus persists the terminal status, then publishes
// the matching TerminalStatusUpdate.
func (a *Agent) broadcastTerminalStatus(ctx context.Context, terminalID string, status model.TerminalStatus) {
	_ = a.store.SetTerminalStatus(ctx, terminalID, status)
	_, _ = a.bus.PublishWorkflowEvent(a.cfg.WorkflowID, bus.Message{
		Type:    bus.TypeTerminalStatusUpdate,
		Payload: map[string]string{"terminal_id": terminalID, "status": string(status)},
	})
}

// broadcastTaskStatus persists the task status, then publishes the
// matching TaskStatusUpdate.
func (a *Agent) broadcastTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) {
	if err := a.setTaskStatusChecked(ctx, taskID, status); err != nil {
		a.log.Error("orchestrator: task status transition rejected", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	_, _ = a.bus.PublishWorkflowEvent(a.cfg.WorkflowID, bus.Message{
		Type:    bus.TypeTaskStatusUpdate,
		Payload: map[string]string{"task_id": taskID, "status": string(status)},
	})
}

func (a *Agent) publishError(ctx context.Context, message string) {
	a.state.IncrementErrorCount()
	_, _ = a.bus.PublishWorkflowEvent(a.cfg.WorkflowID, bus.Message{
		Type:    bus.TypeError,
		Payload: map[string]string{"workflow_id": a.cfg.WorkflowID, "message": message},
	})
}

// HandleUserPromptResponse forwards an externally supplied decision for
// a pending prompt to the terminal's input channel, after verifying the
// terminal belongs to this workflow.
func (a *Agent) HandleUserPromptResponse(ctx context.Context, terminalID, decision string) error {
	term, err := a.store.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}
	task, err := a.store.GetTask(ctx, term.TaskID)
	if err != nil {
		return err
	}
	if task.WorkflowID != a.cfg.WorkflowID {
		return apperrors.New(apperrors.CodeValidationMismatch, "terminal does not belong to this workflow: "+terminalID)
	}
	return a.bus.PublishTerminalInput(terminalID, term.PTYSessionID, "", decision)
}

// parseCommitMetadataFromEvent parses the metadata trailer out of a git
// event's full commit body. The watcher already classifies a commit
// before publishing, but the agent re-parses independently so it does
// not depend on the publisher's classification for review/failure
// routing.
func parseCommitMetadataFromEvent(ev bus.GitEventPayload) (*model.CommitMetadata, bool) {
	return gitmeta.Parse(ev.FullMessage)
}
