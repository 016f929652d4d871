// Package orchestrator holds the per-workflow orchestration state and
// the agent event loop that drives a workflow's terminals to completion.
package orchestrator

import (
	"sync"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/llm"
)

// RunState is the Orchestrator State's coarse run-state machine.
type RunState string

const (
	RunIdle       RunState = "Idle"
	RunProcessing RunState = "Processing"
	RunPaused     RunState = "Paused"
	RunStopped    RunState = "Stopped"
)

var runTransitions = map[RunState][]RunState{
	RunIdle:       {RunProcessing, RunPaused, RunStopped},
	RunProcessing: {RunPaused, RunStopped, RunIdle},
	RunPaused:     {RunProcessing, RunIdle, RunStopped},
	RunStopped:    {},
}

func canTransitionRun(from, to RunState) bool {
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TaskProgress tracks one task's terminal dispatch progress.
type TaskProgress struct {
	CurrentTerminalIndex int
	TotalTerminals       int
	CompletedTerminals   []string
	FailedTerminals      []string
	IsCompleted          bool
}

func (p *TaskProgress) hasFailures() bool { return len(p.FailedTerminals) > 0 }

func (p *TaskProgress) contains(terminalID string) bool {
	for _, id := range p.CompletedTerminals {
		if id == terminalID {
			return true
		}
	}
	for _, id := range p.FailedTerminals {
		if id == terminalID {
			return true
		}
	}
	return false
}

// State is the in-memory state of one running workflow's orchestrator.
type State struct {
	mu sync.RWMutex

	workflowID             string
	runState               RunState
	taskStates             map[string]*TaskProgress
	conversationHistory    []llm.Message
	pendingEvents          int
	totalTokensUsed        int
	errorCount             int
	processedCommits       map[string]struct{}
	maxConversationHistory int
}

func NewState(workflowID string, maxConversationHistory int) *State {
	if maxConversationHistory <= 0 {
		maxConversationHistory = 50
	}
	return &State{
		workflowID:             workflowID,
		runState:               RunIdle,
		taskStates:             make(map[string]*TaskProgress),
		processedCommits:       make(map[string]struct{}),
		maxConversationHistory: maxConversationHistory,
	}
}

func (s *State) WorkflowID() string { return s.workflowID }

// RunState returns the current run state.
func (s *State) RunState() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runState
}

// TransitionTo applies the run-state machine table; invalid transitions
// return an error and do not mutate state.
func (s *State) TransitionTo(newState RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runState == newState {
		return nil
	}
	if !canTransitionRun(s.runState, newState) {
		return apperrors.New(apperrors.CodeValidationState, "invalid run-state transition: "+string(s.runState)+" -> "+string(newState))
	}
	s.runState = newState
	return nil
}

// InitTask creates a fresh progress record for taskID if absent.
func (s *State) InitTask(taskID string, terminalCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taskStates[taskID]; ok {
		return
	}
	s.taskStates[taskID] = &TaskProgress{TotalTerminals: terminalCount}
}

// HasTask reports whether taskID has been initialized.
func (s *State) HasTask(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.taskStates[taskID]
	return ok
}

// TaskProgressSnapshot returns a copy of taskID's progress, if present.
func (s *State) TaskProgressSnapshot(taskID string) (TaskProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.taskStates[taskID]
	if !ok {
		return TaskProgress{}, false
	}
	return *p, true
}

// MarkTerminalCompleted is idempotent: a terminal id already present in
// either list makes the call a no-op.
func (s *State) MarkTerminalCompleted(taskID, terminalID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.taskStates[taskID]
	if !ok {
		p = &TaskProgress{}
		s.taskStates[taskID] = p
	}
	if p.contains(terminalID) {
		return
	}
	if success {
		p.CompletedTerminals = append(p.CompletedTerminals, terminalID)
	} else {
		p.FailedTerminals = append(p.FailedTerminals, terminalID)
	}
	if len(p.CompletedTerminals)+len(p.FailedTerminals) >= p.TotalTerminals {
		p.IsCompleted = true
	}
}

// AdvanceTerminal increments taskID's current terminal index iff another
// terminal remains; returns whether one remains.
func (s *State) AdvanceTerminal(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.taskStates[taskID]
	if !ok {
		return false
	}
	if p.CurrentTerminalIndex+1 >= p.TotalTerminals {
		return false
	}
	p.CurrentTerminalIndex++
	return true
}

// GetNextTerminalForTask returns the current terminal index for taskID
// unless the task is completed or the index has run past TotalTerminals.
func (s *State) GetNextTerminalForTask(taskID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.taskStates[taskID]
	if !ok {
		return 0, false
	}
	if p.IsCompleted || p.CurrentTerminalIndex >= p.TotalTerminals {
		return 0, false
	}
	return p.CurrentTerminalIndex, true
}

// TaskHasFailures reports whether any terminal of taskID has failed.
func (s *State) TaskHasFailures(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.taskStates[taskID]
	return ok && p.hasFailures()
}

// TaskIsCompleted reports whether taskID's progress record is marked completed.
func (s *State) TaskIsCompleted(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.taskStates[taskID]
	return ok && p.IsCompleted
}

// AddMessage appends a message and prunes conversationHistory to
// maxConversationHistory, retaining all "system" messages plus the
// newest non-system messages in chronological order.
func (s *State) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationHistory = append(s.conversationHistory, llm.Message{Role: role, Content: content})
	s.pruneLocked()
}

func (s *State) pruneLocked() {
	if len(s.conversationHistory) <= s.maxConversationHistory {
		return
	}

	var system []llm.Message
	var rest []llm.Message
	for _, m := range s.conversationHistory {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	remaining := s.maxConversationHistory - len(system)
	if remaining < 0 {
		remaining = 0
	}
	if len(rest) > remaining {
		rest = rest[len(rest)-remaining:]
	}

	merged := make([]llm.Message, 0, len(system)+len(rest))
	merged = append(merged, system...)
	merged = append(merged, rest...)
	s.conversationHistory = merged
}

// ConversationHistory returns a copy of the full conversation history.
func (s *State) ConversationHistory() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.conversationHistory))
	copy(out, s.conversationHistory)
	return out
}

// AddTokensUsed accumulates LLM usage.
func (s *State) AddTokensUsed(tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTokensUsed += tokens
}

func (s *State) TotalTokensUsed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTokensUsed
}

func (s *State) IncrementErrorCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
}

func (s *State) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCount
}

// IsCommitProcessed reports whether hash has already been handled.
func (s *State) IsCommitProcessed(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processedCommits[hash]
	return ok
}

// MarkCommitProcessed records hash as handled; processedCommits is
// append-only for the lifetime of this State.
func (s *State) MarkCommitProcessed(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedCommits[hash] = struct{}{}
}
