package store

import (
	"context"
	"sync"
	"time"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/model"
)

// MemoryStore is an in-memory Store, useful for tests and for a
// single-process dev deployment.
type MemoryStore struct {
	mu sync.RWMutex

	workflows map[string]*model.Workflow
	tasks     map[string]*model.Task
	terminals map[string]*model.Terminal
	commands  map[string][]*model.WorkflowCommand
	presets   map[string]*model.SlashCommandPreset
	gitEvents []*model.GitEventRecord
	keys      map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*model.Workflow),
		tasks:     make(map[string]*model.Task),
		terminals: make(map[string]*model.Terminal),
		commands:  make(map[string][]*model.WorkflowCommand),
		presets:   make(map[string]*model.SlashCommandPreset),
		keys:      make(map[string]string),
	}
}

// SeedAPIKey registers a plaintext value behind an opaque handle for tests.
func (m *MemoryStore) SeedAPIKey(handle, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[handle] = value
}

func (m *MemoryStore) SeedPreset(p *model.SlashCommandPreset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[p.ID] = p
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeStoreNotFound, "workflow not found: "+id)
	}
	cp := *wf
	return &cp, nil
}

func (m *MemoryStore) CreateWithTasks(_ context.Context, wf *model.Workflow, tasks []*model.Task, terminals map[string][]*model.Terminal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workflows[wf.ID] = wf
	for _, t := range tasks {
		m.tasks[t.ID] = t
		for _, term := range terminals[t.ID] {
			m.terminals[term.ID] = term
		}
	}
	return nil
}

func (m *MemoryStore) SetWorkflowStarted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return apperrors.New(apperrors.CodeStoreNotFound, "workflow not found: "+id)
	}
	if wf.Status != model.WorkflowReady {
		return apperrors.Wrap(apperrors.CodeStoreConflict, "workflow is not ready", ErrCASMismatch)
	}
	wf.Status = model.WorkflowRunning
	now := time.Now()
	wf.StartedAt = &now
	return nil
}

func (m *MemoryStore) SetWorkflowStatus(_ context.Context, id string, status model.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return apperrors.New(apperrors.CodeStoreNotFound, "workflow not found: "+id)
	}
	wf.Status = status
	if status == model.WorkflowCompleted || status == model.WorkflowFailed {
		now := time.Now()
		wf.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) ListTasksForWorkflow(_ context.Context, workflowID string) ([]*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Task
	for _, t := range m.tasks {
		if t.WorkflowID == workflowID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeStoreNotFound, "task not found: "+id)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) SetTaskStatus(_ context.Context, id string, status model.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return apperrors.New(apperrors.CodeStoreNotFound, "task not found: "+id)
	}
	t.Status = status
	now := time.Now()
	switch status {
	case model.TaskRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case model.TaskCompleted, model.TaskFailed, model.TaskCancelled:
		t.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) ListTerminalsForTask(_ context.Context, taskID string) ([]*model.Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Terminal
	for _, term := range m.terminals {
		if term.TaskID == taskID {
			cp := *term
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListTerminalsForWorkflow(_ context.Context, workflowID string) ([]*model.Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Terminal
	for _, term := range m.terminals {
		if task, ok := m.tasks[term.TaskID]; ok && task.WorkflowID == workflowID {
			cp := *term
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTerminal(_ context.Context, id string) (*model.Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	term, ok := m.terminals[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeStoreNotFound, "terminal not found: "+id)
	}
	cp := *term
	return &cp, nil
}

func (m *MemoryStore) SetTerminalStatus(_ context.Context, id string, status model.TerminalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.terminals[id]
	if !ok {
		return apperrors.New(apperrors.CodeStoreNotFound, "terminal not found: "+id)
	}
	term.Status = status
	now := time.Now()
	switch status {
	case model.TerminalCompleted, model.TerminalFailed, model.TerminalCancelled, model.TerminalReviewPassed:
		term.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) SetTerminalStarted(_ context.Context, id string, pid int, ptySessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.terminals[id]
	if !ok {
		return apperrors.New(apperrors.CodeStoreNotFound, "terminal not found: "+id)
	}
	term.PID = pid
	term.PTYSessionID = ptySessionID
	term.Status = model.TerminalWaiting
	now := time.Now()
	term.StartedAt = &now
	return nil
}

func (m *MemoryStore) SetTerminalCommit(_ context.Context, id, commitHash, commitMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.terminals[id]
	if !ok {
		return apperrors.New(apperrors.CodeStoreNotFound, "terminal not found: "+id)
	}
	term.LastCommitHash = commitHash
	term.LastCommitMsg = commitMessage
	return nil
}

func (m *MemoryStore) ListWorkflowCommands(_ context.Context, workflowID string) ([]*model.WorkflowCommand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commands[workflowID], nil
}

func (m *MemoryStore) GetSlashCommandPreset(_ context.Context, id string) (*model.SlashCommandPreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presets[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeStoreNotFound, "preset not found: "+id)
	}
	return p, nil
}

func (m *MemoryStore) RecordGitEvent(_ context.Context, rec *model.GitEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gitEvents = append(m.gitEvents, rec)
	return nil
}

// GitEvents returns a copy of the recorded audit trail, oldest first.
func (m *MemoryStore) GitEvents() []*model.GitEventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.GitEventRecord, len(m.gitEvents))
	copy(out, m.gitEvents)
	return out
}

func (m *MemoryStore) DecryptedAPIKey(_ context.Context, handle string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.keys[handle]
	if !ok {
		return "", apperrors.New(apperrors.CodeStoreNotFound, "api key handle not found: "+handle)
	}
	return v, nil
}

func (m *MemoryStore) ListRunningWorkflows(_ context.Context) ([]*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Workflow
	for _, wf := range m.workflows {
		if wf.Status == model.WorkflowRunning {
			cp := *wf
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
