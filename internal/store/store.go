// Package store defines the narrow transactional accessor the
// orchestration components read and write through: Workflow, Task,
// Terminal, slash-command bindings, and a commit audit trail. The full
// relational schema and its HTTP-facing CRUD live elsewhere.
package store

import (
	"context"

	"github.com/coderunhq/coderun/internal/model"
)

// Store is the narrow accessor every orchestration component depends on.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	CreateWithTasks(ctx context.Context, wf *model.Workflow, tasks []*model.Task, terminals map[string][]*model.Terminal) error

	// SetWorkflowStarted performs the CAS ready -> running transition,
	// returning a CAS-miss error if the current status isn't "ready".
	SetWorkflowStarted(ctx context.Context, id string) error
	SetWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error

	ListTasksForWorkflow(ctx context.Context, workflowID string) ([]*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	SetTaskStatus(ctx context.Context, id string, status model.TaskStatus) error

	ListTerminalsForTask(ctx context.Context, taskID string) ([]*model.Terminal, error)
	ListTerminalsForWorkflow(ctx context.Context, workflowID string) ([]*model.Terminal, error)
	GetTerminal(ctx context.Context, id string) (*model.Terminal, error)
	SetTerminalStatus(ctx context.Context, id string, status model.TerminalStatus) error
	SetTerminalStarted(ctx context.Context, id string, pid int, ptySessionID string) error
	SetTerminalCommit(ctx context.Context, id, commitHash, commitMessage string) error

	ListWorkflowCommands(ctx context.Context, workflowID string) ([]*model.WorkflowCommand, error)
	GetSlashCommandPreset(ctx context.Context, id string) (*model.SlashCommandPreset, error)

	RecordGitEvent(ctx context.Context, rec *model.GitEventRecord) error

	// DecryptedAPIKey resolves an opaque key handle to its plaintext
	// value; callers never see ciphertext.
	DecryptedAPIKey(ctx context.Context, handle string) (string, error)

	// ListRunningWorkflows is used by the Runtime Registry's crash-recovery sweep.
	ListRunningWorkflows(ctx context.Context) ([]*model.Workflow, error)
}

// SecretsResolver resolves an opaque key handle to its plaintext value.
// The symmetric key and ciphertext handling live with the resolver's
// owner; this package only routes the lookup.
type SecretsResolver func(ctx context.Context, handle string) (string, error)

type resolverStore struct {
	Store
	resolve SecretsResolver
}

// WithSecretsResolver decorates inner so DecryptedAPIKey is served by
// resolve; every other method passes through. Backends with no secrets
// handling of their own (SQLiteStore, PostgresStore) require this
// wrapping before any key handle can be resolved.
func WithSecretsResolver(inner Store, resolve SecretsResolver) Store {
	return &resolverStore{Store: inner, resolve: resolve}
}

func (s *resolverStore) DecryptedAPIKey(ctx context.Context, handle string) (string, error) {
	if s.resolve == nil {
		return s.Store.DecryptedAPIKey(ctx, handle)
	}
	return s.resolve(ctx, handle)
}

// ErrCASMismatch is returned by SetWorkflowStarted when the workflow's
// current status is not "ready".
var ErrCASMismatch = casMismatchError{}

type casMismatchError struct{}

func (casMismatchError) Error() string { return "compare-and-swap mismatch: workflow is not ready" }
