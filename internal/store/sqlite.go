package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/model"
)

// SQLiteStore is the sqlite-backed Store: sqlx struct scanning over
// mattn/go-sqlite3, with the schema bootstrapped on open.
type SQLiteStore struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	name TEXT,
	description TEXT,
	status TEXT,
	target_branch TEXT,
	use_slash_commands INTEGER,
	git_watcher_enabled INTEGER,
	started_at DATETIME,
	completed_at DATETIME
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	workflow_id TEXT,
	external_task_id TEXT,
	name TEXT,
	description TEXT,
	branch TEXT,
	status TEXT,
	order_index INTEGER,
	started_at DATETIME,
	completed_at DATETIME
);
CREATE TABLE IF NOT EXISTS terminals (
	id TEXT PRIMARY KEY,
	task_id TEXT,
	cli_type TEXT,
	model_config_id TEXT,
	role TEXT,
	role_description TEXT,
	order_index INTEGER,
	status TEXT,
	pid INTEGER,
	pty_session_id TEXT,
	auto_confirm INTEGER,
	last_commit_hash TEXT,
	last_commit_message TEXT,
	started_at DATETIME,
	completed_at DATETIME
);
CREATE TABLE IF NOT EXISTS workflow_commands (
	id TEXT PRIMARY KEY,
	workflow_id TEXT,
	preset_id TEXT,
	order_index INTEGER,
	custom_params TEXT
);
CREATE TABLE IF NOT EXISTS slash_command_presets (
	id TEXT PRIMARY KEY,
	command TEXT,
	description TEXT,
	prompt_template TEXT,
	is_system INTEGER
);
CREATE TABLE IF NOT EXISTS git_events (
	id TEXT PRIMARY KEY,
	workflow_id TEXT,
	terminal_id TEXT,
	commit_hash TEXT,
	branch TEXT,
	commit_message TEXT,
	metadata TEXT,
	process_status TEXT,
	agent_response TEXT,
	created_at DATETIME,
	processed_at DATETIME
);
`

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "sqlite connect failed", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "sqlite schema init failed", err)
	}
	return &SQLiteStore{db: db}, nil
}

type workflowRow struct {
	ID                string         `db:"id"`
	ProjectID         string         `db:"project_id"`
	Name              string         `db:"name"`
	Description       string         `db:"description"`
	Status            string         `db:"status"`
	TargetBranch      string         `db:"target_branch"`
	UseSlashCommands  bool           `db:"use_slash_commands"`
	GitWatcherEnabled bool           `db:"git_watcher_enabled"`
	StartedAt         sql.NullTime   `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r workflowRow) toModel() *model.Workflow {
	wf := &model.Workflow{
		ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Description: r.Description,
		Status: model.WorkflowStatus(r.Status), TargetBranch: r.TargetBranch,
		UseSlashCommands: r.UseSlashCommands, GitWatcherEnabled: r.GitWatcherEnabled,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		wf.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		wf.CompletedAt = &t
	}
	return wf
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var row workflowRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, project_id, name, description, status, target_branch, use_slash_commands, git_watcher_enabled, started_at, completed_at FROM workflows WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "workflow not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get workflow failed", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) CreateWithTasks(ctx context.Context, wf *model.Workflow, tasks []*model.Task, terminals map[string][]*model.Terminal) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "begin tx failed", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (id, project_id, name, description, status, target_branch, use_slash_commands, git_watcher_enabled) VALUES (?,?,?,?,?,?,?,?)`,
		wf.ID, wf.ProjectID, wf.Name, wf.Description, wf.Status, wf.TargetBranch, wf.UseSlashCommands, wf.GitWatcherEnabled); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "insert workflow failed", err)
	}

	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, workflow_id, external_task_id, name, description, branch, status, order_index) VALUES (?,?,?,?,?,?,?,?)`,
			t.ID, wf.ID, t.ExternalTaskID, t.Name, t.Description, t.Branch, t.Status, t.OrderIndex); err != nil {
			return apperrors.Wrap(apperrors.CodeStoreIO, "insert task failed", err)
		}
		for _, term := range terminals[t.ID] {
			if term.ID == "" {
				term.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO terminals (id, task_id, cli_type, model_config_id, role, role_description, order_index, status, auto_confirm) VALUES (?,?,?,?,?,?,?,?,?)`,
				term.ID, t.ID, term.CLIType, term.ModelConfigID, term.Role, term.RoleDescription, term.OrderIndex, term.Status, term.AutoConfirm); err != nil {
				return apperrors.Wrap(apperrors.CodeStoreIO, "insert terminal failed", err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) SetWorkflowStarted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workflows SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		model.WorkflowRunning, time.Now(), id, model.WorkflowReady)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set workflow started failed", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.Wrap(apperrors.CodeStoreConflict, "workflow is not ready", ErrCASMismatch)
	}
	return nil
}

func (s *SQLiteStore) SetWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error {
	var completedAt any
	if status == model.WorkflowCompleted || status == model.WorkflowFailed {
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`, status, completedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set workflow status failed", err)
	}
	return nil
}

type taskRow struct {
	ID             string       `db:"id"`
	WorkflowID     string       `db:"workflow_id"`
	ExternalTaskID string       `db:"external_task_id"`
	Name           string       `db:"name"`
	Description    string       `db:"description"`
	Branch         string       `db:"branch"`
	Status         string       `db:"status"`
	OrderIndex     int          `db:"order_index"`
	StartedAt      sql.NullTime `db:"started_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
}

func (r taskRow) toModel() *model.Task {
	t := &model.Task{
		ID: r.ID, WorkflowID: r.WorkflowID, ExternalTaskID: r.ExternalTaskID, Name: r.Name,
		Description: r.Description, Branch: r.Branch, Status: model.TaskStatus(r.Status), OrderIndex: r.OrderIndex,
	}
	if r.StartedAt.Valid {
		v := r.StartedAt.Time
		t.StartedAt = &v
	}
	if r.CompletedAt.Valid {
		v := r.CompletedAt.Time
		t.CompletedAt = &v
	}
	return t
}

func (s *SQLiteStore) ListTasksForWorkflow(ctx context.Context, workflowID string) ([]*model.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, workflow_id, external_task_id, name, description, branch, status, order_index, started_at, completed_at FROM tasks WHERE workflow_id = ? ORDER BY order_index`, workflowID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list tasks failed", err)
	}
	out := make([]*model.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var r taskRow
	if err := s.db.GetContext(ctx, &r, `SELECT id, workflow_id, external_task_id, name, description, branch, status, order_index, started_at, completed_at FROM tasks WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "task not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get task failed", err)
	}
	return r.toModel(), nil
}

func (s *SQLiteStore) SetTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	var startedAt, completedAt any
	switch status {
	case model.TaskRunning:
		startedAt = time.Now()
	case model.TaskCompleted, model.TaskFailed, model.TaskCancelled:
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = COALESCE(started_at, ?), completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		status, startedAt, completedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set task status failed", err)
	}
	return nil
}

type terminalRow struct {
	ID              string         `db:"id"`
	TaskID          string         `db:"task_id"`
	CLIType         string         `db:"cli_type"`
	ModelConfigID   string         `db:"model_config_id"`
	Role            string         `db:"role"`
	RoleDescription string         `db:"role_description"`
	OrderIndex      int            `db:"order_index"`
	Status          string         `db:"status"`
	PID             sql.NullInt64  `db:"pid"`
	PTYSessionID    sql.NullString `db:"pty_session_id"`
	AutoConfirm     bool           `db:"auto_confirm"`
	LastCommitHash  sql.NullString `db:"last_commit_hash"`
	LastCommitMsg   sql.NullString `db:"last_commit_message"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

func (r terminalRow) toModel() *model.Terminal {
	t := &model.Terminal{
		ID: r.ID, TaskID: r.TaskID, CLIType: r.CLIType, ModelConfigID: r.ModelConfigID,
		Role: r.Role, RoleDescription: r.RoleDescription, OrderIndex: r.OrderIndex,
		Status: model.TerminalStatus(r.Status), PID: int(r.PID.Int64), PTYSessionID: r.PTYSessionID.String,
		AutoConfirm: r.AutoConfirm, LastCommitHash: r.LastCommitHash.String, LastCommitMsg: r.LastCommitMsg.String,
	}
	if r.StartedAt.Valid {
		v := r.StartedAt.Time
		t.StartedAt = &v
	}
	if r.CompletedAt.Valid {
		v := r.CompletedAt.Time
		t.CompletedAt = &v
	}
	return t
}

const terminalColumns = `id, task_id, cli_type, model_config_id, role, role_description, order_index, status, pid, pty_session_id, auto_confirm, last_commit_hash, last_commit_message, started_at, completed_at`

func (s *SQLiteStore) ListTerminalsForTask(ctx context.Context, taskID string) ([]*model.Terminal, error) {
	var rows []terminalRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+terminalColumns+` FROM terminals WHERE task_id = ? ORDER BY order_index`, taskID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list terminals failed", err)
	}
	out := make([]*model.Terminal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) ListTerminalsForWorkflow(ctx context.Context, workflowID string) ([]*model.Terminal, error) {
	var rows []terminalRow
	query := `SELECT t.` + terminalColumnsAliased() + ` FROM terminals t JOIN tasks k ON t.task_id = k.id WHERE k.workflow_id = ? ORDER BY k.order_index, t.order_index`
	if err := s.db.SelectContext(ctx, &rows, query, workflowID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list workflow terminals failed", err)
	}
	out := make([]*model.Terminal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func terminalColumnsAliased() string {
	return "id, task_id, cli_type, model_config_id, role, role_description, order_index, status, pid, pty_session_id, auto_confirm, last_commit_hash, last_commit_message, started_at, completed_at"
}

func (s *SQLiteStore) GetTerminal(ctx context.Context, id string) (*model.Terminal, error) {
	var r terminalRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+terminalColumns+` FROM terminals WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "terminal not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get terminal failed", err)
	}
	return r.toModel(), nil
}

func (s *SQLiteStore) SetTerminalStatus(ctx context.Context, id string, status model.TerminalStatus) error {
	var completedAt any
	switch status {
	case model.TerminalCompleted, model.TerminalFailed, model.TerminalCancelled, model.TerminalReviewPassed:
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE terminals SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`, status, completedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal status failed", err)
	}
	return nil
}

func (s *SQLiteStore) SetTerminalStarted(ctx context.Context, id string, pid int, ptySessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE terminals SET pid = ?, pty_session_id = ?, status = ?, started_at = ? WHERE id = ?`,
		pid, ptySessionID, model.TerminalWaiting, time.Now(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal started failed", err)
	}
	return nil
}

func (s *SQLiteStore) SetTerminalCommit(ctx context.Context, id, commitHash, commitMessage string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE terminals SET last_commit_hash = ?, last_commit_message = ? WHERE id = ?`, commitHash, commitMessage, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal commit failed", err)
	}
	return nil
}

func (s *SQLiteStore) ListWorkflowCommands(ctx context.Context, workflowID string) ([]*model.WorkflowCommand, error) {
	type row struct {
		ID           string `db:"id"`
		WorkflowID   string `db:"workflow_id"`
		PresetID     string `db:"preset_id"`
		OrderIndex   int    `db:"order_index"`
		CustomParams string `db:"custom_params"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, workflow_id, preset_id, order_index, custom_params FROM workflow_commands WHERE workflow_id = ? ORDER BY order_index`, workflowID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list workflow commands failed", err)
	}
	out := make([]*model.WorkflowCommand, 0, len(rows))
	for _, r := range rows {
		params := map[string]string{}
		_ = json.Unmarshal([]byte(r.CustomParams), &params)
		out = append(out, &model.WorkflowCommand{ID: r.ID, WorkflowID: r.WorkflowID, PresetID: r.PresetID, OrderIndex: r.OrderIndex, CustomParams: params})
	}
	return out, nil
}

func (s *SQLiteStore) GetSlashCommandPreset(ctx context.Context, id string) (*model.SlashCommandPreset, error) {
	var p model.SlashCommandPreset
	if err := s.db.GetContext(ctx, &p, `SELECT id, command, description, prompt_template, is_system FROM slash_command_presets WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "preset not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get preset failed", err)
	}
	return &p, nil
}

func (s *SQLiteStore) RecordGitEvent(ctx context.Context, rec *model.GitEventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metaJSON, _ := json.Marshal(rec.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO git_events (id, workflow_id, terminal_id, commit_hash, branch, commit_message, metadata, process_status, agent_response, created_at, processed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.WorkflowID, rec.TerminalID, rec.CommitHash, rec.Branch, rec.CommitMessage, string(metaJSON), rec.ProcessStatus, rec.AgentResponse, time.Now(), rec.ProcessedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "record git event failed", err)
	}
	return nil
}

// DecryptedAPIKey is intentionally not backed by this store: the
// symmetric key and ciphertext handling live in an external secrets
// collaborator. Wrap with WithSecretsResolver to route handle lookups
// there; callers never see ciphertext.
func (s *SQLiteStore) DecryptedAPIKey(_ context.Context, _ string) (string, error) {
	return "", apperrors.New(apperrors.CodeStoreIO, "DecryptedAPIKey requires an external secrets resolver; use store.WithSecretsResolver")
}

func (s *SQLiteStore) ListRunningWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, project_id, name, description, status, target_branch, use_slash_commands, git_watcher_enabled, started_at, completed_at FROM workflows WHERE status = ?`, model.WorkflowRunning); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list running workflows failed", err)
	}
	out := make([]*model.Workflow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
