package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/model"
)

// PostgresStore is the Postgres-backed Store: the same sqlx repository
// shape as SQLiteStore over github.com/jackc/pgx/v5 (via its
// database/sql stdlib adapter). Column layout and semantics mirror
// SQLiteStore exactly; only placeholder style ($1 vs ?) and the
// schema's native timestamp/boolean types differ.
type PostgresStore struct {
	db *sqlx.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	name TEXT,
	description TEXT,
	status TEXT,
	target_branch TEXT,
	use_slash_commands BOOLEAN,
	git_watcher_enabled BOOLEAN,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
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
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
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
	auto_confirm BOOLEAN,
	last_commit_hash TEXT,
	last_commit_message TEXT,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
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
	is_system BOOLEAN
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
	created_at TIMESTAMPTZ,
	processed_at TIMESTAMPTZ
);
`

// OpenPostgres connects via pgx's database/sql stdlib adapter (registered
// under the "pgx" driver name by importing github.com/jackc/pgx/v5/stdlib)
// and bootstraps the schema, mirroring OpenSQLite's shape.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "postgres connect failed", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "postgres schema init failed", err)
	}
	return &PostgresStore{db: db}, nil
}

// OpenPostgresFromPool adapts an already-open *sql.DB (e.g. one a caller
// configured with pgxpool settings via stdlib.OpenDB) into a PostgresStore.
func OpenPostgresFromPool(db *sql.DB) (*PostgresStore, error) {
	sx := sqlx.NewDb(db, "pgx")
	if _, err := sx.Exec(postgresSchema); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "postgres schema init failed", err)
	}
	return &PostgresStore{db: sx}, nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var row workflowRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, project_id, name, description, status, target_branch, use_slash_commands, git_watcher_enabled, started_at, completed_at FROM workflows WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "workflow not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get workflow failed", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) CreateWithTasks(ctx context.Context, wf *model.Workflow, tasks []*model.Task, terminals map[string][]*model.Terminal) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "begin tx failed", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (id, project_id, name, description, status, target_branch, use_slash_commands, git_watcher_enabled) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		wf.ID, wf.ProjectID, wf.Name, wf.Description, wf.Status, wf.TargetBranch, wf.UseSlashCommands, wf.GitWatcherEnabled); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "insert workflow failed", err)
	}

	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, workflow_id, external_task_id, name, description, branch, status, order_index) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			t.ID, wf.ID, t.ExternalTaskID, t.Name, t.Description, t.Branch, t.Status, t.OrderIndex); err != nil {
			return apperrors.Wrap(apperrors.CodeStoreIO, "insert task failed", err)
		}
		for _, term := range terminals[t.ID] {
			if term.ID == "" {
				term.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO terminals (id, task_id, cli_type, model_config_id, role, role_description, order_index, status, auto_confirm) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				term.ID, t.ID, term.CLIType, term.ModelConfigID, term.Role, term.RoleDescription, term.OrderIndex, term.Status, term.AutoConfirm); err != nil {
				return apperrors.Wrap(apperrors.CodeStoreIO, "insert terminal failed", err)
			}
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) SetWorkflowStarted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workflows SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
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

func (s *PostgresStore) SetWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error {
	var completedAt any
	if status == model.WorkflowCompleted || status == model.WorkflowFailed {
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET status = $1, completed_at = COALESCE($2, completed_at) WHERE id = $3`, status, completedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set workflow status failed", err)
	}
	return nil
}

func (s *PostgresStore) ListTasksForWorkflow(ctx context.Context, workflowID string) ([]*model.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, workflow_id, external_task_id, name, description, branch, status, order_index, started_at, completed_at FROM tasks WHERE workflow_id = $1 ORDER BY order_index`, workflowID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list tasks failed", err)
	}
	out := make([]*model.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var r taskRow
	if err := s.db.GetContext(ctx, &r, `SELECT id, workflow_id, external_task_id, name, description, branch, status, order_index, started_at, completed_at FROM tasks WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "task not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get task failed", err)
	}
	return r.toModel(), nil
}

func (s *PostgresStore) SetTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	var startedAt, completedAt any
	switch status {
	case model.TaskRunning:
		startedAt = time.Now()
	case model.TaskCompleted, model.TaskFailed, model.TaskCancelled:
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, started_at = COALESCE(started_at, $2), completed_at = COALESCE($3, completed_at) WHERE id = $4`,
		status, startedAt, completedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set task status failed", err)
	}
	return nil
}

func (s *PostgresStore) ListTerminalsForTask(ctx context.Context, taskID string) ([]*model.Terminal, error) {
	var rows []terminalRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+terminalColumns+` FROM terminals WHERE task_id = $1 ORDER BY order_index`, taskID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list terminals failed", err)
	}
	out := make([]*model.Terminal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *PostgresStore) ListTerminalsForWorkflow(ctx context.Context, workflowID string) ([]*model.Terminal, error) {
	var rows []terminalRow
	query := `SELECT t.` + terminalColumnsAliased() + ` FROM terminals t JOIN tasks k ON t.task_id = k.id WHERE k.workflow_id = $1 ORDER BY k.order_index, t.order_index`
	if err := s.db.SelectContext(ctx, &rows, query, workflowID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list workflow terminals failed", err)
	}
	out := make([]*model.Terminal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *PostgresStore) GetTerminal(ctx context.Context, id string) (*model.Terminal, error) {
	var r terminalRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+terminalColumns+` FROM terminals WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "terminal not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get terminal failed", err)
	}
	return r.toModel(), nil
}

func (s *PostgresStore) SetTerminalStatus(ctx context.Context, id string, status model.TerminalStatus) error {
	var completedAt any
	switch status {
	case model.TerminalCompleted, model.TerminalFailed, model.TerminalCancelled, model.TerminalReviewPassed:
		completedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE terminals SET status = $1, completed_at = COALESCE($2, completed_at) WHERE id = $3`, status, completedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal status failed", err)
	}
	return nil
}

func (s *PostgresStore) SetTerminalStarted(ctx context.Context, id string, pid int, ptySessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE terminals SET pid = $1, pty_session_id = $2, status = $3, started_at = $4 WHERE id = $5`,
		pid, ptySessionID, model.TerminalWaiting, time.Now(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal started failed", err)
	}
	return nil
}

func (s *PostgresStore) SetTerminalCommit(ctx context.Context, id, commitHash, commitMessage string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE terminals SET last_commit_hash = $1, last_commit_message = $2 WHERE id = $3`, commitHash, commitMessage, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal commit failed", err)
	}
	return nil
}

func (s *PostgresStore) ListWorkflowCommands(ctx context.Context, workflowID string) ([]*model.WorkflowCommand, error) {
	type row struct {
		ID           string `db:"id"`
		WorkflowID   string `db:"workflow_id"`
		PresetID     string `db:"preset_id"`
		OrderIndex   int    `db:"order_index"`
		CustomParams string `db:"custom_params"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, workflow_id, preset_id, order_index, custom_params FROM workflow_commands WHERE workflow_id = $1 ORDER BY order_index`, workflowID); err != nil {
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

func (s *PostgresStore) GetSlashCommandPreset(ctx context.Context, id string) (*model.SlashCommandPreset, error) {
	var p model.SlashCommandPreset
	if err := s.db.GetContext(ctx, &p, `SELECT id, command, description, prompt_template, is_system FROM slash_command_presets WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.CodeStoreNotFound, "preset not found: "+id)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "get preset failed", err)
	}
	return &p, nil
}

func (s *PostgresStore) RecordGitEvent(ctx context.Context, rec *model.GitEventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metaJSON, _ := json.Marshal(rec.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO git_events (id, workflow_id, terminal_id, commit_hash, branch, commit_message, metadata, process_status, agent_response, created_at, processed_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, rec.WorkflowID, rec.TerminalID, rec.CommitHash, rec.Branch, rec.CommitMessage, string(metaJSON), rec.ProcessStatus, rec.AgentResponse, time.Now(), rec.ProcessedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "record git event failed", err)
	}
	return nil
}

// DecryptedAPIKey mirrors SQLiteStore's stance: ciphertext handling is
// an external secrets collaborator's responsibility; wrap with
// WithSecretsResolver.
func (s *PostgresStore) DecryptedAPIKey(_ context.Context, _ string) (string, error) {
	return "", apperrors.New(apperrors.CodeStoreIO, "DecryptedAPIKey requires an external secrets resolver; use store.WithSecretsResolver")
}

func (s *PostgresStore) ListRunningWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, project_id, name, description, status, target_branch, use_slash_commands, git_watcher_enabled, started_at, completed_at FROM workflows WHERE status = $1`, model.WorkflowRunning); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreIO, "list running workflows failed", err)
	}
	out := make([]*model.Workflow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
