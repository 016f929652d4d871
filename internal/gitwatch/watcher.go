// Package gitwatch runs a per-workflow polling loop that detects new
// commits, parses their metadata, and publishes terminal-completion or
// plain git events.
package gitwatch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/gitmeta"
	"github.com/coderunhq/coderun/internal/logger"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/store"
)

// Config configures one Watcher instance.
type Config struct {
	RepoPath     string
	PollInterval time.Duration
}

// Watcher polls RepoPath for new commits and emits GitEvent or
// TerminalCompleted bus messages for the bound workflow.
type Watcher struct {
	cfg   Config
	bus   bus.Bus
	store store.Store
	log   *logger.Logger

	workflowID atomic.Value // string

	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cursor string
}

// New validates RepoPath exists and contains a .git directory.
func New(cfg Config, b bus.Bus, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	info, err := os.Stat(cfg.RepoPath)
	if err != nil || !info.IsDir() {
		return nil, apperrors.New(apperrors.CodeWatcherPath, "repository path does not exist: "+cfg.RepoPath)
	}
	if _, err := os.Stat(filepath.Join(cfg.RepoPath, ".git")); err != nil {
		return nil, apperrors.New(apperrors.CodeWatcherNotGit, "not a git repository: "+cfg.RepoPath)
	}

	w := &Watcher{cfg: cfg, bus: b, log: log, stopCh: make(chan struct{})}
	return w, nil
}

// WithStore attaches the audit-trail store: every handled commit is then
// recorded as a GitEventRecord, best-effort. Must be called before Watch.
func (w *Watcher) WithStore(st store.Store) *Watcher {
	w.store = st
	return w
}

// SetWorkflowID binds this watcher to a workflow.
func (w *Watcher) SetWorkflowID(id string) { w.workflowID.Store(id) }

func (w *Watcher) boundWorkflowID() string {
	v, _ := w.workflowID.Load().(string)
	return v
}

// IsRunning reports whether the watch loop is active.
func (w *Watcher) IsRunning() bool { return !w.stopped.Load() }

// Stop asks the watch loop to exit and waits for it to do so.
func (w *Watcher) Stop() {
	if w.stopped.Swap(true) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
}

// Watch runs the poll loop until Stop is called. Meant to be invoked from
// its own goroutine by the Runtime Registry.
func (w *Watcher) Watch(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	w.cursor = w.headHash(ctx)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) headHash(ctx context.Context) string {
	out, err := w.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (w *Watcher) currentBranch(ctx context.Context) string {
	out, err := w.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (w *Watcher) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.cfg.RepoPath
	out, err := cmd.Output()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeWatcherGit, "git "+strings.Join(args, " ")+" failed", err)
	}
	return string(out), nil
}

// tick lists commits since the cursor and handles each in chronological
// order, advancing the cursor only after a fully successful handle so a
// failed commit is retried next tick.
func (w *Watcher) tick(ctx context.Context) {
	head := w.headHash(ctx)
	if head == "" || head == w.cursor {
		return
	}

	hashes, err := w.git(ctx, "log", "--format=%H", "--reverse", w.cursor+".."+head)
	if err != nil {
		w.log.Error("git watcher: log failed", zap.Error(err))
		return
	}

	branch := w.currentBranch(ctx)
	for _, hash := range strings.Fields(hashes) {
		if !w.handleCommit(ctx, hash, branch) {
			break
		}
		w.cursor = hash
	}
}

// handleCommit returns true if the commit was fully handled (cursor may
// advance past it), false if it should be retried next tick.
func (w *Watcher) handleCommit(ctx context.Context, hash, branch string) bool {
	subject, err := w.git(ctx, "log", "-1", "--format=%s", hash)
	if err != nil {
		return false
	}
	body, err := w.git(ctx, "log", "-1", "--format=%B", hash)
	if err != nil {
		return false
	}
	message := strings.TrimSpace(subject)
	full := body

	workflowID := w.boundWorkflowID()
	meta, ok := gitmeta.Parse(full)
	event := bus.GitEventPayload{
		WorkflowID:  workflowID,
		CommitHash:  hash,
		Branch:      branch,
		Message:     message,
		FullMessage: full,
	}

	if !ok {
		if workflowID == "" {
			return true
		}
		_ = w.bus.PublishGitEvent(workflowID, event)
		w.recordAudit(ctx, workflowID, "", event, nil, "git_event")
		return true
	}

	if workflowID != "" && meta.WorkflowID != workflowID {
		w.log.Debug("git watcher: commit workflow_id mismatch, skipping", zap.String("commit", hash))
		return true
	}

	// Checkpoints and unrecognized metadata statuses both derive a nil
	// completion status; either way the orchestrator is woken with a
	// bare GitEvent rather than advanced with a TerminalCompleted.
	status := model.DeriveCompletionStatus(meta)
	if status == model.CompletionNone {
		label := "ignored"
		if meta.IsCheckpoint() {
			label = "checkpoint"
		}
		_ = w.bus.PublishGitEvent(workflowID, event)
		w.recordAudit(ctx, workflowID, meta.TerminalID, event, meta, label)
		return true
	}

	w.recordAudit(ctx, workflowID, meta.TerminalID, event, meta, "terminal_completed")
	_ = w.bus.PublishTerminalCompleted(workflowID, bus.TerminalCompletedPayload{
		WorkflowID: meta.WorkflowID,
		TaskID:     meta.TaskID,
		TerminalID: meta.TerminalID,
		CommitHash: hash,
		CommitMsg:  message,
		Status:     string(status),
		Meta:       meta,
	})
	return true
}

// recordAudit persists the handled commit to the GitEvent audit trail,
// best-effort; a write failure never blocks the watch loop.
func (w *Watcher) recordAudit(ctx context.Context, workflowID, terminalID string, ev bus.GitEventPayload, meta *model.CommitMetadata, processStatus string) {
	if w.store == nil {
		return
	}
	err := w.store.RecordGitEvent(ctx, &model.GitEventRecord{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		TerminalID:    terminalID,
		CommitHash:    ev.CommitHash,
		Branch:        ev.Branch,
		CommitMessage: ev.Message,
		Metadata:      meta,
		ProcessStatus: processStatus,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		w.log.Warn("git watcher: audit record failed", zap.String("commit", ev.CommitHash), zap.Error(err))
	}
}
