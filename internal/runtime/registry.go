// Package runtime maps workflow id to a running Orchestrator Agent task
// and an optional Git Watcher task, enforces the concurrency cap, and
// drives graceful shutdown and crash recovery.
package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/gitwatch"
	"github.com/coderunhq/coderun/internal/llm"
	"github.com/coderunhq/coderun/internal/logger"
	"github.com/coderunhq/coderun/internal/merge"
	"github.com/coderunhq/coderun/internal/metrics"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/orchestrator"
	"github.com/coderunhq/coderun/internal/store"
)

// stopGrace bounds how long stop_workflow waits for the git watcher and
// the agent task to exit before giving up on them.
const stopGrace = 5 * time.Second

// SystemPromptBuilder renders the system prompt an Orchestrator Agent
// opens its conversation with, given the workflow it is bound to.
type SystemPromptBuilder func(wf *model.Workflow) string

// RepoPathResolver locates the working-copy path a workflow's Git
// Watcher should poll. Returning "" with a nil error means "no repo
// configured for this workflow": watcher start is skipped, not an error.
type RepoPathResolver func(ctx context.Context, wf *model.Workflow) (string, error)

// Config configures one Registry instance.
type Config struct {
	MaxConcurrentWorkflows int
	MaxConversationHistory int
	GitPollInterval        time.Duration
	LLMTimeout             time.Duration
	LLMMaxRetries          int

	SystemPrompt  SystemPromptBuilder
	RepoPath      RepoPathResolver
	MergeDriver   *merge.Driver
	Metrics       *metrics.Registry
}

type agentEntry struct {
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

type watcherEntry struct {
	watcher *gitwatch.Watcher
	cancel  context.CancelFunc
}

// Registry owns every running workflow's agent and watcher tasks.
type Registry struct {
	cfg   Config
	bus   bus.Bus
	store store.Store
	log   *logger.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	agents   map[string]*agentEntry
	watchers map[string]*watcherEntry
}

func New(cfg Config, b bus.Bus, st store.Store, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = 10
	}
	if cfg.MergeDriver == nil {
		cfg.MergeDriver = merge.NewDriver()
	}
	return &Registry{
		cfg:      cfg,
		bus:      b,
		store:    st,
		log:      log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentWorkflows)),
		agents:   make(map[string]*agentEntry),
		watchers: make(map[string]*watcherEntry),
	}
}

// StartWorkflow starts a ready workflow's orchestrator agent and, when
// enabled, its git watcher.
func (r *Registry) StartWorkflow(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	if _, running := r.agents[workflowID]; running {
		r.mu.Unlock()
		return apperrors.New(apperrors.CodeValidationState, "workflow already running: "+workflowID)
	}
	if !r.sem.TryAcquire(1) {
		r.mu.Unlock()
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ConcurrencyCapRejected(ctx)
		}
		return apperrors.New(apperrors.CodeValidationState, "Maximum concurrent workflows limit reached")
	}
	r.mu.Unlock()

	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		r.sem.Release(1)
		return apperrors.Wrap(apperrors.CodeStoreIO, "load workflow failed", err)
	}
	if wf.Status != model.WorkflowReady {
		r.sem.Release(1)
		return apperrors.New(apperrors.CodeValidationState, "workflow is not ready: "+string(wf.Status))
	}

	var llmClient llm.Client
	if wf.Orchestrator != nil {
		apiKey, err := r.store.DecryptedAPIKey(ctx, wf.Orchestrator.KeyHandle)
		if err != nil || apiKey == "" {
			r.sem.Release(1)
			return apperrors.New(apperrors.CodeValidationMissing, "orchestrator api key unavailable for workflow "+workflowID)
		}
		llmClient = llm.NewHTTPClient(llm.Config{
			APIType:    wf.Orchestrator.APIType,
			BaseURL:    wf.Orchestrator.BaseURL,
			APIKey:     apiKey,
			Model:      wf.Orchestrator.Model,
			Timeout:    r.cfg.LLMTimeout,
			MaxRetries: r.cfg.LLMMaxRetries,
		})
	}

	systemPrompt := ""
	if r.cfg.SystemPrompt != nil {
		systemPrompt = r.cfg.SystemPrompt(wf)
	}
	repoPath := ""
	if r.cfg.RepoPath != nil {
		if p, err := r.cfg.RepoPath(ctx, wf); err == nil {
			repoPath = p
		}
	}

	agent := orchestrator.NewAgent(orchestrator.AgentConfig{
		WorkflowID:             workflowID,
		SystemPrompt:           systemPrompt,
		BaseRepoPath:           repoPath,
		MaxConversationHistory: r.cfg.MaxConversationHistory,
	}, r.bus, llmClient, r.store, r.cfg.MergeDriver, r.log)

	if err := r.store.SetWorkflowStarted(ctx, workflowID); err != nil {
		r.sem.Release(1)
		return apperrors.Wrap(apperrors.CodeStoreConflict, "cas transition to running failed", err)
	}

	agentCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.agents[workflowID] = &agentEntry{cancel: cancel, done: done, startedAt: time.Now()}
	r.mu.Unlock()

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.WorkflowStarted(ctx)
	}

	go func() {
		defer close(done)
		if err := agent.Run(agentCtx); err != nil {
			r.log.Error("orchestrator agent exited with error", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}()

	r.startWatcherBestEffort(workflowID, wf, repoPath)

	return nil
}

// startWatcherBestEffort starts the Git Watcher for wf. A missing repo
// path or a construction failure is logged, never fatal.
func (r *Registry) startWatcherBestEffort(workflowID string, wf *model.Workflow, repoPath string) {
	if !wf.GitWatcherEnabled || repoPath == "" {
		return
	}

	watcher, err := gitwatch.New(gitwatch.Config{RepoPath: repoPath, PollInterval: r.cfg.GitPollInterval}, r.bus, r.log)
	if err != nil {
		r.log.Warn("git watcher start failed, continuing without it", zap.String("workflow_id", workflowID), zap.Error(err))
		return
	}
	watcher.WithStore(r.store)
	watcher.SetWorkflowID(workflowID)

	watchCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.watchers[workflowID] = &watcherEntry{watcher: watcher, cancel: cancel}
	r.mu.Unlock()

	go watcher.Watch(watchCtx)
}

// StopWorkflow stops a workflow's watcher and agent, each with a
// bounded grace period.
func (r *Registry) StopWorkflow(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	wEntry, hasWatcher := r.watchers[workflowID]
	delete(r.watchers, workflowID)
	aEntry, hasAgent := r.agents[workflowID]
	delete(r.agents, workflowID)
	r.mu.Unlock()

	if hasWatcher {
		r.stopWatcherWithTimeout(workflowID, wEntry)
	}

	if !hasAgent {
		return nil
	}

	_, _ = r.bus.PublishWorkflowEvent(workflowID, bus.Message{Type: bus.TypeShutdown})

	select {
	case <-aEntry.done:
	case <-time.After(stopGrace):
		r.log.Warn("stop_workflow: agent task did not exit within grace period, aborting", zap.String("workflow_id", workflowID))
		aEntry.cancel()
	}

	r.sem.Release(1)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.WorkflowStopped(ctx, time.Since(aEntry.startedAt).Seconds())
	}
	return nil
}

func (r *Registry) stopWatcherWithTimeout(workflowID string, entry *watcherEntry) {
	stopped := make(chan struct{})
	go func() {
		entry.watcher.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(stopGrace):
		r.log.Warn("stop_workflow: git watcher did not stop within grace period, aborting", zap.String("workflow_id", workflowID))
		entry.cancel()
	}
}

// StopAll stops every running workflow, never failing even if
// individual stops error.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.StopWorkflow(ctx, id); err != nil {
				r.log.Error("stop_all: stop_workflow failed", zap.String("workflow_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// IsRunning reports whether workflowID currently owns an agent task.
func (r *Registry) IsRunning(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[workflowID]
	return ok
}

// RunningCount reports how many workflows currently own an agent task.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// RecoverRunningWorkflows is the startup crash-recovery sweep: every
// workflow persisted as "running" survived an unclean
// shutdown (this process was not the one that set it running, or it
// would be in r.agents already) and is marked failed. Auto-resume is not
// implemented; recovery surfaces the crash rather than silently
// continuing with a dangling orchestrator.
func (r *Registry) RecoverRunningWorkflows(ctx context.Context) error {
	running, err := r.store.ListRunningWorkflows(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "list running workflows failed", err)
	}
	for _, wf := range running {
		r.log.Warn("recover_running_workflows: marking orphaned running workflow failed", zap.String("workflow_id", wf.ID))
		if err := r.store.SetWorkflowStatus(ctx, wf.ID, model.WorkflowFailed); err != nil {
			r.log.Error("recover_running_workflows: set failed status failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		}
	}
	return nil
}
