package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/config"
	"github.com/coderunhq/coderun/internal/logger"
	"github.com/coderunhq/coderun/internal/merge"
	"github.com/coderunhq/coderun/internal/metrics"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/runtime"
	"github.com/coderunhq/coderun/internal/store"
)

// reposRoot is joined with a workflow's project id to resolve the
// working copy the Git Watcher should poll; the orchestrator has no
// notion of a canonical repo layout, so the admin CLI picks one
// convention for local/dev use.
var reposRoot string

func init() {
	rootCmd.PersistentFlags().StringVar(&reposRoot, "repos-root", ".", "directory under which each workflow's project checkout lives (joined with project id)")
}

// env bundles everything a subcommand needs, built fresh per invocation
// since orchestratorctl is a one-shot CLI, not a resident daemon.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	store store.Store
	bus   bus.Bus
}

func newEnv() (*env, error) {
	cfg, err := config.LoadWithPath(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath})
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	b, err := openBus(cfg, log)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, log: log, store: st, bus: b}, nil
}

// openStore picks MemoryStore/SQLiteStore/PostgresStore per
// database.driver, wrapped so API-key handles resolve to environment
// variables of the same name. The admin CLI has no encrypted secret
// store of its own; treating the opaque handle as an env-var name keeps
// key material out of the database it manages.
func openStore(cfg *config.Config) (store.Store, error) {
	st, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	return store.WithSecretsResolver(st, resolveKeyFromEnv), nil
}

func openBackend(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return store.OpenPostgres(cfg.Database.DSN)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		path := cfg.Database.Path
		if path == "" {
			path = "./coderun.db"
		}
		return store.OpenSQLite(path)
	}
}

func resolveKeyFromEnv(_ context.Context, handle string) (string, error) {
	if handle == "" {
		return "", nil
	}
	if v := os.Getenv(handle); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("api key handle %q has no matching environment variable", handle)
}

// openBus uses the shared NatsBus when nats.url is set, the in-process
// MemoryBus otherwise. A MemoryBus only fans out within this one CLI
// invocation, which is fine for a foreground `start` but means
// `status`/`tail` against a separately-running process require NATS.
func openBus(cfg *config.Config, log *logger.Logger) (bus.Bus, error) {
	if cfg.NATS.URL != "" {
		return bus.NewNatsBus(cfg.NATS.URL, log)
	}
	return bus.NewMemoryBus(log), nil
}

func (e *env) buildRegistry() *runtime.Registry {
	metricsRegistry, err := metrics.Init()
	if err != nil {
		e.log.Warn("metrics init failed, continuing without it")
		metricsRegistry = nil
	}

	cfg := runtime.Config{
		MaxConcurrentWorkflows: e.cfg.Runtime.MaxConcurrentWorkflows,
		MaxConversationHistory: e.cfg.Runtime.MaxConversationHistory,
		GitPollInterval:        e.cfg.GitWatcher.PollInterval(),
		LLMTimeout:             e.cfg.LLM.Timeout(),
		LLMMaxRetries:          e.cfg.LLM.MaxRetries,
		SystemPrompt:           defaultSystemPrompt,
		RepoPath:               e.resolveRepoPath,
		MergeDriver:            merge.NewDriver(),
		Metrics:                metricsRegistry,
	}
	return runtime.New(cfg, e.bus, e.store, e.log)
}

// defaultSystemPrompt gives the Orchestrator Agent a minimal opening
// instruction identifying the workflow it owns; a real embedder would
// template this from the workflow's description and task list.
func defaultSystemPrompt(wf *model.Workflow) string {
	return "You are the orchestrator for workflow \"" + wf.Name + "\" (" + wf.ID + "). " +
		"Coordinate its tasks' terminals to completion and report status via the bus."
}

func (e *env) resolveRepoPath(_ context.Context, wf *model.Workflow) (string, error) {
	if wf.ProjectID == "" {
		return "", nil
	}
	return filepath.Join(reposRoot, wf.ProjectID), nil
}
