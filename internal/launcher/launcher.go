package launcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/bus"
	"github.com/coderunhq/coderun/internal/logger"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/process"
	"github.com/coderunhq/coderun/internal/store"
)

// startupPause is the pause between successive terminal spawns within one
// workflow, giving per-CLI config writes (ModelSwitcher) time to settle
// before the next terminal reads them.
const startupPause = 500 * time.Millisecond

// Launcher starts a workflow's terminals one at a time, in
// task/terminal order, switching
// each CLI's model config before spawning its PTY and bridging bus input
// messages to the spawned process's stdin.
type Launcher struct {
	registry *Registry
	switcher *ModelSwitcher
	procs    *process.Manager
	docker   *process.DockerLauncher
	store    store.Store
	bus      bus.Bus
	log      *logger.Logger

	mu         sync.Mutex
	containers map[string]string
}

func New(registry *Registry, switcher *ModelSwitcher, procs *process.Manager, st store.Store, b bus.Bus, log *logger.Logger) *Launcher {
	if log == nil {
		log = logger.Default()
	}
	return &Launcher{registry: registry, switcher: switcher, procs: procs, store: st, bus: b, log: log, containers: make(map[string]string)}
}

// WithDockerLauncher attaches the container-based secondary spawn backend,
// enabling CLIDescriptors whose Backend is BackendDocker. A Launcher with
// no docker launcher attached fails any terminal that selects it.
func (l *Launcher) WithDockerLauncher(d *process.DockerLauncher) *Launcher {
	l.docker = d
	return l
}

// StartTerminalsForWorkflow loads the workflow's terminals joined via
// their tasks, sorted by task order then terminal order, and spawns them
// one at a time so config writes from one CLI never race the next.
func (l *Launcher) StartTerminalsForWorkflow(ctx context.Context, workflowID string) error {
	tasks, err := l.store.ListTasksForWorkflow(ctx, workflowID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "list tasks for workflow failed", err)
	}
	taskOrder := make(map[string]int, len(tasks))
	for _, t := range tasks {
		taskOrder[t.ID] = t.OrderIndex
	}

	terminals, err := l.store.ListTerminalsForWorkflow(ctx, workflowID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "list terminals for workflow failed", err)
	}

	sort.SliceStable(terminals, func(i, j int) bool {
		oi, oj := taskOrder[terminals[i].TaskID], taskOrder[terminals[j].TaskID]
		if oi != oj {
			return oi < oj
		}
		return terminals[i].OrderIndex < terminals[j].OrderIndex
	})

	for i, term := range terminals {
		if err := l.startOne(ctx, term); err != nil {
			return err
		}
		if i < len(terminals)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(startupPause):
			}
		}
	}
	return nil
}

// startOne switches config, resolves, and spawns a single terminal.
func (l *Launcher) startOne(ctx context.Context, term *model.Terminal) error {
	log := l.log.WithTerminalID(term.ID)

	apiKey := ""
	if term.KeyHandle != "" {
		key, err := l.store.DecryptedAPIKey(ctx, term.KeyHandle)
		if err != nil {
			return l.failTerminal(ctx, term, apperrors.Wrap(apperrors.CodeLauncherSwitch, "resolve terminal api key failed", err))
		}
		apiKey = key
	}
	if err := l.switcher.SwitchForTerminal(term.CLIType, term, apiKey); err != nil {
		return l.failTerminal(ctx, term, err)
	}

	desc := l.registry.Descriptor(term.CLIType)

	if desc.Backend == BackendDocker {
		return l.startOneDocker(ctx, term, desc, log)
	}

	executable, err := Resolve(desc)
	if err != nil {
		return l.failTerminal(ctx, term, err)
	}

	args := []string{}
	if term.AutoConfirm && desc.AutoConfirmFlag != "" {
		args = append(args, desc.AutoConfirmFlag)
	}

	if err := l.store.SetTerminalStatus(ctx, term.ID, model.TerminalStarting); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal starting failed", err)
	}

	handle, err := l.procs.SpawnPTYWithConfig(term.ID, process.SpawnConfig{
		Command: executable,
		Args:    args,
		Cols:    120,
		Rows:    40,
	})
	if err != nil {
		return l.failTerminal(ctx, term, apperrors.Wrap(apperrors.CodeLauncherSpawn, "spawn terminal process failed", err))
	}

	if err := l.store.SetTerminalStarted(ctx, term.ID, handle.PID, handle.SessionID); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal started failed", err)
	}
	if err := l.store.SetTerminalStatus(ctx, term.ID, model.TerminalWaiting); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal waiting failed", err)
	}

	l.bridge(ctx, term.ID, handle)
	log.Info("terminal started", zap.Int("pid", handle.PID), zap.String("session_id", handle.SessionID))
	return nil
}

// startOneDocker spawns term's CLI inside a container instead of a host
// PTY, per desc.Backend == BackendDocker. There is no PTY master to bridge
// bus input onto, so this path skips l.bridge; a docker-backed terminal
// only advances via git commits and terminal_completed events.
func (l *Launcher) startOneDocker(ctx context.Context, term *model.Terminal, desc CLIDescriptor, log *logger.Logger) error {
	if l.docker == nil {
		return l.failTerminal(ctx, term, apperrors.New(apperrors.CodeLauncherSpawn, "cli type "+desc.ID+" selects the docker backend but no docker launcher is configured"))
	}

	if err := l.store.SetTerminalStatus(ctx, term.ID, model.TerminalStarting); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal starting failed", err)
	}

	cmd := []string{desc.Executable}
	if term.AutoConfirm && desc.AutoConfirmFlag != "" {
		cmd = append(cmd, desc.AutoConfirmFlag)
	}

	containerID, err := l.docker.SpawnContainer(ctx, term.ID, process.DockerSpawnConfig{
		Image:   desc.DockerImage,
		Command: cmd,
	})
	if err != nil {
		return l.failTerminal(ctx, term, apperrors.Wrap(apperrors.CodeLauncherSpawn, "spawn docker terminal failed", err))
	}

	l.mu.Lock()
	l.containers[term.ID] = containerID
	l.mu.Unlock()

	if err := l.store.SetTerminalStarted(ctx, term.ID, 0, containerID); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal started failed", err)
	}
	if err := l.store.SetTerminalStatus(ctx, term.ID, model.TerminalWaiting); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "set terminal waiting failed", err)
	}

	log.Info("docker terminal started", zap.String("container_id", containerID))
	return nil
}

// failTerminal marks term failed (best-effort) and returns the original
// error.
func (l *Launcher) failTerminal(ctx context.Context, term *model.Terminal, cause error) error {
	if err := l.store.SetTerminalStatus(ctx, term.ID, model.TerminalFailed); err != nil {
		l.log.Error("failed to mark terminal failed after spawn error", zap.String("terminal_id", term.ID), zap.Error(err))
	}
	return cause
}

// bridge subscribes to terminal.input.<id> and the PTY session's own
// topic, forwarding every TerminalInput message's Input/Decision text to
// the spawned process's stdin until its context is done or either
// subscription's channel is closed.
func (l *Launcher) bridge(ctx context.Context, terminalID string, handle *process.Handle) {
	primary := l.bus.Subscribe(bus.TerminalInputTopic(terminalID))
	session := l.bus.Subscribe(handle.SessionID)

	go func() {
		defer primary.Close()
		defer session.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-primary.Recv():
				if !ok {
					return
				}
				l.forwardInput(terminalID, handle, msg)
			case msg, ok := <-session.Recv():
				if !ok {
					return
				}
				l.forwardInput(terminalID, handle, msg)
			}
		}
	}()
}

func (l *Launcher) forwardInput(terminalID string, handle *process.Handle, msg bus.Message) {
	if msg.Type != bus.TypeTerminalInput {
		return
	}
	payload, ok := msg.Payload.(bus.TerminalInputPayload)
	if !ok {
		return
	}
	text := payload.Input
	if text == "" {
		text = payload.Decision
	}
	if text == "" {
		return
	}
	if _, err := fmt.Fprintln(handle.Stdin(), text); err != nil {
		l.log.Error("terminal bridge: write to pty stdin failed", zap.String("terminal_id", terminalID), zap.Error(err))
	}
}

// StopAll kills every workflow terminal's process (best-effort) and
// marks it cancelled.
func (l *Launcher) StopAll(ctx context.Context, workflowID string) error {
	terminals, err := l.store.ListTerminalsForWorkflow(ctx, workflowID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreIO, "list terminals for workflow failed", err)
	}
	for _, term := range terminals {
		l.mu.Lock()
		containerID, isDocker := l.containers[term.ID]
		delete(l.containers, term.ID)
		l.mu.Unlock()

		if isDocker {
			if l.docker != nil {
				if err := l.docker.Kill(ctx, containerID); err != nil {
					l.log.Warn("stop_all: kill docker terminal failed", zap.String("terminal_id", term.ID), zap.Error(err))
				}
			}
		} else if err := l.procs.KillTerminal(term.ID); err != nil {
			l.log.Warn("stop_all: kill terminal failed", zap.String("terminal_id", term.ID), zap.Error(err))
		}
		if err := l.store.SetTerminalStatus(ctx, term.ID, model.TerminalCancelled); err != nil {
			l.log.Error("stop_all: set terminal cancelled failed", zap.String("terminal_id", term.ID), zap.Error(err))
		}
	}
	return nil
}
