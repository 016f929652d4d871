// Package process spawns and tracks PTY child processes keyed by
// terminal id.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/logger"
)

// SpawnConfig describes how to start a terminal's child process.
type SpawnConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Cols    int
	Rows    int
}

// Handle is the live record for one spawned terminal process.
type Handle struct {
	TerminalID string
	SessionID  string
	PID        int

	pty    PtyHandle
	screen *Screen
	cmd    *exec.Cmd
	done   chan struct{}
}

// Stdin returns the handle's PTY master, usable as the child's stdin/stdout.
func (h *Handle) Stdin() PtyHandle { return h.pty }

// Output returns the handle's PTY master for reading child output,
// wrapped so every byte read also feeds the handle's Screen buffer.
// Orchestration never parses this stream for semantic meaning; it
// exists purely for an external streaming consumer to read from, with
// screen emulation riding along on that single read path.
func (h *Handle) Output() PtyHandle { return teePTY{PtyHandle: h.pty, screen: h.screen} }

// teePTY feeds every byte read from the underlying PTY into a Screen
// before returning it to the caller, so exactly one reader ever drains
// the PTY master.
type teePTY struct {
	PtyHandle
	screen *Screen
}

func (t teePTY) Read(b []byte) (int, error) {
	n, err := t.PtyHandle.Read(b)
	if n > 0 && t.screen != nil {
		t.screen.Feed(b[:n])
	}
	return n, err
}

// Screen returns the handle's live terminal-emulation buffer, or nil for
// a handle started by Spawn (which has no PTY). See screen.go.
func (h *Handle) Screen() *Screen { return h.screen }

// Resize resizes the underlying PTY, if this handle has one.
func (h *Handle) Resize(cols, rows uint16) error {
	if h.pty == nil {
		return nil
	}
	return h.pty.Resize(cols, rows)
}

// Wait blocks until the child process exits.
func (h *Handle) Wait() { <-h.done }

// Manager spawns and tracks PTY child processes keyed by terminal id.
type Manager struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	log     *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{handles: make(map[string]*Handle), log: log}
}

// SpawnPTYWithConfig starts cfg.Command under a PTY sized cols x rows and
// registers the resulting handle under terminalID. The platform-specific
// PTY (creack/pty on Unix, UserExistsError/conpty on Windows) is selected
// by startPTYWithSize, per pty_handle.go's PtyHandle split.
func (m *Manager) SpawnPTYWithConfig(terminalID string, cfg SpawnConfig) (*Handle, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 40
	}

	ptmx, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLauncherSpawn, "pty spawn failed", err)
	}

	handle := &Handle{
		TerminalID: terminalID,
		SessionID:  uuid.NewString(),
		PID:        cmd.Process.Pid,
		pty:        ptmx,
		screen:     NewScreen(cols, rows),
		cmd:        cmd,
		done:       make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		_ = ptmx.Close()
		close(handle.done)
	}()

	m.mu.Lock()
	m.handles[terminalID] = handle
	m.mu.Unlock()

	m.log.Info("spawned pty terminal", zap.String("terminal_id", terminalID), zap.String("session_id", handle.SessionID))
	return handle, nil
}

// Spawn is a plain (non-PTY) process spawn, used for short-lived helper commands.
func (m *Manager) Spawn(terminalID, command string, args []string, cwd string) (*Handle, error) {
	cmd := exec.Command(command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if err := cmd.Start(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLauncherSpawn, "process spawn failed", err)
	}

	handle := &Handle{
		TerminalID: terminalID,
		SessionID:  uuid.NewString(),
		PID:        cmd.Process.Pid,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(handle.done)
	}()

	m.mu.Lock()
	m.handles[terminalID] = handle
	m.mu.Unlock()
	return handle, nil
}

// KillTerminal kills the process registered for terminalID, if any.
func (m *Manager) KillTerminal(terminalID string) error {
	m.mu.RLock()
	h, ok := m.handles[terminalID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.Kill(h.PID)
}

// Kill sends SIGKILL to the given PID. Missing processes are not an error.
func (m *Manager) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// IsRunning reports whether terminalID's process is still live.
func (m *Manager) IsRunning(terminalID string) bool {
	m.mu.RLock()
	h, ok := m.handles[terminalID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Handle returns the live handle for terminalID, if any.
func (m *Manager) Handle(terminalID string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[terminalID]
	return h, ok
}

