// Package launcher starts a workflow's terminals serially: model-
// configuration switching, CLI resolution, PTY spawn, and stdin bridge
// registration.
package launcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coderunhq/coderun/internal/apperrors"
)

// CLIDescriptor names one supported coding-agent CLI: its executable
// name, the auto-confirm flag to pass when a terminal's AutoConfirm is
// true, and extra PATH locations to search beyond the ambient PATH.
type CLIDescriptor struct {
	ID              string
	Executable      string
	AutoConfirmFlag string
	ExtraPaths      []string

	// Backend selects the Process Manager spawn path for this CLI type:
	// "" or "host" spawns a bare PTY (the default), "docker" spawns the
	// CLI inside a container instead.
	Backend     string
	DockerImage string
}

// BackendHost and BackendDocker name the two Launcher spawn backends a
// CLIDescriptor can select via its Backend field.
const (
	BackendHost   = "host"
	BackendDocker = "docker"
)

// Registry resolves a CLI type id to its descriptor and executable path.
type Registry struct {
	clis map[string]CLIDescriptor
}

// NewRegistry returns a Registry pre-populated with the stock CLI
// types: Claude Code, Codex, Gemini, Cursor, and Amp.
func NewRegistry() *Registry {
	r := &Registry{clis: make(map[string]CLIDescriptor)}
	for _, d := range []CLIDescriptor{
		{ID: "claude", Executable: "claude", AutoConfirmFlag: "--dangerously-skip-permissions", ExtraPaths: standardInstallPaths("claude")},
		{ID: "codex", Executable: "codex", AutoConfirmFlag: "--yolo", ExtraPaths: standardInstallPaths("codex")},
		{ID: "gemini", Executable: "gemini", AutoConfirmFlag: "--yolo", ExtraPaths: standardInstallPaths("gemini")},
		{ID: "cursor", Executable: "cursor-agent", ExtraPaths: standardInstallPaths("cursor-agent")},
		{ID: "amp", Executable: "amp", ExtraPaths: standardInstallPaths("amp")},
	} {
		r.clis[d.ID] = d
	}
	return r
}

// Register adds or overrides a CLI descriptor, for tests or deployments
// with a custom CLI type.
func (r *Registry) Register(d CLIDescriptor) { r.clis[d.ID] = d }

// Descriptor looks up a CLI type id; unknown ids fall back to a
// descriptor using the id itself as the executable name.
func (r *Registry) Descriptor(cliType string) CLIDescriptor {
	if d, ok := r.clis[cliType]; ok {
		return d
	}
	return CLIDescriptor{ID: cliType, Executable: cliType}
}

// Resolve finds d.Executable on PATH, extended with standard install
// locations and d.ExtraPaths.
func Resolve(d CLIDescriptor) (string, error) {
	if p, err := exec.LookPath(d.Executable); err == nil {
		return p, nil
	}
	for _, dir := range d.ExtraPaths {
		candidate := filepath.Join(dir, d.Executable)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", apperrors.New(apperrors.CodeLauncherNoCLI, "cli executable not found on PATH: "+d.Executable)
}

func standardInstallPaths(name string) []string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".npm-global", "bin"),
		filepath.Join(home, "bin"),
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !strings.Contains(c, name) {
			out = append(out, c)
		}
	}
	return out
}
