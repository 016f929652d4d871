package launcher

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/model"
)

// cliProfile is the per-CLI YAML profile written to each CLI's config
// directory, giving the spawned child the right model, base URL, and
// (already-decrypted) key before it starts.
type cliProfile struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// ModelSwitcher mutates per-CLI config files so a spawned terminal picks
// up the right model, base URL, and key.
type ModelSwitcher struct {
	// ConfigDir roots every CLI's profile file, e.g. ~/.config/coderun/cli.
	ConfigDir string
}

func NewModelSwitcher(configDir string) *ModelSwitcher {
	return &ModelSwitcher{ConfigDir: configDir}
}

// SwitchForTerminal writes term's model/base-URL/key profile to the
// CLI's config file, resolving apiKey from the already-decrypted value
// the Launcher obtained via the Store's key-handle accessor.
func (m *ModelSwitcher) SwitchForTerminal(cliID string, term *model.Terminal, apiKey string) error {
	profile := cliProfile{
		Model:   term.ModelConfigID,
		BaseURL: term.BaseURL,
		APIKey:  apiKey,
	}

	out, err := yaml.Marshal(profile)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeLauncherSwitch, "marshal cli profile failed", err)
	}

	path := filepath.Join(m.ConfigDir, cliID, "profile.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return apperrors.Wrap(apperrors.CodeLauncherSwitch, "create cli config dir failed", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return apperrors.Wrap(apperrors.CodeLauncherSwitch, "write cli profile failed", err)
	}
	return nil
}
