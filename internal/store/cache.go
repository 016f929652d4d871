package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coderunhq/coderun/internal/model"
)

// presetCacheSize bounds the slash-command preset cache. Presets are
// small, read-mostly, system-curated templates; a few hundred entries
// comfortably covers any deployment's preset catalog.
const presetCacheSize = 256

// CachingStore decorates a Store with a bounded in-memory cache of
// GetSlashCommandPreset lookups. Every slash-command execution
// re-resolves the same handful of presets per workflow run; caching
// avoids round-tripping the backing Store for a template that
// essentially never changes mid-run.
type CachingStore struct {
	Store
	presets *lru.Cache[string, *model.SlashCommandPreset]
}

// WithPresetCache wraps inner with a bounded preset cache.
func WithPresetCache(inner Store) *CachingStore {
	c, _ := lru.New[string, *model.SlashCommandPreset](presetCacheSize)
	return &CachingStore{Store: inner, presets: c}
}

func (c *CachingStore) GetSlashCommandPreset(ctx context.Context, id string) (*model.SlashCommandPreset, error) {
	if p, ok := c.presets.Get(id); ok {
		return p, nil
	}
	p, err := c.Store.GetSlashCommandPreset(ctx, id)
	if err != nil {
		return nil, err
	}
	c.presets.Add(id, p)
	return p, nil
}

var _ Store = (*CachingStore)(nil)
