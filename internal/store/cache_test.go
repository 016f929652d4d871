package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderunhq/coderun/internal/model"
)

func TestCachingStoreCachesPresetLookups(t *testing.T) {
	inner := NewMemoryStore()
	inner.SeedPreset(&model.SlashCommandPreset{ID: "preset-1", Command: "/review", PromptTemplate: "v1"})

	c := WithPresetCache(inner)

	p1, err := c.GetSlashCommandPreset(context.Background(), "preset-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", p1.PromptTemplate)

	// Mutate the backing store directly; the cached copy must still be served.
	inner.SeedPreset(&model.SlashCommandPreset{ID: "preset-1", Command: "/review", PromptTemplate: "v2"})

	p2, err := c.GetSlashCommandPreset(context.Background(), "preset-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", p2.PromptTemplate, "a cached preset must not reflect a later backing-store write")
}

func TestCachingStorePropagatesNotFound(t *testing.T) {
	c := WithPresetCache(NewMemoryStore())
	_, err := c.GetSlashCommandPreset(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCachingStoreDelegatesOtherMethods(t *testing.T) {
	inner := NewMemoryStore()
	wf := &model.Workflow{ID: "wf-1", Status: model.WorkflowReady}
	require.NoError(t, inner.CreateWithTasks(context.Background(), wf, nil, nil))

	c := WithPresetCache(inner)
	got, err := c.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)
}
