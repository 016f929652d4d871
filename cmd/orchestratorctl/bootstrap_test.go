package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderunhq/coderun/internal/config"
	"github.com/coderunhq/coderun/internal/model"
	"github.com/coderunhq/coderun/internal/store"
)

func TestOpenBackendMemoryDriver(t *testing.T) {
	s, err := openBackend(&config.Config{Database: config.DatabaseConfig{Driver: "memory"}})
	require.NoError(t, err)
	_, ok := s.(*store.MemoryStore)
	assert.True(t, ok)
}

func TestOpenBackendDefaultsToSQLite(t *testing.T) {
	s, err := openBackend(&config.Config{Database: config.DatabaseConfig{Path: t.TempDir() + "/test.db"}})
	require.NoError(t, err)
	_, ok := s.(*store.SQLiteStore)
	assert.True(t, ok)
}

func TestOpenStoreResolvesKeysFromEnv(t *testing.T) {
	t.Setenv("CODERUN_TEST_KEY_HANDLE", "sk-from-env")

	s, err := openStore(&config.Config{Database: config.DatabaseConfig{Driver: "memory"}})
	require.NoError(t, err)

	v, err := s.DecryptedAPIKey(context.Background(), "CODERUN_TEST_KEY_HANDLE")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", v)

	_, err = s.DecryptedAPIKey(context.Background(), "CODERUN_NO_SUCH_HANDLE")
	assert.Error(t, err)
}

func TestDefaultSystemPromptNamesWorkflow(t *testing.T) {
	wf := &model.Workflow{ID: "wf-1", Name: "Checkout revamp"}
	prompt := defaultSystemPrompt(wf)
	assert.Contains(t, prompt, "Checkout revamp")
	assert.Contains(t, prompt, "wf-1")
}

func TestResolveRepoPathJoinsProjectID(t *testing.T) {
	old := reposRoot
	reposRoot = "/repos"
	defer func() { reposRoot = old }()

	e := &env{}
	path, err := e.resolveRepoPath(context.Background(), &model.Workflow{ProjectID: "proj-1"})
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal(filepath.Join("/repos", "proj-1"), path)
}

func TestResolveRepoPathEmptyForMissingProjectID(t *testing.T) {
	e := &env{}
	path, err := e.resolveRepoPath(context.Background(), &model.Workflow{})
	assert.NoError(t, err)
	assert.Empty(t, path)
}
