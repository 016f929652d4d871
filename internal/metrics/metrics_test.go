package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRecordsWithoutError(t *testing.T) {
	r, err := newRegistry()
	require.NoError(t, err)
	require.NotNil(t, r)

	ctx := context.Background()
	r.WorkflowStarted(ctx)
	r.WorkflowStopped(ctx, 12.5)
	r.ConcurrencyCapRejected(ctx)

	assert.NoError(t, r.Shutdown(ctx))
}

func TestNilRegistryMethodsAreNoops(t *testing.T) {
	var r *Registry
	ctx := context.Background()

	assert.NotPanics(t, func() {
		r.WorkflowStarted(ctx)
		r.WorkflowStopped(ctx, 1.0)
		r.ConcurrencyCapRejected(ctx)
	})
	assert.NoError(t, r.Shutdown(ctx))
}

func TestInitIsIdempotent(t *testing.T) {
	r1, err := Init()
	require.NoError(t, err)
	r2, err := Init()
	require.NoError(t, err)
	assert.Same(t, r1, r2, "Init must only build the registry once")
}
