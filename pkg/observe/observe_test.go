package observe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omer-dayan/runai-model-streamer/pkg/observe"
)

func TestNew_DisabledIsNoOp(t *testing.T) {
	ctx := context.Background()
	p, err := observe.New(ctx, &observe.Config{Enabled: false})
	require.NoError(t, err)

	// All recording methods must be safe on a disabled provider.
	spanCtx, span := p.StartPhase(ctx, "build")
	assert.NotNil(t, spanCtx)
	span.End()

	p.CountBuild(ctx, "linux/x86_64", true)
	p.CountPackage(ctx, "linux/x86_64", true)
	p.CountPublish(ctx, 2)
	p.CountFailure(ctx, "macos/arm64", "package")

	assert.NoError(t, p.Shutdown(ctx))
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	p, err := observe.New(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestDefaultConfig(t *testing.T) {
	cfg := observe.DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "streamer-release", cfg.ServiceName)
}
