package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/config"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown := Setup("serenity-test", config.Config{}, zap.NewNop())
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupInstallsProviderFromConfig(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown := Setup("serenity-test", config.Config{OTLPEndpoint: "127.0.0.1:4317", OTLPInsecure: true}, zap.NewNop())

	_, ok := otel.GetTracerProvider().(*trace.TracerProvider)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
