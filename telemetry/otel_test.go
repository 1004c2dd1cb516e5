package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sokdak/sokdak/config"
)

func TestInitWithoutEndpoint(t *testing.T) {
	require.NoError(t, Init(t.Context(), config.OTEL{}, DefaultAttributes("ko-KR")))
	assert.Nil(t, shutdownOTEL)
	assert.NoError(t, Close(t.Context()))
}

func TestInitAndClose(t *testing.T) {
	// gRPC exporters connect lazily, so no collector needs to be listening
	cfg := config.OTEL{Endpoint: "127.0.0.1:4317", Insecure: true, TracesSampleRate: 1}
	require.NoError(t, Init(t.Context(), cfg, DefaultAttributes("ko-KR")))
	assert.NotNil(t, shutdownOTEL)
	Close(t.Context())
	assert.Nil(t, shutdownOTEL)
}

func TestBuildResources(t *testing.T) {
	attrs := DefaultAttributes("en-US")
	kvs := buildResources(attrs)
	set := attribute.NewSet(kvs...)
	v, ok := set.Value("locale.language")
	require.True(t, ok)
	assert.Equal(t, "en-US", v.AsString())
	v, ok = set.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "sokdak", v.AsString())
}
