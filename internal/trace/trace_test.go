package trace

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInjectRoundTrip(t *testing.T) {
	h := http.Header{}
	h.Set(traceparentHeader, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.Set(baggageHeader, "userId=alice")

	ctx := Extract(h)
	require.True(t, ctx.Sampled)
	assert.Equal(t, "alice", ctx.Baggage["userId"])

	out := http.Header{}
	Inject(ctx, out)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", out.Get(traceparentHeader))
	assert.Contains(t, out.Get(baggageHeader), "is_synthetic=true")
	assert.Contains(t, out.Get(baggageHeader), "userId=alice")
}

func TestExtractMalformedYieldsFreshRoot(t *testing.T) {
	h := http.Header{}
	h.Set(traceparentHeader, "garbage")
	ctx := Extract(h)
	require.NotNil(t, ctx)
	assert.NotEqual(t, [16]byte{}, ctx.TraceID)
}

func TestChildPreservesTraceID(t *testing.T) {
	root := New()
	child := root.Child()
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
}
