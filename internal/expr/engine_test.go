package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func TestBoolDenyAllow(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`request.headers["x-bad"] == "1"`)
	require.NoError(t, err)

	ctx := NewContext()
	ctx.SetProvider("request", func() any {
		return map[string]any{"headers": map[string]any{"x-bad": "1"}}
	})
	ok, err := e.Bool(c, ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTotalityOnMissingAttribute(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`request.headers["missing"] == "1"`)
	require.NoError(t, err)

	ctx := NewContext()
	ctx.SetProvider("request", func() any {
		return map[string]any{"headers": map[string]any{"present": "x"}}
	})
	ok, err := e.Bool(c, ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLazyMaterialization(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`true`)
	require.NoError(t, err)

	called := false
	ctx := NewContext()
	ctx.SetProvider("request", func() any {
		called = true
		return map[string]any{}
	})
	ok, err := e.Bool(c, ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, called, "request provider should not be invoked when the expression never references request")
}

func TestFreeAttrsDetection(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`request.method == "GET" && destination.port == 443`)
	require.NoError(t, err)
	require.True(t, c.FreeAttrs["request"])
	require.True(t, c.FreeAttrs["destination"])
	require.False(t, c.FreeAttrs["jwt"])
}

func TestStringExtensions(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`"Hello".lowerAscii() == "hello"`)
	require.NoError(t, err)
	ok, err := e.Bool(c, NewContext())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBase64Encode(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`"hi".base64_encode()`)
	require.NoError(t, err)
	s, err := e.String(c, NewContext())
	require.NoError(t, err)
	require.Equal(t, "aGk=", s)
}

func TestJSONParse(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`json("{\"a\":1}").a == 1`)
	require.NoError(t, err)
	ok, err := e.Bool(c, NewContext())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWithBindsLocal(t *testing.T) {
	e := mustEngine(t)
	c, err := e.Compile(`with(5, "x", "x + 1") == 6`)
	require.NoError(t, err)
	ok, err := e.Bool(c, NewContext())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEmptyExpressionList(t *testing.T) {
	// The allow/deny composition itself lives in internal/policy's
	// AuthzPolicy; this test only checks that an empty expression list
	// holds no expressions for it to evaluate.
	var exprs []*Compiled
	require.Empty(t, exprs)
}
