package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceFromMethod(t *testing.T) {
	cases := []struct {
		method FrameMethod
		kind   Kind
	}{
		{MethodToolsCall, KindTool},
		{MethodPromptsGet, KindPrompt},
		{MethodResourcesRead, KindResource},
	}
	for _, c := range cases {
		res, ok := ResourceFromMethod("weather-server", c.method, "get_forecast")
		assert.True(t, ok)
		assert.Equal(t, "weather-server", res.Target)
		assert.Equal(t, "get_forecast", res.Name)
		assert.Equal(t, c.kind, res.Kind)
	}
}

func TestResourceFromMethodUnrecognized(t *testing.T) {
	_, ok := ResourceFromMethod("weather-server", "tools/list", "")
	assert.False(t, ok)
}

func TestAttrs(t *testing.T) {
	r := Resource{Target: "weather-server", Name: "get_forecast", Kind: KindTool}
	assert.Equal(t, map[string]any{
		"target": "weather-server",
		"name":   "get_forecast",
		"kind":   "tool",
	}, r.Attrs())
}
