package a2a

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAgentCard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent-card.json", nil)
	c, err := Classify(req)
	require.NoError(t, err)
	assert.Equal(t, KindAgentCard, c.Kind)
	assert.Equal(t, "/.well-known/agent-card.json", c.OriginalPath)
}

func TestClassifyLegacyAgentCard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil)
	c, err := Classify(req)
	require.NoError(t, err)
	assert.Equal(t, KindAgentCard, c.Kind)
}

func TestClassifyCallExtractsMethodAndLeavesBodyForwardable(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{}}`
	req := httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(body))

	c, err := Classify(req)
	require.NoError(t, err)
	assert.Equal(t, KindCall, c.Kind)
	assert.Equal(t, "message/send", c.Method)

	forwarded, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(forwarded))
}

func TestClassifyCallWithMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader("not json"))
	c, err := Classify(req)
	require.NoError(t, err)
	assert.Equal(t, KindCall, c.Kind)
	assert.Equal(t, "unknown", c.Method)
}

func TestClassifyUnknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/agent", nil)
	c, err := Classify(req)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, c.Kind)
}

func TestRewriteAgentCard(t *testing.T) {
	body := []byte(`{"name":"weather-agent","url":"http://internal-upstream:9000/agent"}`)
	out, err := RewriteAgentCard(body, "https://gateway.example.com", "/agents/weather/.well-known/agent-card.json")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"url":"https://gateway.example.com/agents/weather"`)
	assert.Contains(t, string(out), `"name":"weather-agent"`)
}

func TestRewriteAgentCardMissingURL(t *testing.T) {
	_, err := RewriteAgentCard([]byte(`{"name":"x"}`), "https://gateway.example.com", "/.well-known/agent-card.json")
	assert.Error(t, err)
}
