package route

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
)

func rt(name string, order int, pm config.PathMatchKind, p string) *config.Route {
	return &config.Route{Name: name, ConfigOrder: order, PathMatch: pm, Path: p}
}

func TestExactBeatsPrefix(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{
		rt("prefix", 0, config.PathPrefix, "/test"),
		rt("exact", 1, config.PathExact, "/test"),
	}}
	m := New(bind)
	res, err := m.Match(Request{Path: "/test", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "exact", res.Route.Name)
}

func TestLongestPrefixWins(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{
		rt("short", 0, config.PathPrefix, "/a"),
		rt("long", 1, config.PathPrefix, "/a/b"),
	}}
	m := New(bind)
	res, err := m.Match(Request{Path: "/a/b/c", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "long", res.Route.Name)
}

func TestRegexEvaluatedAfterLiteral(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{
		rt("regex", 0, config.PathRegex, "^/test$"),
		rt("prefix", 1, config.PathPrefix, "/test"),
	}}
	m := New(bind)
	res, err := m.Match(Request{Path: "/test", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "prefix", res.Route.Name)
}

func TestConfigOrderTieBreak(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{
		rt("second", 1, config.PathPrefix, "/test"),
		rt("first", 0, config.PathPrefix, "/test"),
	}}
	m := New(bind)
	res, err := m.Match(Request{Path: "/test", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Route.Name)
}

func TestNoMatch(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{rt("only", 0, config.PathExact, "/test")}}
	m := New(bind)
	_, err := m.Match(Request{Path: "/other", Method: "GET"})
	assert.ErrorIs(t, err, ErrNoMatch{})
}

func TestMethodAndHeaderConjunctive(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{
		{
			Name:      "r",
			PathMatch: config.PathPrefix,
			Path:      "/test",
			Methods:   []string{"GET"},
			Headers:   []config.HeaderMatch{{Name: "x-flag", Kind: config.HeaderExact, Value: "1"}},
		},
	}}
	m := New(bind)
	h := http.Header{"X-Flag": []string{"1"}}
	_, err := m.Match(Request{Path: "/test", Method: "GET", Headers: h})
	assert.NoError(t, err)

	h2 := http.Header{"X-Flag": []string{"0"}}
	_, err = m.Match(Request{Path: "/test", Method: "GET", Headers: h2})
	assert.Error(t, err)

	_, err = m.Match(Request{Path: "/test", Method: "POST", Headers: h})
	assert.Error(t, err)
}

func TestAuthorityGlob(t *testing.T) {
	bind := &config.Bind{Routes: []*config.Route{
		{Name: "r", Authority: "*.example.com", PathMatch: config.PathPrefix, Path: "/"},
	}}
	m := New(bind)
	_, err := m.Match(Request{Authority: "api.example.com:8080", Path: "/test", Method: "GET"})
	assert.NoError(t, err)
	_, err = m.Match(Request{Authority: "other.com", Path: "/test", Method: "GET"})
	assert.Error(t, err)
}
