package gateway_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kgateway-dev/agentgatewayd/internal/appctx"
	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/dispatcher"
	"github.com/kgateway-dev/agentgatewayd/internal/expr"
	"github.com/kgateway-dev/agentgatewayd/internal/gateway"
	"github.com/kgateway-dev/agentgatewayd/internal/policy"
)

// stubDiscovery always resolves to whatever single endpoint it was
// built with, standing in for the external discovery collaborator
// spec.md section 1 places out of scope.
type stubDiscovery struct{ ep config.Endpoint }

func (s stubDiscovery) EndpointsFor(string, int) []config.Endpoint { return []config.Endpoint{s.ep} }

// stubTransport hands every RoundTrip to a caller-supplied func,
// standing in for a real dialed connection so these tests never touch
// the network.
type stubTransport struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (s stubTransport) RoundTrip(_ context.Context, _ config.Endpoint, req *http.Request) (*http.Response, error) {
	return s.fn(req)
}

func newTestGateway(fn func(req *http.Request) (*http.Response, error), routes []*config.Route) *gateway.Gateway {
	app := &appctx.Context{
		Store:   config.NewStore(),
		Metrics: policy.NopMetrics{},
		Dispatcher: dispatcher.New(
			stubDiscovery{ep: config.Endpoint{Address: "10.0.0.1:80", Health: config.EndpointHealthy}},
			nil,
			stubTransport{fn: fn},
		),
	}
	gw := gateway.New(app)
	gw.Reload(&config.Snapshot{Binds: []*config.Bind{{Name: "test", Routes: routes}}})
	return gw
}

func serveOnce(gw *gateway.Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	gw.ServeBind(&config.Bind{Name: "test"}, rec, req)
	return rec
}

func baseRoute() *config.Route {
	return &config.Route{
		Name:      "r1",
		PathMatch: config.PathPrefix,
		Path:      "/",
		Backend:   config.Backend{Kind: config.BackendService, ServiceName: "svc", ServicePort: 80},
	}
}

var _ = Describe("Gateway.ServeBind", func() {
	It("returns 404 when no route matches the bind", func() {
		gw := newTestGateway(nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/anything", nil)

		rec := serveOnce(gw, req)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("forwards a matched request upstream and relays the response", func() {
		route := baseRoute()
		gw := newTestGateway(func(req *http.Request) (*http.Response, error) {
			Expect(req.URL.Path).To(Equal("/hello"))
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Body:       io.NopCloser(strings.NewReader("ok")),
			}, nil
		}, []*config.Route{route})

		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		rec := serveOnce(gw, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("ok"))
	})

	It("denies a request via an authz policy without reaching upstream", func() {
		route := baseRoute()
		route.Policies = []config.Policy{denyAllAuthz()}
		called := false
		gw := newTestGateway(func(req *http.Request) (*http.Response, error) {
			called = true
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
		}, []*config.Route{route})

		req := httptest.NewRequest(http.MethodGet, "/secret", nil)
		rec := serveOnce(gw, req)

		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(called).To(BeFalse())
	})

	It("rate-limits a second request on the same bucket with a 429 that isn't collapsed to 500", func() {
		route := baseRoute()
		route.Policies = []config.Policy{&policy.LocalRateLimitPolicy{Capacity: 1, RefillPerSec: 0}}
		gw := newTestGateway(func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
		}, []*config.Route{route})

		first := serveOnce(gw, httptest.NewRequest(http.MethodGet, "/limited", nil))
		Expect(first.Code).To(Equal(http.StatusOK))

		second := serveOnce(gw, httptest.NewRequest(http.MethodGet, "/limited", nil))
		Expect(second.Code).To(Equal(http.StatusTooManyRequests))
		Expect(second.Header().Get("X-RateLimit-Limit")).To(Equal("1"))
	})

	It("streams an SSE response through a content-filter policy frame by frame", func() {
		route := baseRoute()
		route.Policies = []config.Policy{&policy.ContentFilterPolicy{}}
		sse := "data: contact jane@example.com for access\n\n" + "data: [DONE]\n\n"
		gw := newTestGateway(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/event-stream"}},
				Body:       io.NopCloser(strings.NewReader(sse)),
			}, nil
		}, []*config.Route{route})

		req := httptest.NewRequest(http.MethodGet, "/chat", nil)
		rec := serveOnce(gw, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).NotTo(ContainSubstring("jane@example.com"))
		Expect(rec.Body.String()).To(ContainSubstring("[REDACTED]"))
		Expect(rec.Body.String()).To(ContainSubstring("[DONE]"))
	})
})

func denyAllAuthz() config.Policy {
	eng, err := expr.NewEngine()
	Expect(err).NotTo(HaveOccurred())
	always, err := eng.Compile("true")
	Expect(err).NotTo(HaveOccurred())
	return &policy.AuthzPolicy{Engine: eng, Deny: []*expr.Compiled{always}}
}
