package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
)

// DiscoverySnapshot is the external collaborator (spec.md section 1:
// "it consumes a discovery snapshot from an external store") that
// resolves a service backend to its current endpoint set.
type DiscoverySnapshot interface {
	EndpointsFor(serviceName string, port int) []config.Endpoint
}

// Transport performs one upstream attempt over an already-selected
// endpoint. Concrete implementations pick plaintext TCP, TLS, or route
// through the HBONE pool (spec.md section 4.3 "Transport selection").
type Transport interface {
	RoundTrip(ctx context.Context, ep config.Endpoint, req *http.Request) (*http.Response, error)
}

// Dispatcher selects an endpoint for a backend and invokes a Transport,
// round-robining per process with no cross-request stickiness (spec.md
// section 4.3).
type Dispatcher struct {
	discovery DiscoverySnapshot
	dns       *DNSCache
	transport Transport

	cursors atomicCursors
}

type atomicCursors struct {
	m map[string]*atomic.Uint64
}

// New builds a Dispatcher. discovery resolves service backends, dns
// resolves hostname backends, transport performs the wire call for a
// selected endpoint.
func New(discovery DiscoverySnapshot, dns *DNSCache, transport Transport) *Dispatcher {
	return &Dispatcher{discovery: discovery, dns: dns, transport: transport, cursors: atomicCursors{m: map[string]*atomic.Uint64{}}}
}

func (a *atomicCursors) next(key string) uint64 {
	c, ok := a.m[key]
	if !ok {
		c = &atomic.Uint64{}
		a.m[key] = c
	}
	return c.Add(1) - 1
}

// SelectEndpoint resolves backend to one concrete Endpoint (spec.md
// section 4.3 "Endpoint selection").
func (d *Dispatcher) SelectEndpoint(ctx context.Context, backend config.Backend) (config.Endpoint, error) {
	switch backend.Kind {
	case config.BackendService:
		eps := d.discovery.EndpointsFor(backend.ServiceName, backend.ServicePort)
		healthy := make([]config.Endpoint, 0, len(eps))
		for _, e := range eps {
			if e.Health == config.EndpointHealthy {
				healthy = append(healthy, e)
			}
		}
		if len(healthy) == 0 {
			return config.Endpoint{}, gwerror.New(gwerror.KindNoHealthyEndpoints, "dispatcher.SelectEndpoint",
				fmt.Errorf("service %s:%d has no healthy endpoints", backend.ServiceName, backend.ServicePort))
		}
		key := fmt.Sprintf("svc:%s:%d", backend.ServiceName, backend.ServicePort)
		idx := d.cursors.next(key) % uint64(len(healthy))
		return healthy[idx], nil

	case config.BackendStaticAddress:
		ip, err := d.dns.Resolve(ctx, backend.Host)
		if err != nil {
			return config.Endpoint{}, err
		}
		return config.Endpoint{Address: fmt.Sprintf("%s:%d", ip.String(), backend.Port), TLSServerName: backend.Host}, nil

	case config.BackendAIProvider:
		ep, err := aiProviderEndpoint(backend.AIProvider)
		if err != nil {
			return config.Endpoint{}, gwerror.New(gwerror.KindBackendDoesNotExist, "dispatcher.SelectEndpoint", err)
		}
		return ep, nil

	case config.BackendOpaqueTCP:
		return config.Endpoint{Address: fmt.Sprintf("%s:%d", backend.Host, backend.Port)}, nil

	default:
		return config.Endpoint{}, gwerror.New(gwerror.KindBackendDoesNotExist, "dispatcher.SelectEndpoint",
			fmt.Errorf("unknown backend kind %d", backend.Kind))
	}
}

// aiProviderEndpoint computes the host for an AI provider backend.
// Vertex is templated per spec.md section 4.3:
// "{region}-aiplatform.googleapis.com".
func aiProviderEndpoint(p *config.AIProviderConfig) (config.Endpoint, error) {
	if p == nil {
		return config.Endpoint{}, fmt.Errorf("ai-provider backend missing provider config")
	}
	switch p.Variant {
	case config.AIProviderOpenAI:
		return config.Endpoint{Address: "api.openai.com:443", TLSServerName: "api.openai.com"}, nil
	case config.AIProviderAnthropic:
		return config.Endpoint{Address: "api.anthropic.com:443", TLSServerName: "api.anthropic.com"}, nil
	case config.AIProviderGemini:
		return config.Endpoint{Address: "generativelanguage.googleapis.com:443", TLSServerName: "generativelanguage.googleapis.com"}, nil
	case config.AIProviderVertex:
		host := "aiplatform.googleapis.com"
		if p.Region != "" {
			host = fmt.Sprintf("%s-aiplatform.googleapis.com", p.Region)
		}
		return config.Endpoint{Address: host + ":443", TLSServerName: host}, nil
	case config.AIProviderBedrock:
		host := fmt.Sprintf("bedrock-runtime.%s.amazonaws.com", p.Region)
		return config.Endpoint{Address: host + ":443", TLSServerName: host}, nil
	default:
		return config.Endpoint{}, fmt.Errorf("unknown ai provider variant %q", p.Variant)
	}
}

// VertexPath templates Vertex's OpenAI-compatibility path per spec.md
// section 4.3, given the project/region the AI provider config names.
// Grounded on original_source/crates/agentgateway/src/llm/vertex.rs
// get_path_for_model, which defaults region to "global" when unset.
func VertexPath(p *config.AIProviderConfig) string {
	region := p.Region
	if region == "" {
		region = "global"
	}
	return fmt.Sprintf("/v1beta1/projects/%s/locations/%s/endpoints/openapi/chat/completions", p.Project, region)
}

// Attempt performs exactly one upstream attempt: select an endpoint and
// round-trip through the Transport. Timeout
// dominance (spec.md section 4.2 "Timeouts") is the caller's
// responsibility — ctx must already carry the effective per-attempt
// deadline.
func (d *Dispatcher) Attempt(ctx context.Context, backend config.Backend, req *http.Request) (*http.Response, error) {
	ep, err := d.SelectEndpoint(ctx, backend)
	if err != nil {
		return nil, err
	}
	resp, err := d.transport.RoundTrip(ctx, ep, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerror.New(gwerror.KindRequestTimeout, "dispatcher.Attempt", ctx.Err())
		}
		return nil, gwerror.New(gwerror.KindUpstreamCallFailed, "dispatcher.Attempt", err)
	}
	return resp, nil
}

// EffectiveDeadline implements spec.md section 4.2's timeout-dominance
// rule: the per-attempt deadline is min(remaining request_timeout,
// backend_request_timeout). Either duration may be zero, meaning unset.
func EffectiveDeadline(now time.Time, requestDeadline time.Time, backendTimeout time.Duration) time.Time {
	d := requestDeadline
	if backendTimeout > 0 {
		candidate := now.Add(backendTimeout)
		if d.IsZero() || candidate.Before(d) {
			d = candidate
		}
	}
	return d
}
