package policy

import (
	"context"
	"fmt"
	"net/http"

	ratelimitv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"google.golang.org/grpc"

	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
)

// Descriptor is one key/value tuple submitted to the rate-limit service
// to identify a counter (spec.md GLOSSARY "Descriptor").
type Descriptor struct {
	Entries []DescriptorEntry
}

type DescriptorEntry struct {
	Key, Value string
}

// DescriptorBuilder builds the descriptor list from request attributes
// (spec.md section 4.2 "Remote": "build a descriptor list from request
// attributes (header lookups, static keys)").
type DescriptorBuilder struct {
	HeaderKeys []string // descriptor key = header name, value = header value
	StaticKeys map[string]string
}

func (b DescriptorBuilder) Build(h http.Header) []Descriptor {
	entries := make([]DescriptorEntry, 0, len(b.HeaderKeys)+len(b.StaticKeys))
	for _, k := range b.HeaderKeys {
		entries = append(entries, DescriptorEntry{Key: k, Value: h.Get(k)})
	}
	for k, v := range b.StaticKeys {
		entries = append(entries, DescriptorEntry{Key: k, Value: v})
	}
	return []Descriptor{{Entries: entries}}
}

// RemoteRateLimitClient is the gRPC client to the external rate-limit
// service (spec.md section 6 "Rate-limit service").
type RemoteRateLimitClient interface {
	ShouldRateLimit(ctx context.Context, domain string, descriptors []Descriptor) (RemoteRateLimitVerdict, error)
}

// RemoteRateLimitVerdict is the translated OK/OVER_LIMIT decision plus
// any headers/body the service asked the gateway to forward.
type RemoteRateLimitVerdict struct {
	OverLimit           bool
	RequestHeadersToAdd  http.Header
	ResponseHeadersToAdd http.Header
	RawBody              []byte
}

// grpcRateLimitClient speaks the Envoy RLS v3 protocol (spec.md section
// 6: "gRPC, request: {domain, descriptors[]}; response: {overall_code
// ..., request_headers_to_add[], response_headers_to_add[], raw_body?}"),
// using the teacher's direct dependency on the RLS proto types.
type grpcRateLimitClient struct {
	client ratelimitv3.RateLimitServiceClient
}

// NewGRPCRateLimitClient wraps an already-dialed conn and returns a
// RemoteRateLimitClient backed by the real Envoy RLS gRPC service.
func NewGRPCRateLimitClient(conn *grpc.ClientConn) RemoteRateLimitClient {
	return &grpcRateLimitClient{client: ratelimitv3.NewRateLimitServiceClient(conn)}
}

func (c *grpcRateLimitClient) ShouldRateLimit(ctx context.Context, domain string, descriptors []Descriptor) (RemoteRateLimitVerdict, error) {
	req := &ratelimitv3.RateLimitRequest{Domain: domain}
	for _, d := range descriptors {
		pbd := &ratelimitv3.RateLimitDescriptor{}
		for _, e := range d.Entries {
			pbd.Entries = append(pbd.Entries, &ratelimitv3.RateLimitDescriptor_Entry{Key: e.Key, Value: e.Value})
		}
		req.Descriptors = append(req.Descriptors, pbd)
	}

	resp, err := c.client.ShouldRateLimit(ctx, req)
	if err != nil {
		return RemoteRateLimitVerdict{}, fmt.Errorf("rate-limit service call: %w", err)
	}

	verdict := RemoteRateLimitVerdict{
		OverLimit:            resp.OverallCode == ratelimitv3.RateLimitResponse_OVER_LIMIT,
		RequestHeadersToAdd:  http.Header{},
		ResponseHeadersToAdd: http.Header{},
	}
	for _, h := range resp.RequestHeadersToAdd {
		verdict.RequestHeadersToAdd.Set(h.Key, h.Value)
	}
	for _, h := range resp.ResponseHeadersToAdd {
		verdict.ResponseHeadersToAdd.Set(h.Key, h.Value)
	}
	if resp.RawBody != nil {
		verdict.RawBody = resp.RawBody
	}
	return verdict, nil
}

// RemoteRateLimitPolicy calls the external rate-limit service, translating
// OK/OVER_LIMIT into pass-through/429, and forwards service-returned
// headers on both request and response as the service indicated (spec.md
// section 4.2 "Remote").
type RemoteRateLimitPolicy struct {
	Client     RemoteRateLimitClient
	Domain     string
	Descriptor DescriptorBuilder
	Metrics    Metrics
	RouteName  string
}

func (p *RemoteRateLimitPolicy) PolicyName() string { return "rate-limit-remote" }
func (p *RemoteRateLimitPolicy) PolicyKind() string { return "rate-limit-remote" }

func (p *RemoteRateLimitPolicy) ApplyRequest(ctx context.Context, req *Request) (Result, error) {
	descriptors := p.Descriptor.Build(req.Header)
	verdict, err := p.Client.ShouldRateLimit(ctx, p.Domain, descriptors)
	if err != nil {
		// spec.md section 4.2: "on transport failure produces 429".
		if p.Metrics != nil {
			p.Metrics.IncRateLimited(p.RouteName, "transport-failure")
		}
		return Result{}, gwerror.New(gwerror.KindRateLimitFailed, "rate-limit-remote.ApplyRequest", err)
	}

	if verdict.OverLimit {
		if p.Metrics != nil {
			p.Metrics.IncRateLimited(p.RouteName, "over-limit")
		}
		return Result{DirectResponse: &DirectResponse{
			StatusCode: http.StatusTooManyRequests,
			Header:     verdict.ResponseHeadersToAdd,
			Body:       verdict.RawBody,
		}}, nil
	}
	return Result{RequestHeaders: verdict.RequestHeadersToAdd, ResponseHeaders: verdict.ResponseHeadersToAdd}, nil
}
