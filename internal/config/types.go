// Package config defines the gateway's data model (spec.md section 3):
// binds, routes, policies, and backends. It does not parse a config
// document — that is an external collaborator's job (spec.md section 1)
// — it only defines the immutable shapes the pipeline consumes.
package config

import "time"

// Protocol tags a Bind's listener.
type Protocol string

const (
	ProtocolTCP   Protocol = "tcp"
	ProtocolTLS   Protocol = "tls"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTP2 Protocol = "http2"
)

// Bind is a listening address plus the set of routes reachable through it.
type Bind struct {
	Name     string
	Address  string
	Protocol Protocol
	Routes   []*Route
}

// HeaderMatchKind distinguishes the header-constraint forms a Route may
// declare.
type HeaderMatchKind int

const (
	HeaderExact HeaderMatchKind = iota
	HeaderRegex
	HeaderPresent
)

type HeaderMatch struct {
	Name  string
	Kind  HeaderMatchKind
	Value string // unused for HeaderPresent
}

// PathMatchKind distinguishes prefix/exact/regex path matching.
type PathMatchKind int

const (
	PathPrefix PathMatchKind = iota
	PathExact
	PathRegex
)

// Route is one routing rule: a match predicate, an ordered policy chain,
// and a backend reference. Routes are immutable once built into a
// Snapshot.
type Route struct {
	Name          string
	Authority     string // glob, e.g. "*.example.com", "" means any
	PathMatch     PathMatchKind
	Path          string
	Methods       []string // empty means any method
	Headers       []HeaderMatch
	Policies      []Policy
	Backend       Backend
	ConfigOrder   int // stable tie-break, ascending
}

// Policy is the sealed interface every policy kind implements. Each
// concrete type also implements policy.RequestPolicy and/or
// policy.ResponsePolicy (internal/policy) — this interface only fixes
// the "tagged variant" identity spec.md section 3 describes.
type Policy interface {
	PolicyName() string
}

// BackendKind tags the Backend variant.
type BackendKind int

const (
	BackendService BackendKind = iota
	BackendStaticAddress
	BackendAIProvider
	BackendOpaqueTCP
)

// Backend is a reference to an upstream; it is resolved lazily into one
// or more Endpoints via a discovery snapshot or DNS.
type Backend struct {
	Kind BackendKind

	// BackendService
	ServiceName string
	ServicePort int

	// BackendStaticAddress
	Host string
	Port int

	// BackendAIProvider
	AIProvider *AIProviderConfig

	// Weight is used when a Route's Backend fans out to multiple
	// weighted choices; 0 means "the only choice".
	Weight int
}

// AIProviderVariant identifies an upstream LLM API shape.
type AIProviderVariant string

const (
	AIProviderOpenAI   AIProviderVariant = "openai"
	AIProviderAnthropic AIProviderVariant = "anthropic"
	AIProviderBedrock  AIProviderVariant = "bedrock"
	AIProviderGemini   AIProviderVariant = "gemini"
	AIProviderVertex   AIProviderVariant = "vertex"
)

// AIProviderConfig parameterizes an ai-provider Backend.
type AIProviderConfig struct {
	Variant AIProviderVariant
	Model   string // if set, overrides the request's model (spec.md 4.6)

	// Vertex/Bedrock region/project templating.
	Region  string
	Project string

	APIKeyHeader string // header to inject the provider credential into
	APIKey       string
}

// EndpointHealth is a coarse health tag from the discovery snapshot.
type EndpointHealth int

const (
	EndpointHealthy EndpointHealth = iota
	EndpointUnhealthy
)

// HBONEIdentity is one acceptable peer identity for a tunnel destination.
type HBONEIdentity string

// Endpoint is a resolved backend target, derived per request from a
// Backend plus the discovery snapshot (or DNS, for hostname backends).
type Endpoint struct {
	Address         string // ip:port
	Health          EndpointHealth
	TLSServerName   string
	HBONECapable    bool
	HBONEIdentities []HBONEIdentity
}

// Snapshot is the immutable, point-in-time view of routing configuration
// the pipeline operates against. A config reloader (out of scope) swaps
// the active Snapshot atomically; in-flight requests keep using the one
// they captured — see internal/config.Store.
type Snapshot struct {
	Binds     []*Bind
	Version   string
	BuiltAt   time.Time
}

// BindByAddress finds a bind by its listening address.
func (s *Snapshot) BindByAddress(addr string) (*Bind, bool) {
	if s == nil {
		return nil, false
	}
	for _, b := range s.Binds {
		if b.Address == addr {
			return b, true
		}
	}
	return nil, false
}
