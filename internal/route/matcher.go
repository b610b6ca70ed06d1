// Package route implements the route matcher (spec.md section 4.1):
// resolving (authority, path, method, headers) to a route rule.
package route

import (
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("route")

// Request is the subset of an inbound request the matcher needs.
type Request struct {
	Authority string
	Path      string
	Method    string
	Headers   http.Header
}

// Matcher resolves requests against one Bind's route set. It precompiles
// regex path/header matchers once and caches them, since spec.md section
// 4.1 only requires re-matching per request, not per-config-load.
type Matcher struct {
	mu      sync.RWMutex
	bind    *config.Bind
	regexes map[string]*regexp.Regexp
}

// New builds a Matcher for bind, precompiling any regex path or header
// matchers declared on its routes.
func New(bind *config.Bind) *Matcher {
	m := &Matcher{bind: bind, regexes: map[string]*regexp.Regexp{}}
	for _, r := range bind.Routes {
		if r.PathMatch == config.PathRegex {
			m.compile(r.Path)
		}
		for _, h := range r.Headers {
			if h.Kind == config.HeaderRegex {
				m.compile(h.Value)
			}
		}
	}
	return m
}

func (m *Matcher) compile(pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regexes[pattern]; ok {
		return
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("invalid regex in route config, will never match", "pattern", pattern, "error", err)
		return
	}
	m.regexes[pattern] = re
}

func (m *Matcher) regex(pattern string) *regexp.Regexp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regexes[pattern]
}

// Result is a successful match: the route and which configured rule (by
// config order) it resolved to.
type Result struct {
	Route *config.Route
	Index int
}

// ErrNoMatch is returned by Match when no route in the bind's set matches
// req; the policy pipeline synthesizes a 404 for this case.
type ErrNoMatch struct{}

func (ErrNoMatch) Error() string { return "no route matched" }

// Match resolves req to a route. Candidates are filtered by authority
// glob, then ranked: exact path beats prefix beats regex; among equal
// rank, longest literal match wins; ties break on ascending ConfigOrder
// (the order routes were declared in config).
func (m *Matcher) Match(req Request) (*Result, error) {
	type candidate struct {
		route *config.Route
		rank  int // lower is better: 0=exact, 1=prefix, 2=regex
		specificity int
	}

	var candidates []candidate
	for _, r := range m.bind.Routes {
		if !authorityMatches(r.Authority, req.Authority) {
			continue
		}
		if len(r.Methods) > 0 && !methodMatches(r.Methods, req.Method) {
			continue
		}
		if !m.headersMatch(r.Headers, req.Headers) {
			continue
		}
		rank, specificity, ok := m.pathMatches(r, req.Path)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{route: r, rank: rank, specificity: specificity})
	}

	if len(candidates) == 0 {
		return nil, ErrNoMatch{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		if candidates[i].specificity != candidates[j].specificity {
			return candidates[i].specificity > candidates[j].specificity // longer prefix wins
		}
		return candidates[i].route.ConfigOrder < candidates[j].route.ConfigOrder
	})

	best := candidates[0]
	return &Result{Route: best.route, Index: best.route.ConfigOrder}, nil
}

func authorityMatches(pattern, authority string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	host := authority
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(pattern, host)
	}
	ok, err := path.Match(pattern, host)
	if err != nil {
		return false
	}
	return ok
}

func methodMatches(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (m *Matcher) headersMatch(constraints []config.HeaderMatch, headers http.Header) bool {
	for _, c := range constraints {
		v := headers.Get(c.Name)
		switch c.Kind {
		case config.HeaderPresent:
			if v == "" {
				return false
			}
		case config.HeaderExact:
			if v != c.Value {
				return false
			}
		case config.HeaderRegex:
			re := m.regex(c.Value)
			if re == nil || !re.MatchString(v) {
				return false
			}
		}
	}
	return true
}

// pathMatches returns (rank, specificity, matched). specificity is the
// length of the literal portion matched, used to break ties between two
// prefixes of differing length.
func (m *Matcher) pathMatches(r *config.Route, reqPath string) (int, int, bool) {
	switch r.PathMatch {
	case config.PathExact:
		if reqPath == r.Path {
			return 0, len(r.Path), true
		}
		return 0, 0, false
	case config.PathPrefix:
		if strings.HasPrefix(reqPath, r.Path) {
			return 1, len(r.Path), true
		}
		return 1, 0, false
	case config.PathRegex:
		re := m.regex(r.Path)
		if re != nil && re.MatchString(reqPath) {
			return 2, len(r.Path), true
		}
		return 2, 0, false
	default:
		return 99, 0, false
	}
}
