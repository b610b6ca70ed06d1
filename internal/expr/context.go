package expr

import "fmt"

// Provider lazily builds the Go value for one top-level attribute
// (request, response, source, destination, backend, jwt, mcp). It is
// only invoked when a compiled expression's FreeAttrs actually
// references that attribute, per spec.md's "lazy attribute population"
// design note.
type Provider func() any

// Context is built once per request (and extended at response time with
// a "response" provider) and handed to Engine.Eval for every policy
// expression the route declares.
type Context struct {
	providers map[string]Provider
	cache     map[string]any
	local     map[string]any
}

// NewContext returns an empty Context; callers register providers for
// whichever top-level attributes their request context can supply.
func NewContext() *Context {
	return &Context{providers: map[string]Provider{}, cache: map[string]any{}}
}

// SetProvider registers (or replaces) the builder for a top-level
// attribute. Safe to call again later in the request lifecycle — e.g.
// the pipeline calls SetProvider("response", ...) only once the
// upstream response is available.
func (c *Context) SetProvider(attr string, p Provider) {
	c.providers[attr] = p
	delete(c.cache, attr)
}

func (c *Context) bindLocal(name string, v any) {
	if c.local == nil {
		c.local = map[string]any{}
	}
	c.local[name] = v
}

func (c *Context) materialize(attr string) any {
	if v, ok := c.cache[attr]; ok {
		return v
	}
	p, ok := c.providers[attr]
	if !ok {
		return nil
	}
	v := p()
	c.cache[attr] = v
	return v
}

// Activation builds the map handed to a CEL program: only the
// attributes named in free are materialized (via their Provider), plus
// any locally-bound variables (from with/map_values) and the hidden
// "all materialized so far" map backing variables().
func (c *Context) Activation(_ *Engine, free map[string]bool) (map[string]any, error) {
	act := map[string]any{}
	for attr := range free {
		if !attrKnown(attr) {
			return nil, fmt.Errorf("unknown top-level attribute %q", attr)
		}
		act[attr] = c.materialize(attr)
	}
	for k, v := range c.local {
		act[k] = v
	}
	act[hiddenVariablesIdent] = c.snapshot()
	return act, nil
}

func (c *Context) snapshot() map[string]any {
	out := make(map[string]any, len(c.cache)+len(c.local))
	for k, v := range c.cache {
		out[k] = v
	}
	for k, v := range c.local {
		out[k] = v
	}
	return out
}

func attrKnown(attr string) bool {
	for _, a := range TopLevelAttrs {
		if a == attr {
			return true
		}
	}
	return false
}
