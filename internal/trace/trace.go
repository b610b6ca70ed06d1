// Package trace implements W3C TraceContext and Baggage propagation
// (spec.md section 6 "Trace propagation"). Outbound requests receive an
// injected traceparent/tracestate pair plus a synthetic-flag baggage
// entry; inbound requests are parsed back into a Context the pipeline
// can thread through the expression engine and logs.
//
// The teacher depends on go.opencensus.io for its own span/trace ID
// generation; its propagation codec is not W3C, so this package hand-
// ports the W3C header grammar (DESIGN.md) and reuses opencensus only
// for its trace/span ID types; the IDs themselves come from crypto/rand.
package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	octrace "go.opencensus.io/trace"
)

const (
	traceparentHeader = "traceparent"
	tracestateHeader  = "tracestate"
	baggageHeader     = "baggage"

	// SyntheticBaggageKey is injected on every outbound request per
	// spec.md section 6 ("a synthetic-flag baggage key").
	SyntheticBaggageKey = "is_synthetic"
)

// Context is a parsed (or freshly minted) W3C trace context plus
// baggage members.
type Context struct {
	TraceID    octrace.TraceID
	SpanID     octrace.SpanID
	Sampled    bool
	TraceState string
	Baggage    map[string]string
}

// New mints a fresh root Context with random trace/span IDs, as a
// listener does for a connection that arrives with no traceparent.
func New() *Context {
	return &Context{
		TraceID: newTraceID(),
		SpanID:  newSpanID(),
		Sampled: true,
		Baggage: map[string]string{},
	}
}

// Child derives a new span within the same trace, as the pipeline does
// when it hands a request to the upstream dispatcher.
func (c *Context) Child() *Context {
	child := &Context{
		TraceID:    c.TraceID,
		SpanID:     newSpanID(),
		Sampled:    c.Sampled,
		TraceState: c.TraceState,
		Baggage:    make(map[string]string, len(c.Baggage)),
	}
	for k, v := range c.Baggage {
		child.Baggage[k] = v
	}
	return child
}

func newTraceID() octrace.TraceID {
	var id octrace.TraceID
	_, _ = rand.Read(id[:])
	return id
}

func newSpanID() octrace.SpanID {
	var id octrace.SpanID
	_, _ = rand.Read(id[:])
	return id
}

// Extract parses the traceparent/tracestate/baggage headers from an
// inbound request, per spec.md section 6. A missing or malformed
// traceparent yields a fresh root Context rather than an error — trace
// propagation is best-effort and must never fail a request.
func Extract(h http.Header) *Context {
	tp := h.Get(traceparentHeader)
	ctx, ok := parseTraceparent(tp)
	if !ok {
		ctx = New()
	}
	ctx.TraceState = h.Get(tracestateHeader)
	ctx.Baggage = parseBaggage(h.Get(baggageHeader))
	return ctx
}

// Inject writes traceparent/tracestate/baggage onto an outbound
// request's headers, adding the synthetic-flag baggage member
// (spec.md section 6).
func Inject(c *Context, h http.Header) {
	h.Set(traceparentHeader, c.traceparent())
	if c.TraceState != "" {
		h.Set(tracestateHeader, c.TraceState)
	}
	h.Set(baggageHeader, c.baggageHeader())
}

func (c *Context) traceparent() string {
	flags := "00"
	if c.Sampled {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", hex.EncodeToString(c.TraceID[:]), hex.EncodeToString(c.SpanID[:]), flags)
}

func (c *Context) baggageHeader() string {
	members := make([]string, 0, len(c.Baggage)+1)
	for k, v := range c.Baggage {
		members = append(members, k+"="+v)
	}
	members = append(members, SyntheticBaggageKey+"=true")
	return strings.Join(members, ",")
}

func parseTraceparent(v string) (*Context, bool) {
	parts := strings.Split(v, "-")
	if len(parts) != 4 {
		return nil, false
	}
	if len(parts[1]) != 32 || len(parts[2]) != 16 {
		return nil, false
	}
	traceIDBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(traceIDBytes) != 16 {
		return nil, false
	}
	spanIDBytes, err := hex.DecodeString(parts[2])
	if err != nil || len(spanIDBytes) != 8 {
		return nil, false
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return nil, false
	}
	var traceID octrace.TraceID
	copy(traceID[:], traceIDBytes)
	var spanID octrace.SpanID
	copy(spanID[:], spanIDBytes)
	return &Context{
		TraceID: traceID,
		SpanID:  spanID,
		Sampled: flags&0x1 == 1,
		Baggage: map[string]string{},
	}, true
}

func parseBaggage(v string) map[string]string {
	out := map[string]string{}
	if v == "" {
		return out
	}
	for _, member := range strings.Split(v, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		kv := strings.SplitN(member, ";", 2)[0] // drop baggage properties
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out
}
