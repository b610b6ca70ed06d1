// Package body implements the streaming body transform/passthrough
// engine (spec.md section 4.5): a generic pipeline that decodes a
// framed body, invokes a handler per frame, and re-encodes while
// preserving trailers and backpressure.
//
// The teacher's Rust implementation expresses this as a poll-based
// http_body::Body future (tokio_util Decoder/Encoder driven from
// poll_frame); Go's io.Reader is already pull-based — a consumer's
// Read call is the poll — so PassthroughBody and TransformBody are
// plain io.ReadClosers that only touch the inner body when their own
// Read is called, matching spec.md's "no unbounded internal queues"
// backpressure requirement without needing an explicit poll loop.
package body

import (
	"bytes"

	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("body")

// Frame is one decoded unit of a framed body: an SSE event's data
// payload, or an AWS event-stream message's payload bytes.
type Frame struct {
	Data []byte
}

// Decoder splits a byte stream into frames, mirroring the teacher's
// tokio_util::codec::Decoder trait.
type Decoder interface {
	// Decode consumes a complete frame from the front of buf, returning
	// (frame, true, nil) and advancing buf past it. It returns
	// (Frame{}, false, nil) when buf holds an incomplete frame and more
	// input is needed — never blocks and never panics on truncated input.
	Decode(buf *bytes.Buffer) (Frame, bool, error)

	// DecodeEOF flushes any decoder-internal trailing data once the
	// upstream body has ended (spec.md section 4.5's "one final
	// decode_eof pass... to flush any decoder-internal buffer").
	DecodeEOF(buf *bytes.Buffer) (Frame, bool, error)
}

// Encoder re-serializes a transformed frame into the wire framing.
type Encoder interface {
	Encode(f Frame, out *bytes.Buffer) error
}
