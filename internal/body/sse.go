package body

import (
	"bytes"
	"fmt"
)

// DoneSentinel is the SSE `[DONE]` marker spec.md section 4.5 requires
// be "passed through unchanged" rather than handed to a JSON-decoding
// handler.
const DoneSentinel = "[DONE]"

// IsDone reports whether f is the SSE `data: [DONE]` sentinel event.
func IsDone(f Frame) bool {
	return bytes.Equal(bytes.TrimSpace(f.Data), []byte(DoneSentinel))
}

// DoneFrame returns the sentinel frame, used by handlers that must pass
// it through unchanged (spec.md scenario S6).
func DoneFrame() Frame { return Frame{Data: []byte(DoneSentinel)} }

// SSEDecoder decodes `data:`-delimited UTF-8 server-sent events
// (spec.md section 4.5). Only the `data:` field is extracted; multiple
// data lines within one event are joined with "\n", matching the SSE
// spec's field-concatenation rule.
type SSEDecoder struct {
	// MaxEventSize bounds one event's accumulated data field; 0 means
	// unbounded. The teacher caps this at 2MiB (tokio_sse_codec
	// with_max_size(2_097_152)).
	MaxEventSize int
}

// NewSSEDecoder builds a decoder capped at maxSize bytes per event.
func NewSSEDecoder(maxSize int) *SSEDecoder { return &SSEDecoder{MaxEventSize: maxSize} }

func (d *SSEDecoder) Decode(buf *bytes.Buffer) (Frame, bool, error) {
	return d.decode(buf, false)
}

func (d *SSEDecoder) DecodeEOF(buf *bytes.Buffer) (Frame, bool, error) {
	return d.decode(buf, true)
}

func (d *SSEDecoder) decode(buf *bytes.Buffer, eof bool) (Frame, bool, error) {
	b := buf.Bytes()
	var eventBytes []byte
	var consumed int

	if idx := bytes.Index(b, []byte("\n\n")); idx >= 0 {
		eventBytes = b[:idx]
		consumed = idx + 2
	} else if eof && len(b) > 0 {
		eventBytes = b
		consumed = len(b)
	} else {
		return Frame{}, false, nil
	}

	var data bytes.Buffer
	for _, line := range bytes.Split(eventBytes, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		val := bytes.TrimPrefix(line, []byte("data:"))
		val = bytes.TrimPrefix(val, []byte(" "))
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.Write(val)
	}
	buf.Next(consumed)

	if d.MaxEventSize > 0 && data.Len() > d.MaxEventSize {
		return Frame{}, false, fmt.Errorf("sse event exceeds max size %d bytes", d.MaxEventSize)
	}
	if data.Len() == 0 && len(eventBytes) == 0 {
		// a bare blank-line keepalive; nothing to report, try again.
		return d.decode(buf, eof)
	}
	return Frame{Data: data.Bytes()}, true, nil
}

// SSEEncoder re-serializes a Frame as a single-field `data:` SSE event.
type SSEEncoder struct{}

func (SSEEncoder) Encode(f Frame, out *bytes.Buffer) error {
	for _, line := range bytes.Split(f.Data, []byte("\n")) {
		out.WriteString("data: ")
		out.Write(line)
		out.WriteByte('\n')
	}
	out.WriteByte('\n')
	return nil
}
