package body

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// Handler transforms one decoded frame. Returning keep=false skips the
// frame (spec.md section 4.5 "None (skip)"); a non-nil error aborts the
// body with that error.
type Handler func(Frame) (out Frame, keep bool, err error)

// TransformBody decodes frames from src, runs each through handler, and
// re-encodes the survivors (spec.md section 4.5 "Transform mode").
// Trailers are buffered until all data frames have drained, then
// surfaced via Trailer() — Go's http layer reads trailers as a
// post-body-EOF header map rather than as an in-band frame, so
// "buffered until flushed, then emitted as the final frame" becomes
// "buffered until flushed, then available from Trailer()".
type TransformBody struct {
	src     io.ReadCloser
	decoder Decoder
	encoder Encoder
	handler Handler

	in  bytes.Buffer
	out bytes.Buffer

	finished  bool // src has reached EOF
	eofPumped bool // the final decode_eof pass has run
	trailer   http.Header
}

// Transform wraps src, decoding with decoder, transforming with
// handler, and re-encoding with encoder.
func Transform(src io.ReadCloser, decoder Decoder, encoder Encoder, handler Handler) *TransformBody {
	return &TransformBody{src: src, decoder: decoder, encoder: encoder, handler: handler}
}

func (t *TransformBody) Read(p []byte) (int, error) {
	for {
		if t.out.Len() > 0 {
			return t.out.Read(p)
		}
		if t.finished {
			if !t.eofPumped {
				if err := t.pump(true); err != nil {
					return 0, err
				}
				t.eofPumped = true
				if tc, ok := t.src.(TrailerCarrier); ok {
					t.trailer = tc.Trailer()
				}
				continue
			}
			return 0, io.EOF
		}

		if err := t.pump(false); err != nil {
			return 0, err
		}
		if t.out.Len() > 0 {
			continue
		}

		buf := make([]byte, 32*1024)
		n, err := t.src.Read(buf)
		if n > 0 {
			t.in.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.finished = true
				continue
			}
			return 0, err
		}
	}
}

// pump decodes and encodes every complete frame currently buffered in
// t.in, writing encoded output to t.out.
func (t *TransformBody) pump(eof bool) error {
	for {
		var f Frame
		var ok bool
		var err error
		if eof {
			f, ok, err = t.decoder.DecodeEOF(&t.in)
		} else {
			f, ok, err = t.decoder.Decode(&t.in)
		}
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		transformed, keep, err := t.handler(f)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		if err := t.encoder.Encode(transformed, &t.out); err != nil {
			return err
		}
	}
}

func (t *TransformBody) Close() error { return t.src.Close() }

// Trailer returns the buffered trailer set, populated once Read has
// returned io.EOF.
func (t *TransformBody) Trailer() http.Header { return t.trailer }
