package body

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// Observer receives one decoded frame. Observer errors never terminate
// the body (spec.md section 4.5 "Observer errors do not terminate the
// body") — callers that need to react to a malformed frame log and move
// on; Observer itself has no error return to make that contract
// impossible to violate by construction.
type Observer func(Frame)

// TrailerCarrier is implemented by a body whose trailers are only known
// once Read has returned io.EOF — the same contract net/http.Response
// uses for chunked trailers.
type TrailerCarrier interface {
	Trailer() http.Header
}

// PassthroughBody forwards the original bytes of src untouched while
// delivering each decoded frame to observe as a side effect (spec.md
// section 4.5 "Passthrough mode"). Trailers are forwarded as-is once
// src reaches EOF.
type PassthroughBody struct {
	src     io.ReadCloser
	decoder Decoder
	observe Observer
	scratch bytes.Buffer
	done    bool
}

// Passthrough wraps src, decoding with decoder purely for observation.
func Passthrough(src io.ReadCloser, decoder Decoder, observe Observer) *PassthroughBody {
	return &PassthroughBody{src: src, decoder: decoder, observe: observe}
}

func (p *PassthroughBody) Read(out []byte) (int, error) {
	if p.done {
		return 0, io.EOF
	}
	n, err := p.src.Read(out)
	if n > 0 {
		p.scratch.Write(out[:n])
		p.drain(false)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.drain(true)
			p.done = true
		}
		return n, err
	}
	return n, nil
}

func (p *PassthroughBody) drain(eof bool) {
	for {
		var f Frame
		var ok bool
		var err error
		if eof {
			f, ok, err = p.decoder.DecodeEOF(&p.scratch)
		} else {
			f, ok, err = p.decoder.Decode(&p.scratch)
		}
		if err != nil {
			logger.Debug("passthrough decode error, dropping rest of frame observation", "error", err)
			return
		}
		if !ok {
			return
		}
		if p.observe != nil {
			p.observe(f)
		}
	}
}

func (p *PassthroughBody) Close() error { return p.src.Close() }

// Trailer returns src's trailers, valid once Read has returned io.EOF.
func (p *PassthroughBody) Trailer() http.Header {
	if tc, ok := p.src.(TrailerCarrier); ok {
		return tc.Trailer()
	}
	return nil
}
