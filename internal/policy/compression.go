package policy

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
)

// CompressionPolicy gzip-encodes the response body when the client
// advertises gzip support, grounded on the teacher's compressionIR /
// handleCompression pair (internal/kgateway/extensions2/plugins/
// trafficpolicy/compression.go), generalized here from "toggle an Envoy
// compressor filter per route" to "compress the body this pipeline
// already holds in memory" since there is no Envoy filter chain behind
// this dispatcher.
type CompressionPolicy struct {
	Enable bool
}

func (p *CompressionPolicy) PolicyName() string { return "compression" }
func (p *CompressionPolicy) PolicyKind() string { return "compression" }

func (p *CompressionPolicy) ApplyResponse(_ context.Context, req *Request, resp *Response) (Result, error) {
	if !p.Enable || resp.Body == nil {
		return Result{}, nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return Result{}, nil
	}
	if !acceptsGzip(req.Header.Get("Accept-Encoding")) {
		return Result{}, nil
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(resp.Body); err != nil {
		return Result{}, fmt.Errorf("compression: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return Result{}, fmt.Errorf("compression: gzip close: %w", err)
	}

	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	resp.Body = buf.Bytes()
	resp.Header.Set("Content-Encoding", "gzip")
	resp.Header.Del("Content-Length")
	return Result{}, nil
}

func acceptsGzip(acceptEncoding string) bool {
	for _, enc := range strings.Split(acceptEncoding, ",") {
		if strings.EqualFold(strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]), "gzip") {
			return true
		}
	}
	return false
}

// DecompressionPolicy gunzips a gzip-encoded request body before the
// rest of the pipeline (and upstream dispatch) sees it, the runtime
// counterpart of the teacher's decompressionIR / handleDecompression.
// It only operates on replayable bodies; a body too large to buffer is
// passed through unchanged with its Content-Encoding left intact,
// since this pipeline has no streaming decompressor to fall back to.
type DecompressionPolicy struct {
	Enable bool
}

func (p *DecompressionPolicy) PolicyName() string { return "decompression" }
func (p *DecompressionPolicy) PolicyKind() string { return "decompression" }

func (p *DecompressionPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	if !p.Enable || !strings.EqualFold(req.Header.Get("Content-Encoding"), "gzip") {
		return Result{}, nil
	}
	data, ok := req.Body.Bytes()
	if !ok {
		return Result{}, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decompression: gzip reader: %w", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return Result{}, fmt.Errorf("decompression: gzip read: %w", err)
	}

	req.Body = &BufferedBody{data: decoded, replayable: true}
	req.Header.Del("Content-Encoding")
	req.Header.Del("Content-Length")
	return Result{}, nil
}
