package policy_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kgateway-dev/agentgatewayd/internal/policy"
)

var _ = Describe("CompressionPolicy", func() {
	It("gzips the response body when the client accepts gzip", func() {
		p := &policy.CompressionPolicy{Enable: true}
		req := &policy.Request{Header: http.Header{"Accept-Encoding": {"gzip, deflate"}}}
		resp := &policy.Response{Header: http.Header{}, Body: []byte("hello world")}

		_, err := p.ApplyResponse(context.Background(), req, resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Header.Get("Content-Encoding")).To(Equal("gzip"))

		zr, err := gzip.NewReader(bytes.NewReader(resp.Body))
		Expect(err).NotTo(HaveOccurred())
		decoded, err := io.ReadAll(zr)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(decoded)).To(Equal("hello world"))
	})

	It("leaves the body untouched when the client does not accept gzip", func() {
		p := &policy.CompressionPolicy{Enable: true}
		req := &policy.Request{Header: http.Header{}}
		resp := &policy.Response{Header: http.Header{}, Body: []byte("hello world")}

		_, err := p.ApplyResponse(context.Background(), req, resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body).To(Equal([]byte("hello world")))
		Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
	})
})

var _ = Describe("DecompressionPolicy", func() {
	It("gunzips a gzip-encoded, replayable request body", func() {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, err := gw.Write([]byte("decoded payload"))
		Expect(err).NotTo(HaveOccurred())
		Expect(gw.Close()).To(Succeed())

		buffered, _, err := policy.BufferBody(strings.NewReader(buf.String()), 1<<20)
		Expect(err).NotTo(HaveOccurred())

		p := &policy.DecompressionPolicy{Enable: true}
		req := &policy.Request{
			Header: http.Header{"Content-Encoding": {"gzip"}},
			Body:   buffered,
		}

		_, err = p.ApplyRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Header.Get("Content-Encoding")).To(BeEmpty())

		data, ok := req.Body.Bytes()
		Expect(ok).To(BeTrue())
		Expect(string(data)).To(Equal("decoded payload"))
	})
})
