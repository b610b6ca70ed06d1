package policy_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kgateway-dev/agentgatewayd/internal/policy"
)

var _ = Describe("URLRewritePolicy", func() {
	It("rewrites the request path via regex substitution", func() {
		p, err := policy.NewURLRewritePolicy(`^/v1/(.*)$`, "/v2/$1")
		Expect(err).NotTo(HaveOccurred())

		req := &policy.Request{URI: "/v1/widgets?id=1"}
		_, err = p.ApplyRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.URI).To(Equal("/v2/widgets?id=1"))
	})

	It("rejects an invalid regex at construction time", func() {
		_, err := policy.NewURLRewritePolicy(`(unterminated`, "/x")
		Expect(err).To(HaveOccurred())
	})
})
