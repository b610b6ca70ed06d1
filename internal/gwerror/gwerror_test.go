package gwerror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindRouteNotFound, http.StatusNotFound},
		{KindAuthorizationFailed, http.StatusForbidden},
		{KindUpgradeFailed, http.StatusBadGateway},
		{KindDnsResolution, http.StatusServiceUnavailable},
		{KindRequestTimeout, http.StatusGatewayTimeout},
		{KindRateLimitExceeded, http.StatusTooManyRequests},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.Status())
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, KindUpstreamCallFailed.Retryable())
	assert.True(t, KindRequestTimeout.Retryable())
	assert.False(t, KindInvalidRequest.Retryable())
	assert.False(t, KindRateLimitExceeded.Retryable())
}

func TestStatusOfWrapped(t *testing.T) {
	base := New(KindNoHealthyEndpoints, "dispatch", errors.New("no endpoints"))
	wrapped := errors.New("outer: " + base.Error())
	assert.Equal(t, http.StatusInternalServerError, StatusOf(wrapped))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(base))
	assert.True(t, RetryableErr(base))
}
