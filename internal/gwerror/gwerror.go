// Package gwerror defines the gateway's error taxonomy and its mapping
// to client-facing HTTP status codes, per spec.md section 7.
package gwerror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a category of failure the pipeline can produce.
type Kind int

const (
	// KindUnknown is never produced directly; it's the zero value guard.
	KindUnknown Kind = iota
	KindBindNotFound
	KindListenerNotFound
	KindRouteNotFound
	KindInvalidRequest
	KindJwtAuthenticationFailure
	KindAuthorizationFailed
	KindNoValidBackends
	KindBackendDoesNotExist
	KindBackendUnsupportedMirror
	KindServiceNotFound
	KindBackendAuthenticationFailed
	KindFilterError
	KindUpgradeFailed
	KindDnsResolution
	KindNoHealthyEndpoints
	KindUpstreamCallFailed
	KindProcessing
	KindRequestTimeout
	KindRateLimitExceeded
	KindRateLimitFailed
)

var statusByKind = map[Kind]int{
	KindBindNotFound:                http.StatusNotFound,
	KindListenerNotFound:            http.StatusNotFound,
	KindRouteNotFound:               http.StatusNotFound,
	KindInvalidRequest:              http.StatusBadRequest,
	KindJwtAuthenticationFailure:    http.StatusForbidden,
	KindAuthorizationFailed:         http.StatusForbidden,
	KindNoValidBackends:             http.StatusInternalServerError,
	KindBackendDoesNotExist:         http.StatusInternalServerError,
	KindBackendUnsupportedMirror:    http.StatusInternalServerError,
	KindServiceNotFound:             http.StatusInternalServerError,
	KindBackendAuthenticationFailed: http.StatusInternalServerError,
	KindFilterError:                 http.StatusInternalServerError,
	KindUpgradeFailed:               http.StatusBadGateway,
	KindDnsResolution:               http.StatusServiceUnavailable,
	KindNoHealthyEndpoints:          http.StatusServiceUnavailable,
	KindUpstreamCallFailed:          http.StatusServiceUnavailable,
	KindProcessing:                  http.StatusServiceUnavailable,
	KindRequestTimeout:              http.StatusGatewayTimeout,
	KindRateLimitExceeded:           http.StatusTooManyRequests,
	KindRateLimitFailed:             http.StatusTooManyRequests,
}

var retryableKinds = map[Kind]bool{
	KindDnsResolution:      true,
	KindNoHealthyEndpoints: true,
	KindUpstreamCallFailed: true,
	KindProcessing:         true,
	KindRequestTimeout:     true,
}

// Error is a typed gateway error carrying the Kind used to pick an HTTP
// status and a retry decision.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status this error kind maps to.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a request failing with this kind of error is
// eligible for a retry attempt per spec.md's error taxonomy table.
func (k Kind) Retryable() bool {
	return retryableKinds[k]
}

func (k Kind) String() string {
	switch k {
	case KindBindNotFound:
		return "BindNotFound"
	case KindListenerNotFound:
		return "ListenerNotFound"
	case KindRouteNotFound:
		return "RouteNotFound"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindJwtAuthenticationFailure:
		return "JwtAuthenticationFailure"
	case KindAuthorizationFailed:
		return "AuthorizationFailed"
	case KindNoValidBackends:
		return "NoValidBackends"
	case KindBackendDoesNotExist:
		return "BackendDoesNotExist"
	case KindBackendUnsupportedMirror:
		return "BackendUnsupportedMirror"
	case KindServiceNotFound:
		return "ServiceNotFound"
	case KindBackendAuthenticationFailed:
		return "BackendAuthenticationFailed"
	case KindFilterError:
		return "FilterError"
	case KindUpgradeFailed:
		return "UpgradeFailed"
	case KindDnsResolution:
		return "DnsResolution"
	case KindNoHealthyEndpoints:
		return "NoHealthyEndpoints"
	case KindUpstreamCallFailed:
		return "UpstreamCallFailed"
	case KindProcessing:
		return "Processing"
	case KindRequestTimeout:
		return "RequestTimeout"
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindRateLimitFailed:
		return "RateLimitFailed"
	default:
		return "Unknown"
	}
}

// StatusOf walks err's Unwrap chain looking for a *Error and returns its
// status, defaulting to 500 for untyped errors.
func StatusOf(err error) int {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind.Status()
	}
	return http.StatusInternalServerError
}

// RetryableErr reports whether err (or anything it wraps) is a retryable
// gateway error.
func RetryableErr(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind.Retryable()
	}
	return false
}
