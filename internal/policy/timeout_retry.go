package policy

import (
	"context"
	"time"
)

// TimeoutPolicy attaches the overall request deadline and per-attempt
// backend timeout to the Request (spec.md section 4.2 "Timeouts");
// RunWithRetry computes the effective per-attempt deadline from the two
// via dispatcher.EffectiveDeadline (timeout dominance,
// min(remaining_request_timeout, backend_request_timeout)).
type TimeoutPolicy struct {
	RequestTimeout        time.Duration
	BackendRequestTimeout time.Duration
}

func (p *TimeoutPolicy) PolicyName() string { return "timeout" }
func (p *TimeoutPolicy) PolicyKind() string { return "timeout" }

func (p *TimeoutPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	if p.RequestTimeout > 0 {
		req.Deadline = time.Now().Add(p.RequestTimeout)
	}
	req.BackendTimeout = p.BackendRequestTimeout
	return Result{}, nil
}

// RetryPolicyConfig attaches a RetryPolicy to the Request for the
// dispatcher to execute (spec.md section 4.2 "Retry"). Replayability is
// decided later, once the actual body size is known (spec.md section 9
// "Replayable bodies"); this policy only carries the configured
// attempt/backoff/retryable-code parameters.
type RetryPolicyConfig struct {
	Attempts       int
	RetryableCodes []int
	BackoffDelay   time.Duration
	ReplayCap      int
}

func (p *RetryPolicyConfig) PolicyName() string { return "retry" }
func (p *RetryPolicyConfig) PolicyKind() string { return "retry" }

func (p *RetryPolicyConfig) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	codes := make(map[int]bool, len(p.RetryableCodes))
	for _, c := range p.RetryableCodes {
		codes[c] = true
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	req.Retry = &RetryPolicy{
		Attempts:       attempts,
		RetryableCodes: codes,
		BackoffDelay:   p.BackoffDelay,
		ReplayCap:      p.ReplayCap,
	}
	return Result{}, nil
}
