package policy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/kgateway-dev/agentgatewayd/internal/dispatcher"
	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
)

// BufferedBody is the concrete ReplayableBody: bytes buffered up to a
// cap at ingest time. Above the cap, Bytes reports !ok and the retry
// executor skips retrying entirely (spec.md section 4.2 "Request body
// must be replayable: bodies above a configured cap are marked
// non-replayable and retry is skipped").
type BufferedBody struct {
	data       []byte
	replayable bool
}

// BufferBody reads src up to cap+1 bytes, returning a BufferedBody and
// the (possibly already-consumed) remainder as a new io.Reader for the
// caller to use for this attempt.
func BufferBody(src io.Reader, cap int) (*BufferedBody, io.Reader, error) {
	limited := io.LimitReader(src, int64(cap)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, err
	}
	if len(data) > cap {
		// Non-replayable: stitch the already-read prefix back onto
		// whatever remains of src so the first attempt still sees the
		// full body.
		return &BufferedBody{replayable: false}, io.MultiReader(bytes.NewReader(data), src), nil
	}
	return &BufferedBody{data: data, replayable: true}, bytes.NewReader(data), nil
}

func (b *BufferedBody) Bytes() ([]byte, bool) {
	if b == nil || !b.replayable {
		return nil, false
	}
	return b.data, true
}

func (b *BufferedBody) Replayable() bool { return b != nil && b.replayable }

// RunWithRetry executes one upstream attempt via d, retrying per
// req.Retry's configuration (spec.md section 4.2 "Retry"). Attempts
// consume req.Deadline; once it elapses the last error is returned
// (spec.md: "Retries consume the per-request deadline; once the
// deadline elapses the last error is returned"). Grounded on
// github.com/avast/retry-go/v4 (teacher direct dependency) for the
// attempt/backoff loop shape.
func RunWithRetry(ctx context.Context, d *dispatcher.Dispatcher, req *Request, build func() (*http.Request, error)) (*http.Response, error) {
	attempts := uint(1)
	var retryable map[int]bool
	var backoff time.Duration
	replayable := true
	if req.Retry != nil {
		attempts = uint(req.Retry.Attempts)
		if attempts == 0 {
			// retry-go treats Attempts(0) as unbounded; spec.md's
			// "Attempts count >= 1" invariant means zero/unset is one
			// attempt, not infinite retries.
			attempts = 1
		}
		retryable = req.Retry.RetryableCodes
		backoff = req.Retry.BackoffDelay
		replayable = req.Body == nil || req.Body.Replayable()
		if !replayable {
			attempts = 1
		}
	}

	var lastResp *http.Response
	err := retrygo.Do(
		func() error {
			httpReq, err := build()
			if err != nil {
				return retrygo.Unrecoverable(err)
			}
			attemptCtx := ctx
			if !req.Deadline.IsZero() {
				deadline := dispatcher.EffectiveDeadline(time.Now(), req.Deadline, req.BackendTimeout)
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithDeadline(ctx, deadline)
				defer cancel()
			}

			resp, err := d.Attempt(attemptCtx, req.Backend, httpReq)
			if err != nil {
				if !gwerror.RetryableErr(err) {
					return retrygo.Unrecoverable(err)
				}
				return err
			}
			if retryable[resp.StatusCode] {
				lastResp = resp
				return gwerror.New(gwerror.KindUpstreamCallFailed, "retry.RunWithRetry", errStatusRetryable(resp.StatusCode))
			}
			lastResp = resp
			return nil
		},
		retrygo.Attempts(attempts),
		retrygo.DelayType(func(n uint, err error, cfg *retrygo.Config) time.Duration { return backoff }),
		retrygo.LastErrorOnly(true),
		retrygo.Context(ctx),
	)
	if err != nil && lastResp == nil {
		return nil, err
	}
	return lastResp, nil
}

type retryableStatusError int

func errStatusRetryable(code int) error { return retryableStatusError(code) }

func (e retryableStatusError) Error() string { return "retryable status code" }
