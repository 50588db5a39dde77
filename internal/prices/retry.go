package prices

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const maxRetryDelay = 5 * time.Second

// errMalformed marks a reply body that did not decode. Asking again returns
// the same body, so it is not retried.
var errMalformed = errors.New("malformed price response")

// statusError is a non-200 reply from the price service.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// retryable reports whether another attempt at a failed lookup may succeed.
// Transport failures, 5xx and 429 replies qualify. Other replies, malformed
// bodies and an ended context do not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errMalformed) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.code >= http.StatusInternalServerError || status.code == http.StatusTooManyRequests
	}
	return true
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or
// has been retried maxRetries times. The delay doubles after each attempt.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !retryable(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}
