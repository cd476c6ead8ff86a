package syncengine

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transport sends a Request to the remote side of a sync cycle and
// returns its Response. Implementations live in internal/httpclient
// (HTTP) or may be an in-process function for tests.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// TransportError carries the HTTP-ish status class a Transport observed,
// so sendWithRetry can apply the "retry on 5xx/transport, not on 4xx"
// rule without the syncengine package depending on net/http.
type TransportError struct {
	StatusCode int // 0 means a non-HTTP transport failure (e.g. connection refused)
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// retryable reports whether err should be retried: transport failures
// or 5xx are retried, 4xx never is.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if ok := asTransportError(err, &te); ok {
		if te.StatusCode == 0 {
			return true
		}
		return te.StatusCode >= 500
	}
	// Unclassified errors are retried only when their message mentions a
	// connection problem or a timeout, matching isRetryableError's
	// string-match posture for driver errors with no typed representation.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "i/o timeout")
}

func asTransportError(err error, target **TransportError) bool {
	for err != nil {
		if te, ok := err.(*TransportError); ok {
			*target = te
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// RetryConfig configures the Send step's exponential backoff: base 1s,
// factor 2, jitter +-20%, cap 60s by default.
type RetryConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	Randomization   float64
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // 0 means retry until ctx is done
}

// DefaultRetryConfig is the default backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Second,
		Multiplier:      2,
		Randomization:   0.2,
		MaxInterval:     60 * time.Second,
	}
}

func (c RetryConfig) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.Multiplier = c.Multiplier
	bo.RandomizationFactor = c.Randomization
	bo.MaxInterval = c.MaxInterval
	bo.MaxElapsedTime = c.MaxElapsedTime
	return bo
}

// sendWithRetry issues req via t, retrying transient failures under cfg's
// backoff schedule. It does not retry 4xx responses or context
// cancellation.
func sendWithRetry(ctx context.Context, t Transport, req Request, cfg RetryConfig) (*Response, error) {
	var resp *Response
	bo := cfg.newBackoff()

	operation := func() error {
		r, err := t.Send(ctx, req)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}
