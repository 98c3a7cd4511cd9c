package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy implements jittered exponential backoff for transient failures.
type retryPolicy struct {
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// transient reports whether a status code signals a failure worth retrying.
// Everything else, 404 included, is a final answer the caller interprets
// itself.
func transient(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// shouldRetry decides whether another attempt is worth making given what
// the last one produced.
func (p *retryPolicy) shouldRetry(err error, status int, attempt int) bool {
	if attempt >= p.maxRetries {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return transient(status)
}

// backoff returns the wait before the given attempt: half the capped
// exponential delay plus a random jitter of up to the other half, so
// concurrent callers do not retry in lockstep.
func (p *retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.backoffBase) * math.Pow(2, float64(attempt))
	if delay > float64(p.backoffMax) {
		delay = float64(p.backoffMax)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// retryAfter parses a Retry-After header as delay seconds. Zero when absent
// or unparsable; the HTTP-date form is not worth supporting for the APIs we
// talk to.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
