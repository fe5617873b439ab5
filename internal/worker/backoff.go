package worker

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"
)

// Backoff computes jittered exponential retry delays keyed off a task's
// try count.
type Backoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewBackoff builds a policy with sane defaults.
func NewBackoff() Backoff {
	return Backoff{
		baseDelay: 30 * time.Second,
		maxDelay:  30 * time.Minute,
	}
}

// Delay returns the wait duration before the next attempt. Half the
// exponential delay is fixed and half is random jitter, so retries for
// a burst of failures spread out.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// retryAfter parses a Retry-After header, which carries either a delay
// in seconds or an HTTP date. The server's value wins over computed
// backoff when present.
func retryAfter(headers http.Header, now time.Time) (time.Time, bool) {
	value := headers.Get("Retry-After")
	if value == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return now.Add(time.Duration(secs) * time.Second), true
	}
	if at, err := http.ParseTime(value); err == nil {
		return at, true
	}
	return time.Time{}, false
}
