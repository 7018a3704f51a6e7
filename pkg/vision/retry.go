package vision

import "time"

// ErrorClass partitions call failures for retry decisions.
type ErrorClass int

// Failure classes, from the caller's point of view.
const (
	ClassFatal       ErrorClass = iota // surface immediately, no retry
	ClassRateLimited                   // 429: exponential backoff
	ClassServerError                   // 5xx: flat short delay
)

// String names the class for logs.
func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassServerError:
		return "server_error"
	default:
		return "fatal"
	}
}

// RetryPolicy is a value describing how transient call failures are retried:
// a bounded attempt count and a per-class delay schedule. Exhaustion surfaces
// the last error to the caller.
type RetryPolicy struct {
	MaxAttempts      int
	RateLimitBase    time.Duration // doubled per attempt: base, 2*base, ...
	ServerErrorDelay time.Duration // flat delay for 5xx-class failures
}

// DefaultRetryPolicy bounds a call at three attempts, with 2s/4s rate-limit
// waits and a flat 5s wait on server errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		RateLimitBase:    2 * time.Second,
		ServerErrorDelay: 5 * time.Second,
	}
}

// Delay returns the wait before the next attempt. attempt is 1-based; fatal
// classes wait nothing.
func (p RetryPolicy) Delay(class ErrorClass, attempt int) time.Duration {
	switch class {
	case ClassRateLimited:
		return p.RateLimitBase << (attempt - 1)
	case ClassServerError:
		return p.ServerErrorDelay
	default:
		return 0
	}
}

// Attempt is the recorded outcome of one call attempt, handed to OnRetry
// before the client waits out the delay.
type Attempt struct {
	Number int // 1-based
	Class  ErrorClass
	Delay  time.Duration
	Err    error
}
