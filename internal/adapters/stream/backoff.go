package stream

import "time"

// MaxBackoffAttempt acota el exponente del backoff.
const MaxBackoffAttempt = 12

// Backoff devuelve min(maxDelay, initial * 2^attempt), con attempt acotado a
// [0, MaxBackoffAttempt].
func Backoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > MaxBackoffAttempt {
		attempt = MaxBackoffAttempt
	}
	d := initial * time.Duration(1<<attempt)
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
