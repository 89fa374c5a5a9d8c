package channel

import "time"

// retryPolicy decides whether another reconnect attempt may be scheduled.
// Attempts count only unexpected closes and failed opens; manual
// disconnects never touch the counter, and a successful open resets it.
type retryPolicy struct {
	interval    time.Duration
	maxAttempts int
}

// next returns the delay before the next attempt given the number of
// attempts already made, or false when the budget is exhausted. The delay
// is fixed rather than backed off; the attempt bound is the safety valve.
func (p retryPolicy) next(attempts int) (time.Duration, bool) {
	if attempts >= p.maxAttempts {
		return 0, false
	}
	return p.interval, true
}
