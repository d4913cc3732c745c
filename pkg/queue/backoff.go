package queue

import "time"

// Backoff returns the delay before retry number attempt (1-based):
// min(base * 2^(attempt-1), max). The doubling stops as soon as max is reached,
// so large attempt counts cannot overflow.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 || max <= 0 {
		return 0
	}
	if base >= max {
		return max
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > max/2 {
			return max
		}
		delay *= 2
	}
	return delay
}
