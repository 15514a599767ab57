package core

import "time"

// RateLimitSignal captures the rate limit headers of one response.
type RateLimitSignal struct {
	// Remaining is the server's x-ratelimit-remaining value.
	Remaining int
	// RetryAfter is only meaningful on a 429 response.
	RetryAfter time.Duration
}
