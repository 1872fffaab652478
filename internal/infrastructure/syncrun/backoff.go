package syncrun

import (
	"math/rand"
	"time"
)

// ---------------------------------------------------------------------------
// ExponentialBackoff
// ---------------------------------------------------------------------------

// ExponentialBackoff computes retry delays: base * 2^(attempt-1), capped,
// with +/-50% jitter so tenant retries spread out instead of thundering.
type ExponentialBackoff struct {
	// Base is the delay before the second attempt
	Base time.Duration
	// Cap is the maximum delay regardless of attempt number
	Cap time.Duration
	// Attempts is the total attempt ceiling
	Attempts int
}

// DefaultBackoff returns the default retry schedule
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Base:     2 * time.Second,
		Cap:      5 * time.Minute,
		Attempts: 5,
	}
}

// NextDelay returns the delay before attempt k+1, given k completed attempts
func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			delay = b.Cap
			break
		}
	}
	if delay > b.Cap {
		delay = b.Cap
	}
	// Jitter in [0.5, 1.5) of the computed delay.
	jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
	if jittered > b.Cap {
		jittered = b.Cap
	}
	return jittered
}

// MaxAttempts is the attempt ceiling before failing permanently
func (b ExponentialBackoff) MaxAttempts() int {
	return b.Attempts
}
