package transcriber

import "time"

// Backoff bounds reconnection: attempt n waits Initial*2^(n-1), capped at Max,
// and MaxAttempts failures end the session.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff yields 1s, 2s, 4s, 8s, 10s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 10 * time.Second, MaxAttempts: 5}
}

func normalizeBackoff(b Backoff) Backoff {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = def.MaxAttempts
	}
	return b
}

// Delay is the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}
