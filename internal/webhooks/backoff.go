package webhooks

import (
	"math"
	"math/rand"
	"time"
)

// maxJitter keeps consecutive delays non-decreasing: with jitter j the
// worst case is base*2^(n-1)*(1-j) >= base*2^(n-2)*(1+j), i.e. j <= 1/3.
const maxJitter = 1.0 / 3

// Backoff computes retry delays: min(base*2^(n-1)*(1±jitter), max).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Jitter      float64
	Rand        func() float64 // [0,1); nil uses math/rand/v2
}

// Delay returns the wait after failed attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if j := min(max(b.Jitter, 0), maxJitter); j > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		d *= 1 + j*(2*r()-1)
	}
	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt n was the last one allowed.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
