// Package backoff computes jittered exponential delay sequences shared by
// node retry policies and connection pool reconnects. The circuit breaker
// does not use it.
package backoff

import (
	"math/rand"
	"time"
)

// Config parameterizes a delay sequence. Delay for attempt n >= 1 is
// clamp(initial * multiplier^(n-1), 0, max) * (1 + uniform(-jitter,
// +jitter)); attempt 0 has zero delay.
type Config struct {
	Initial      time.Duration
	Max          time.Duration
	Multiplier   float64
	JitterFactor float64
}

// Delay returns the backoff delay before attempt n (1-indexed; n=0 means no
// delay), using rng for jitter. A nil rng falls back to a time-seeded
// source, which is fine for production use but makes tests that want
// determinism pass their own rng.
func Delay(cfg Config, n int, rng *rand.Rand) time.Duration {
	if n <= 0 {
		return 0
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	d := float64(cfg.Initial) * pow(multiplier, n-1)
	if cfg.Max > 0 && d > float64(cfg.Max) {
		d = float64(cfg.Max)
	}
	if d < 0 {
		d = 0
	}

	if cfg.JitterFactor > 0 {
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- jitter timing only
		}
		jitter := (rng.Float64()*2 - 1) * cfg.JitterFactor
		d = d * (1 + jitter)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
