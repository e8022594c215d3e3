package monitor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default reconnect schedule. The first delay matches the fixed three second
// pause the browser view used before reloading.
const (
	DefaultInitialDelay = 3 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultResetAfter   = 10 * time.Second
)

// BackoffConfig controls reconnect delays
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// ResetAfter is how long a connection must stay open before the
	// schedule restarts at Initial
	ResetAfter time.Duration
}

// DefaultBackoffConfig returns the default reconnect schedule
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    DefaultInitialDelay,
		Max:        DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
		ResetAfter: DefaultResetAfter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.Initial <= 0 {
		c.Initial = def.Initial
	}
	if c.Max <= 0 {
		c.Max = def.Max
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = def.ResetAfter
	}
	return c
}

// NewBackoff builds a jitter-free exponential schedule that never gives up.
// Zero fields are filled from the defaults.
func NewBackoff(cfg BackoffConfig) *backoff.ExponentialBackOff {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.MaxInterval = cfg.Max
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
