// Package backoff retries an operation with exponential delays.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy shapes the retry schedule.
type Policy struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	// Jitter randomizes each delay to avoid synchronized retries.
	Jitter bool `yaml:"jitter"`
}

// DefaultPolicy suits short startup probes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs op until it succeeds, the attempts are exhausted, or ctx
// is done. retryable decides whether a failure is worth another
// attempt; nil means every failure is. The last error is returned.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	delay := p.InitialDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts {
			return err
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		wait := delay
		if p.Jitter {
			wait += time.Duration(rand.Int63n(int64(delay)/2 + 1))
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
