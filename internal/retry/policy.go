package retry

import (
	"time"

	"repin/internal/models"
)

// Policy decides whether a failed attempt is retried and after how long.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Decision is the outcome of classifying one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Minute,
		MaxDelay:   time.Hour,
	}
}

// Decide takes the number of prior failed attempts and the failure kind.
// Permanent failures never retry. Transient failures retry while the prior
// attempt count is below MaxRetries, with delay BaseDelay doubled per prior
// attempt, capped at MaxDelay. No jitter: a single runner drives the
// pipeline, and deterministic schedules keep eligibility ordering testable.
func (p Policy) Decide(priorAttempts int, kind models.FailureKind) Decision {
	if kind == models.FailurePermanent {
		return Decision{}
	}
	if priorAttempts >= p.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.backoff(priorAttempts)}
}

func (p Policy) backoff(priorAttempts int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < priorAttempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
