// Package resilience wraps workflow entry points in an explicit
// rate-limiter, retry and circuit-breaker composition. The layers apply
// outermost to innermost as breaker(retry(limiter(call))): the breaker sees
// every attempt, each retry attempt re-checks the rate limiter, and
// rejections from either layer count toward the breaker's failure rate.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sentinelsec/threatmesh/internal/config"
)

var (
	// ErrRateLimited is returned when the token bucket has no capacity for
	// the call.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrCircuitOpen is returned without invoking the call while the
	// breaker is open or half-open capacity is exhausted.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// errSlowCall marks a successful call that overran the slow-call threshold
// so the breaker records it as a failure. It never reaches the caller.
var errSlowCall = errors.New("slow call")

// slowCallResult carries the real result past the breaker when the call was
// slow but succeeded.
type slowCallResult struct {
	value any
}

// Call is the unit of work a policy protects.
type Call func(ctx context.Context) (any, error)

// Policy is the per-workflow resilience pipeline.
type Policy struct {
	name    string
	cfg     config.PolicyConfig
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewPolicy builds the pipeline for one workflow type.
func NewPolicy(name string, cfg config.PolicyConfig, logger *slog.Logger) *Policy {
	p := &Policy{
		name:   name,
		cfg:    cfg,
		logger: logger.With("policy", name),
	}

	if cfg.RateLimit > 0 && cfg.RatePeriod > 0 {
		// RateLimit tokens per RatePeriod, with bursts up to the full
		// allowance.
		p.limiter = rate.NewLimiter(rate.Every(cfg.RatePeriod/time.Duration(cfg.RateLimit)), cfg.RateLimit)
	}

	// Enough consecutive failures to fill the failure share of one counting
	// window trip the breaker regardless of how much healthy history the
	// current interval accumulated.
	consecutiveLimit := uint32(math.Ceil(float64(cfg.WindowSize) * cfg.FailureRateThreshold))
	if consecutiveLimit == 0 {
		consecutiveLimit = 1
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenCalls,
		Timeout:     cfg.OpenTimeout,
		// Interval bounds the closed-state counting window so the failure
		// rate reflects recent traffic, not the process lifetime.
		Interval: cfg.BreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.WindowSize {
				return false
			}
			if counts.ConsecutiveFailures >= consecutiveLimit {
				return true
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.FailureRateThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state change",
				"from", from.String(), "to", to.String())
		},
	})

	return p
}

// Name returns the policy name.
func (p *Policy) Name() string { return p.name }

// Execute runs call through the full pipeline. Rate-limit and open-circuit
// rejections come back as ErrRateLimited and ErrCircuitOpen; invalid-input
// errors wrapped with retry.Unrecoverable skip further attempts.
func (p *Policy) Execute(ctx context.Context, call Call) (any, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.withRetry(ctx, call)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", p.name, ErrCircuitOpen)
	}
	if errors.Is(err, errSlowCall) {
		// The call itself succeeded; only the breaker treats it as a
		// failure.
		if slow, ok := out.(slowCallResult); ok {
			return slow.value, nil
		}
		return nil, nil
	}
	return out, err
}

// withRetry runs the rate-limited call with the policy's retry schedule.
func (p *Policy) withRetry(ctx context.Context, call Call) (any, error) {
	var out any
	err := retry.Do(
		func() error {
			var attemptErr error
			out, attemptErr = p.attempt(ctx, call)
			return attemptErr
		},
		retry.Attempts(p.cfg.MaxAttempts),
		retry.Delay(p.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, errSlowCall)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			p.logger.Warn("retrying call", "attempt", attempt+1, "error", err)
		}),
	)
	return out, err
}

// attempt performs one rate-limited invocation, translating a slow success
// into errSlowCall for the breaker.
func (p *Policy) attempt(ctx context.Context, call Call) (any, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return nil, retry.Unrecoverable(fmt.Errorf("%s: %w", p.name, ErrRateLimited))
	}

	start := time.Now()
	out, err := call(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return nil, err
	}
	if p.cfg.SlowCallThreshold > 0 && elapsed > p.cfg.SlowCallThreshold {
		p.logger.Warn("slow call recorded", "elapsed", elapsed)
		return slowCallResult{value: out}, errSlowCall
	}
	return out, nil
}

// State exposes the breaker state for health reporting.
func (p *Policy) State() gobreaker.State {
	return p.breaker.State()
}
