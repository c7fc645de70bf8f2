// Package gradebook delivers aggregated scores to an external grade-book
// ledger through a configurable middleware chain.
//
// Example usage:
//
//	gb := gradebook.Wrap(ledger,
//	    gradebook.TracingMiddleware(nil),
//	    gradebook.MetricsMiddleware(metricsCollector),
//	    gradebook.RateLimitMiddleware(20, 40),
//	    gradebook.RetryMiddleware(3, 100*time.Millisecond, 2*time.Second),
//	    gradebook.CircuitBreakerMiddleware(5, 30*time.Second),
//	    gradebook.TimeoutMiddleware(5*time.Second),
//	)
//
// The first middleware listed is the outermost.
package gradebook

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// Middleware wraps a Gradebook to add cross-cutting functionality.
type Middleware func(ports.Gradebook) ports.Gradebook

// Func adapts a plain function to the Gradebook interface.
type Func func(ctx context.Context, student domain.ParticipantID, rawScore float64) error

// PushGradebookScore calls f.
func (f Func) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	return f(ctx, student, rawScore)
}

// Wrap applies middleware to base so that middleware[0] runs first.
func Wrap(base ports.Gradebook, middleware ...Middleware) ports.Gradebook {
	gb := base
	for i := len(middleware) - 1; i >= 0; i-- {
		gb = middleware[i](gb)
	}
	return gb
}

// Config controls the standard middleware chain built by New.
type Config struct {
	// RatePerSecond limits pushes per second. Zero disables rate limiting.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" validate:"gte=0"`

	// Burst is the token bucket size. Defaults to 1 when rate limiting.
	Burst int `yaml:"burst" json:"burst" validate:"gte=0"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`

	// BaseDelay is the first retry delay; later delays double.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// MaxDelay caps a single retry delay.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// BreakerFailures opens the circuit after this many consecutive
	// failures. Zero disables the breaker.
	BreakerFailures int `yaml:"breaker_failures" json:"breaker_failures" validate:"gte=0"`

	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`

	// Timeout bounds a single push attempt. Zero disables it.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:   20,
		Burst:           40,
		MaxRetries:      3,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		Timeout:         5 * time.Second,
	}
}

// New wraps ledger with the standard chain: tracing, metrics, rate limit,
// retry, circuit breaker and per-attempt timeout.
func New(ledger ports.Gradebook, cfg Config, metrics ports.MetricsCollector) (ports.Gradebook, error) {
	if ledger == nil {
		return nil, fmt.Errorf("gradebook: nil ledger")
	}
	if cfg.MaxRetries < 0 || cfg.RatePerSecond < 0 || cfg.Burst < 0 || cfg.BreakerFailures < 0 {
		return nil, fmt.Errorf("gradebook: %w: negative limit", domain.ErrInvalidConfiguration)
	}

	chain := []Middleware{TracingMiddleware(nil)}
	if metrics != nil {
		chain = append(chain, MetricsMiddleware(metrics))
	}
	if cfg.RatePerSecond > 0 {
		burst := max(cfg.Burst, 1)
		chain = append(chain, RateLimitMiddleware(rate.Limit(cfg.RatePerSecond), burst))
	}
	if cfg.MaxRetries > 0 {
		chain = append(chain, RetryMiddleware(cfg.MaxRetries, cfg.BaseDelay, cfg.MaxDelay))
	}
	if cfg.BreakerFailures > 0 {
		chain = append(chain, CircuitBreakerMiddleware(cfg.BreakerFailures, cfg.BreakerCooldown))
	}
	if cfg.Timeout > 0 {
		chain = append(chain, TimeoutMiddleware(cfg.Timeout))
	}
	return Wrap(ledger, chain...), nil
}
