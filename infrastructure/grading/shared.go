// Package grading provides the peer grading engine components: the peer
// graph builder, the fairness bonus calculator, the grade aggregator and
// the rubric comparator.
package grading

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ahrav/go-peergrade/internal/ports"
)

// Common errors returned by grading components.
var (
	// ErrNilDependency is returned when a required collaborator is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrUnknownTiming is returned when a configured timing is not recognized.
	ErrUnknownTiming = errors.New("unknown timing")
)

// Metric names emitted by grading components.
const (
	MetricAggregations      = "aggregations_total"
	MetricPeerShortfall     = "peer_shortfall_total"
	MetricGradebookFailures = "gradebook_push_failures_total"
	MetricTrainingVerdicts  = "training_verdicts_total"
	MetricFinalScore        = "final_score"
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

// Option configures the ambient collaborators shared by every component.
type Option func(*ambient)

type ambient struct {
	logger  *zap.Logger
	metrics ports.MetricsCollector
	rng     *lockedRand
}

// WithLogger sets the structured logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(a *ambient) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics collector. A nil collector is ignored.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(a *ambient) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithRand sets the random source used for peer assignment. Tests pass a
// seeded source for reproducible graphs.
func WithRand(r *rand.Rand) Option {
	return func(a *ambient) {
		if r != nil {
			a.rng = &lockedRand{r: r}
		}
	}
}

// lockedRand serializes access to a *rand.Rand, which is not safe for
// concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) intN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

func newAmbient(opts []Option) ambient {
	a := ambient{
		logger:  zap.NewNop(),
		metrics: ports.NopMetrics{},
		rng:     &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))},
	}
	for _, o := range opts {
		o(&a)
	}
	return a
}
