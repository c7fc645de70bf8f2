// Package application wires the grading components into the engine that
// serves grading events, peer randomization and training evaluation, and
// loads the activity policies that configure it.
package application

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-peergrade/infrastructure/grading"
	"github.com/ahrav/go-peergrade/infrastructure/middleware"
	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// Operation names reported to the observer.
const (
	OpSubmitGrade      = "submit_grade"
	OpRecompute        = "recompute"
	OpRecomputeCohort  = "recompute_cohort"
	OpRandomizePeers   = "randomize_peers"
	OpEvaluateTraining = "evaluate_training"
)

// DefaultCohortConcurrency bounds parallel recomputes in RecomputeCohort.
const DefaultCohortConcurrency = 8

// EngineDeps are the external collaborators of an Engine. Store is
// required; Gradebook and Completion are optional.
type EngineDeps struct {
	Store      ports.GradeStore
	Gradebook  ports.Gradebook
	Completion ports.CompletionTracker
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger      *zap.Logger
	metrics     ports.MetricsCollector
	observer    middleware.OperationObserver
	rng         *rand.Rand
	concurrency int
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithMetrics sets the collector shared by every component.
func WithMetrics(m ports.MetricsCollector) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithObserver sets the operation observer.
func WithObserver(obs middleware.OperationObserver) EngineOption {
	return func(o *engineOptions) { o.observer = obs }
}

// WithRand seeds peer randomization.
func WithRand(r *rand.Rand) EngineOption {
	return func(o *engineOptions) { o.rng = r }
}

// WithCohortConcurrency bounds parallel recomputes. Values below 1 are
// ignored.
func WithCohortConcurrency(n int) EngineOption {
	return func(o *engineOptions) {
		if n >= 1 {
			o.concurrency = n
		}
	}
}

// Engine runs the grading control flow for one activity: a grading event
// upserts a grade and recomputes the subject's aggregated grades, a
// randomization replaces a scope's peer graph, and a training attempt is
// compared against the teacher's reference filling.
type Engine struct {
	activity   *Activity
	store      ports.GradeStore
	builder    *grading.PeerGraphBuilder
	aggregator *grading.GradeAggregator
	comparator *grading.RubricComparator

	observer    middleware.OperationObserver
	logger      *zap.Logger
	concurrency int
}

// NewEngine builds the grading components for activity.
func NewEngine(activity *Activity, deps EngineDeps, opts ...EngineOption) (*Engine, error) {
	if activity == nil {
		return nil, fmt.Errorf("engine: nil activity: %w", grading.ErrNilDependency)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: nil store: %w", grading.ErrNilDependency)
	}

	o := engineOptions{
		logger:      zap.NewNop(),
		observer:    middleware.NopObserver{},
		concurrency: DefaultCohortConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.observer == nil {
		o.observer = middleware.NopObserver{}
	}

	shared := []grading.Option{
		grading.WithLogger(o.logger),
		grading.WithMetrics(o.metrics),
		grading.WithRand(o.rng),
	}

	aggregator, err := grading.NewGradeAggregator(activity.Config.Grading, activity.Scale, grading.AggregatorDeps{
		Source:     deps.Store,
		Store:      deps.Store,
		Gradebook:  deps.Gradebook,
		Completion: deps.Completion,
	}, shared...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	comparator, err := grading.NewRubricComparator(activity.ComparatorConfig(), shared...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		activity:    activity,
		store:       deps.Store,
		builder:     grading.NewPeerGraphBuilder(shared...),
		aggregator:  aggregator,
		comparator:  comparator,
		observer:    o.observer,
		logger:      o.logger,
		concurrency: o.concurrency,
	}, nil
}

// Activity returns the policy the engine runs.
func (e *Engine) Activity() *Activity { return e.activity }

// SubmitGrade records a grading event and recomputes the subject's
// aggregated grades for every configured timing. Training submissions are
// stored but never aggregated, so they return no records.
func (e *Engine) SubmitGrade(ctx context.Context, sub domain.Submission) (records []domain.AggregatedGrade, err error) {
	ctx, done := e.observer.Observe(ctx, OpSubmitGrade,
		attribute.String("area", sub.Area.String()),
		attribute.String("subject", string(sub.Subject)),
	)
	defer func() { done(err) }()

	if _, err := e.store.UpsertGrade(ctx, sub); err != nil {
		return nil, fmt.Errorf("submit grade: %w", err)
	}
	if sub.Area.RaterType == domain.RaterTraining {
		return nil, nil
	}
	return e.aggregator.Aggregate(ctx, sub.Subject, sub.Area.RaterType)
}

// SubmitRubricGrade scores filling against the activity rubric and submits
// the result as sub's score. An incomplete filling submits an ungraded
// slot, which aggregation treats as missing.
//
// Returns an error wrapping domain.ErrContractViolation when the activity
// has no rubric.
func (e *Engine) SubmitRubricGrade(ctx context.Context, sub domain.Submission, filling domain.RubricFilling) ([]domain.AggregatedGrade, error) {
	rubric := e.activity.Config.Training.Rubric
	if rubric == nil {
		return nil, fmt.Errorf("%w: activity %q has no rubric", domain.ErrContractViolation, e.activity.Name())
	}
	sub.Score = rubric.Score(filling).Rounded()
	return e.SubmitGrade(ctx, sub)
}

// Recompute re-aggregates student for every configured timing. Both
// bonuses are recomputed.
func (e *Engine) Recompute(ctx context.Context, student domain.ParticipantID) (records []domain.AggregatedGrade, err error) {
	ctx, done := e.observer.Observe(ctx, OpRecompute, attribute.String("student", string(student)))
	defer func() { done(err) }()

	return e.aggregator.Aggregate(ctx, student, domain.RaterTeacher)
}

// RecomputeCohort recomputes every student with bounded concurrency. Each
// student is independent, so the results equal a sequential pass. The
// first failure cancels the remaining recomputes.
func (e *Engine) RecomputeCohort(ctx context.Context, students []domain.ParticipantID) (out map[domain.ParticipantID][]domain.AggregatedGrade, err error) {
	ctx, done := e.observer.Observe(ctx, OpRecomputeCohort, attribute.Int("students", len(students)))
	defer func() { done(err) }()

	results := make([][]domain.AggregatedGrade, len(students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, student := range students {
		g.Go(func() error {
			recs, err := e.aggregator.Aggregate(gctx, student, domain.RaterTeacher)
			if err != nil {
				return fmt.Errorf("recompute %s: %w", student, err)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out = make(map[domain.ParticipantID][]domain.AggregatedGrade, len(students))
	for i, student := range students {
		out[student] = results[i]
	}
	e.logger.Info("cohort recomputed",
		zap.String("activity", e.activity.Name()),
		zap.Int("students", len(out)))
	return out, nil
}

// RandomizePeers builds a fresh peer graph over the state's students and
// atomically replaces the scope's stored graph. Grades tied to dropped
// edges are deleted by the store and every reviewee that lost one is
// re-aggregated. The returned state carries the new graph; state itself
// is unchanged.
func (e *Engine) RandomizePeers(ctx context.Context, state domain.AssignmentState) (next domain.AssignmentState, err error) {
	ctx, done := e.observer.Observe(ctx, OpRandomizePeers,
		attribute.String("scope", state.Scope()),
		attribute.Int("students", len(state.Students())),
	)
	defer func() { done(err) }()

	graph, err := e.builder.Build(state.Students(), e.activity.Config.Peers)
	if err != nil {
		return state, err
	}
	prev, err := e.store.FetchPeerGraph(ctx, state.Scope())
	if err != nil {
		return state, fmt.Errorf("randomize peers: %w", err)
	}
	if err := e.store.UpsertPeerGraph(ctx, state.Scope(), graph); err != nil {
		return state, fmt.Errorf("randomize peers: %w", err)
	}

	// Revoked edges lose their peer grades, so their reviewees are stale.
	revoked := make(map[domain.ParticipantID]struct{})
	for _, edge := range domain.RemovedEdges(prev, graph) {
		if _, done := revoked[edge.Reviewee]; done {
			continue
		}
		revoked[edge.Reviewee] = struct{}{}
		if _, err := e.aggregator.Aggregate(ctx, edge.Reviewee, domain.RaterPeer); err != nil {
			return state.WithGraph(graph), fmt.Errorf("recompute %s after revocation: %w", edge.Reviewee, err)
		}
	}
	if len(revoked) > 0 {
		e.logger.Info("peer edges revoked",
			zap.String("scope", state.Scope()),
			zap.Int("reviewees_recomputed", len(revoked)))
	}
	return state.WithGraph(graph), nil
}

// LoadAssignment returns the stored assignment state for scope.
func (e *Engine) LoadAssignment(ctx context.Context, scope string, students []domain.ParticipantID) (domain.AssignmentState, error) {
	graph, err := e.store.FetchPeerGraph(ctx, scope)
	if err != nil {
		return domain.AssignmentState{}, err
	}
	return domain.NewAssignmentState(scope, students).WithGraph(graph), nil
}

// EvaluateTraining compares the attempt's filling against the teacher's
// reference filling, showing prior attempts alongside.
//
// Returns an error wrapping domain.ErrContractViolation when the activity
// has no training rubric.
func (e *Engine) EvaluateTraining(ctx context.Context, attempt domain.TrainingAttempt) (verdict domain.TrainingVerdict, err error) {
	ctx, done := e.observer.Observe(ctx, OpEvaluateTraining, attribute.String("attempt", attempt.Ref))
	defer func() { done(err) }()

	rubric := e.activity.Config.Training.Rubric
	if rubric == nil {
		return domain.TrainingVerdict{}, fmt.Errorf("%w: activity %q has no training rubric",
			domain.ErrContractViolation, e.activity.Name())
	}

	trainee, err := e.store.FetchRubricFilling(ctx, attempt.Ref)
	if err != nil {
		return domain.TrainingVerdict{}, fmt.Errorf("fetch trainee filling: %w", err)
	}
	teacher, err := e.store.FetchRubricFilling(ctx, attempt.TeacherRef)
	if err != nil {
		return domain.TrainingVerdict{}, fmt.Errorf("fetch teacher filling: %w", err)
	}
	history := make([]domain.RubricFilling, 0, len(attempt.HistoryRefs))
	for _, ref := range attempt.HistoryRefs {
		f, err := e.store.FetchRubricFilling(ctx, ref)
		if err != nil {
			return domain.TrainingVerdict{}, fmt.Errorf("fetch historic filling %s: %w", ref, err)
		}
		history = append(history, f)
	}

	return e.comparator.Compare(rubric, trainee, teacher, history...)
}
