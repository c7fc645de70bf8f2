package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// AggregatorConfig is the grading policy of one activity.
type AggregatorConfig struct {
	// Timings lists the assessment phases aggregated on every recompute.
	Timings []domain.Timing `yaml:"timings" json:"timings" validate:"required,min=1,dive,oneof=before after"`

	// Weights maps each aggregated rater type to its percentage weight.
	// Missing rater types weigh zero. Weights need not sum to 100.
	Weights map[domain.RaterType]float64 `yaml:"weights" json:"weights" validate:"required,dive,keys,oneof=teacher self peer class,endkeys,gte=0"`

	// FairnessBonus enables the peer fairness bonus.
	FairnessBonus bool `yaml:"fairness_bonus" json:"fairness_bonus"`

	// SelfFairnessBonus enables the self fairness bonus.
	SelfFairnessBonus bool `yaml:"self_fairness_bonus" json:"self_fairness_bonus"`

	// BonusMaxPercent caps a bonus as a percentage of TotalPossiblePoints.
	BonusMaxPercent float64 `yaml:"bonus_max_percent" json:"bonus_max_percent" validate:"gte=0,lte=100"`

	// TotalPossiblePoints is the activity's maximum grade.
	TotalPossiblePoints float64 `yaml:"total_possible_points" json:"total_possible_points" validate:"gt=0"`

	// Completion controls activity completion tracking.
	Completion CompletionConfig `yaml:"completion" json:"completion"`
}

// CompletionConfig controls when a student's activity is marked complete.
type CompletionConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	PassThreshold float64 `yaml:"pass_threshold" json:"pass_threshold" validate:"gte=0,lte=100"`
}

// DefaultAggregatorConfig returns a teacher-only policy with bonuses
// disabled.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Timings: []domain.Timing{domain.TimingBefore, domain.TimingAfter},
		Weights: map[domain.RaterType]float64{
			domain.RaterTeacher: 100,
			domain.RaterSelf:    0,
			domain.RaterPeer:    0,
			domain.RaterClass:   0,
		},
		BonusMaxPercent:     10,
		TotalPossiblePoints: 100,
	}
}

// Validate checks the configuration against its struct tags.
func (c AggregatorConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("aggregator configuration validation failed: %w", err)
	}
	return nil
}

// WeightSum returns the sum of the aggregated rater type weights.
func (c AggregatorConfig) WeightSum() float64 {
	var sum float64
	for _, rt := range domain.AggregatedRaterTypes {
		sum += c.Weights[rt]
	}
	return sum
}

// AggregatorDeps are the external collaborators of a GradeAggregator.
// Source and Store are required; Gradebook and Completion are optional.
type AggregatorDeps struct {
	Source     ports.GradeSource
	Store      ports.AggregateStore
	Gradebook  ports.Gradebook
	Completion ports.CompletionTracker
}

// GradeAggregator recomputes AggregatedGrade records from raw grades.
//
// A recompute reads every grade for one (student, timing), averages graded
// scores per rater type, blends the composites with the configured weights
// and applies fairness bonuses. Ungraded composites contribute zero to the
// weighted sum while their weight stays in the denominator. A zero weight
// sum leaves the weighted total and final score ungraded.
//
// Bonuses are only recomputed when the triggering rater type can move them:
// peer or teacher for the fairness bonus, self or teacher for the self
// bonus. Otherwise the previously stored value is kept.
//
// Composites, the weighted total and bonuses are rounded half away from
// zero when stored. The weighted total is computed from unrounded
// composites.
type GradeAggregator struct {
	ambient
	cfg   AggregatorConfig
	bonus *FairnessBonusCalculator
	deps  AggregatorDeps
}

// NewGradeAggregator creates an aggregator for one activity policy.
func NewGradeAggregator(cfg AggregatorConfig, scale domain.BonusScale, deps AggregatorDeps, opts ...Option) (*GradeAggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Store == nil {
		return nil, fmt.Errorf("grade aggregator: %w", ErrNilDependency)
	}
	return &GradeAggregator{
		ambient: newAmbient(opts),
		cfg:     cfg,
		bonus:   NewFairnessBonusCalculator(scale),
		deps:    deps,
	}, nil
}

// Config returns the aggregator's policy.
func (a *GradeAggregator) Config() AggregatorConfig { return a.cfg }

// Aggregate recomputes and persists the record of every configured timing
// for student. trigger is the rater type of the submission that caused the
// recompute.
func (a *GradeAggregator) Aggregate(ctx context.Context, student domain.ParticipantID, trigger domain.RaterType) ([]domain.AggregatedGrade, error) {
	records := make([]domain.AggregatedGrade, 0, len(a.cfg.Timings))
	for _, timing := range a.cfg.Timings {
		rec, err := a.AggregateTiming(ctx, student, timing, trigger)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// AggregateTiming recomputes and persists the record for (student, timing).
func (a *GradeAggregator) AggregateTiming(ctx context.Context, student domain.ParticipantID, timing domain.Timing, trigger domain.RaterType) (domain.AggregatedGrade, error) {
	if !timing.Valid() {
		return domain.AggregatedGrade{}, fmt.Errorf("%w: %q", ErrUnknownTiming, timing)
	}
	start := time.Now()

	grades, err := a.fetch(ctx, student, timing)
	if err != nil {
		return domain.AggregatedGrade{}, err
	}

	var prior *domain.AggregatedGrade
	stored, err := a.deps.Store.FetchAggregatedGrade(ctx, student, timing)
	switch {
	case err == nil:
		prior = &stored
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.AggregatedGrade{}, fmt.Errorf("fetch aggregated grade: %w", err)
	}

	rec := a.Compute(AggregationInput{
		Student: student,
		Timing:  timing,
		Grades:  grades,
		Prior:   prior,
		Trigger: trigger,
	})

	if err := a.deps.Store.UpsertAggregatedGrade(ctx, rec); err != nil {
		return domain.AggregatedGrade{}, fmt.Errorf("upsert aggregated grade: %w", err)
	}

	labels := map[string]string{"timing": string(timing), "trigger": string(trigger)}
	a.metrics.RecordCounter(MetricAggregations, 1, labels)
	a.metrics.RecordLatency("aggregate", time.Since(start), labels)
	if final, ok := rec.FinalScore.Value(); ok {
		a.metrics.RecordHistogram(MetricFinalScore, final, labels)
	}

	a.publish(ctx, rec)

	a.logger.Debug("aggregated grade",
		zap.String("student", string(student)),
		zap.String("timing", string(timing)),
		zap.Stringer("weighted_total", rec.WeightedTotal),
		zap.Stringer("final_score", rec.FinalScore),
	)
	return rec, nil
}

func (a *GradeAggregator) fetch(ctx context.Context, student domain.ParticipantID, timing domain.Timing) (map[domain.RaterType][]domain.Grade, error) {
	if snap, ok := a.deps.Source.(ports.SnapshotGradeSource); ok {
		grades, err := snap.FetchTimingGrades(ctx, student, timing)
		if err != nil {
			return nil, fmt.Errorf("fetch grades for %s/%s: %w", student, timing, err)
		}
		return grades, nil
	}

	grades := make(map[domain.RaterType][]domain.Grade, len(domain.AggregatedRaterTypes))
	for _, rt := range domain.AggregatedRaterTypes {
		area := domain.GradingArea{Timing: timing, RaterType: rt}
		gs, err := a.deps.Source.FetchGrades(ctx, student, area)
		if err != nil {
			return nil, fmt.Errorf("fetch grades for %s in %s: %w", student, area, err)
		}
		grades[rt] = gs
	}
	return grades, nil
}

// publish forwards the "before" weighted total to the grade book and marks
// completion. Failures are logged and counted.
func (a *GradeAggregator) publish(ctx context.Context, rec domain.AggregatedGrade) {
	if rec.Timing != domain.TimingBefore {
		return
	}
	total, ok := rec.WeightedTotal.Value()
	if !ok || total <= 0 {
		return
	}

	if a.deps.Gradebook != nil {
		if err := a.deps.Gradebook.PushGradebookScore(ctx, rec.Student, total); err != nil {
			a.logger.Warn("gradebook push failed",
				zap.String("student", string(rec.Student)),
				zap.Float64("score", total),
				zap.Error(err),
			)
			a.metrics.RecordCounter(MetricGradebookFailures, 1, nil)
		}
	}

	if a.deps.Completion != nil && a.cfg.Completion.Enabled && total >= a.cfg.Completion.PassThreshold {
		if err := a.deps.Completion.MarkComplete(ctx, rec.Student); err != nil {
			a.logger.Warn("mark completion failed",
				zap.String("student", string(rec.Student)),
				zap.Error(err),
			)
		}
	}
}

// AggregationInput is everything one recompute depends on.
type AggregationInput struct {
	Student domain.ParticipantID
	Timing  domain.Timing

	// Grades holds the grades per rater type for (Student, Timing).
	Grades map[domain.RaterType][]domain.Grade

	// Prior is the previously stored record, or nil.
	Prior *domain.AggregatedGrade

	Trigger domain.RaterType
}

// Compute derives the aggregated record from in without side effects. The
// same input always yields the same record.
func (a *GradeAggregator) Compute(in AggregationInput) domain.AggregatedGrade {
	rec := domain.NewAggregatedGrade(in.Student, in.Timing)
	if in.Prior != nil {
		rec.FairnessBonus = in.Prior.FairnessBonus
		rec.SelfFairnessBonus = in.Prior.SelfFairnessBonus
	}

	means := make(map[domain.RaterType]domain.Score, len(domain.AggregatedRaterTypes))
	for _, rt := range domain.AggregatedRaterTypes {
		means[rt] = Mean(in.Grades[rt])
		rec.Composites[rt] = means[rt].Rounded()
	}

	if a.cfg.FairnessBonus && (in.Trigger == domain.RaterPeer || in.Trigger == domain.RaterTeacher) {
		rec.FairnessBonus = a.bonusPoints(means[domain.RaterTeacher], means[domain.RaterPeer])
	}
	if a.cfg.SelfFairnessBonus && (in.Trigger == domain.RaterSelf || in.Trigger == domain.RaterTeacher) {
		rec.SelfFairnessBonus = a.bonusPoints(means[domain.RaterTeacher], means[domain.RaterSelf])
	}

	weightSum := a.cfg.WeightSum()
	if weightSum <= 0 {
		return rec
	}

	var weighted float64
	for _, rt := range domain.AggregatedRaterTypes {
		weighted += means[rt].OrZero() * a.cfg.Weights[rt]
	}
	weighted /= weightSum

	rec.WeightedTotal = domain.NewScore(weighted).Rounded()
	rec.FinalScore = domain.NewScore(domain.FinalScoreFor(weighted, rec.SelfFairnessBonus, rec.FairnessBonus))
	return rec
}

// bonusPoints converts the agreement between teacher and rater composites
// into points. Either composite being ungraded yields zero.
func (a *GradeAggregator) bonusPoints(teacher, rater domain.Score) float64 {
	ref, ok := teacher.Value()
	if !ok {
		return 0
	}
	cmp, ok := rater.Value()
	if !ok {
		return 0
	}
	pct := float64(a.bonus.BonusPercent(ref, cmp))
	return math.Round(pct * a.cfg.BonusMaxPercent * a.cfg.TotalPossiblePoints / 10000)
}

// Mean returns the arithmetic mean of graded scores in grades, or an
// ungraded score when none are graded.
func Mean(grades []domain.Grade) domain.Score {
	var sum float64
	var n int
	for _, g := range grades {
		if v, ok := g.Score.Value(); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return domain.Ungraded()
	}
	return domain.NewScore(sum / float64(n))
}
