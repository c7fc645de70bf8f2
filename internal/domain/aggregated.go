package domain

import "math"

// AggregatedGrade is the full aggregation result for one student and one
// timing. It is recomputed in full whenever any contributing grade changes.
type AggregatedGrade struct {
	Student ParticipantID `json:"student"`
	Timing  Timing        `json:"timing"`

	// Composites holds the per-rater-type mean. A rater type with no valid
	// grades maps to an ungraded score, which is distinct from a zero.
	Composites map[RaterType]Score `json:"composites"`

	// WeightedTotal is the rater-type-weighted blend of the composites. It
	// is ungraded only when the configured weights sum to zero.
	WeightedTotal Score `json:"weighted_total"`

	// FairnessBonus rewards peer ratings that track the teacher's rating.
	FairnessBonus float64 `json:"fairness_bonus"`

	// SelfFairnessBonus rewards self ratings that track the teacher's rating.
	SelfFairnessBonus float64 `json:"self_fairness_bonus"`

	// FinalScore is the weighted total plus bonuses, capped to [0, 100].
	FinalScore Score `json:"final_score"`
}

// NewAggregatedGrade returns a record with every composite ungraded.
func NewAggregatedGrade(student ParticipantID, timing Timing) AggregatedGrade {
	composites := make(map[RaterType]Score, len(AggregatedRaterTypes))
	for _, rt := range AggregatedRaterTypes {
		composites[rt] = Ungraded()
	}
	return AggregatedGrade{
		Student:       student,
		Timing:        timing,
		Composites:    composites,
		WeightedTotal: Ungraded(),
		FinalScore:    Ungraded(),
	}
}

// Composite returns the composite for rater type rt.
func (a AggregatedGrade) Composite(rt RaterType) Score { return a.Composites[rt] }

// FinalScoreFor combines a rounded weighted total with bonuses and clamps
// the result to [MinScore, MaxScore].
func FinalScoreFor(weightedTotal, selfBonus, fairnessBonus float64) float64 {
	total := math.Round(weightedTotal) + selfBonus + fairnessBonus
	return math.Max(MinScore, math.Min(MaxScore, total))
}
