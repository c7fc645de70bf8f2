package grading

import (
	"math"
	"sort"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// FairnessBonusCalculator maps the deviation between a rater's score and a
// reference score through a bonus scale.
//
// Lookup rule: the deviation is inserted into the ascending list of scale
// thresholds, with equal thresholds sorting before it. The bonus is the
// percent of the first threshold strictly above the deviation, one tier
// more lenient than the band the deviation falls into. A deviation at or
// beyond the most lenient threshold earns nothing.
//
// The calculator is stateless after construction and safe for concurrent use.
type FairnessBonusCalculator struct {
	tiers []domain.BonusTier
}

// NewFairnessBonusCalculator creates a calculator for scale.
func NewFairnessBonusCalculator(scale domain.BonusScale) *FairnessBonusCalculator {
	return &FairnessBonusCalculator{tiers: scale.Tiers()}
}

// DeviationPercent returns |reference - compared| / reference * 100. A zero
// reference is defined as zero deviation.
func DeviationPercent(reference, compared float64) float64 {
	if reference == 0 {
		return 0
	}
	return math.Abs(reference-compared) * 100 / math.Abs(reference)
}

// BonusPercent returns the bonus percentage in [0, 100] for a rater whose
// score is compared against reference.
func (c *FairnessBonusCalculator) BonusPercent(reference, compared float64) int {
	return c.lookup(DeviationPercent(reference, compared))
}

func (c *FairnessBonusCalculator) lookup(deviation float64) int {
	// Thresholds equal to the deviation sort before it, so the next tier up
	// is the first threshold strictly greater.
	i := sort.Search(len(c.tiers), func(i int) bool { return c.tiers[i].Threshold > deviation })
	if i == len(c.tiers) {
		return 0
	}
	return max(0, min(100, c.tiers[i].Percent))
}

// BonusPercent is a convenience wrapper for one-off lookups against scale.
func BonusPercent(reference, compared float64, scale domain.BonusScale) int {
	return NewFairnessBonusCalculator(scale).BonusPercent(reference, compared)
}
