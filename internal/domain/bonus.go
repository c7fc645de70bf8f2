package domain

import (
	"cmp"
	"slices"
)

// BonusTier pairs a deviation threshold, in percent, with the bonus
// percentage associated with it.
type BonusTier struct {
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"min=0"`
	Percent   int     `json:"percent" yaml:"percent" validate:"min=0,max=100"`
}

// BonusScale is an ordered table of bonus tiers, sorted ascending by
// threshold. Build it with NewBonusScale.
type BonusScale struct {
	tiers []BonusTier
}

// NewBonusScale copies tiers and sorts them ascending by threshold. The sort
// is stable so tiers sharing a threshold keep their configured order.
func NewBonusScale(tiers []BonusTier) BonusScale {
	sorted := slices.Clone(tiers)
	slices.SortStableFunc(sorted, func(a, b BonusTier) int {
		return cmp.Compare(a.Threshold, b.Threshold)
	})
	return BonusScale{tiers: sorted}
}

// Tiers returns a copy of the sorted tiers.
func (s BonusScale) Tiers() []BonusTier { return slices.Clone(s.tiers) }

// Len returns the number of tiers.
func (s BonusScale) Len() int { return len(s.tiers) }

// DefaultBonusScale returns the six-tier scale used when an activity does
// not configure its own.
func DefaultBonusScale() BonusScale {
	return NewBonusScale([]BonusTier{
		{Threshold: 5, Percent: 100},
		{Threshold: 10, Percent: 80},
		{Threshold: 20, Percent: 60},
		{Threshold: 30, Percent: 40},
		{Threshold: 40, Percent: 20},
		{Threshold: 50, Percent: 10},
	})
}
