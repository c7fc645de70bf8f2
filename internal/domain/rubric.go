package domain

import (
	"fmt"
	"slices"
)

// CriterionID identifies a rubric criterion.
type CriterionID string

// LevelID identifies a level within a criterion.
type LevelID string

// Level is one selectable level of a criterion.
type Level struct {
	ID         LevelID `json:"id" yaml:"id" validate:"required"`
	Score      float64 `json:"score" yaml:"score"`
	Definition string  `json:"definition,omitempty" yaml:"definition"`
}

// Criterion is an ordered list of levels.
type Criterion struct {
	ID          CriterionID `json:"id" yaml:"id" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Levels      []Level     `json:"levels" yaml:"levels" validate:"required,min=1,dive"`
}

// Level returns the level with the given id.
func (c Criterion) Level(id LevelID) (Level, bool) {
	i := slices.IndexFunc(c.Levels, func(l Level) bool { return l.ID == id })
	if i < 0 {
		return Level{}, false
	}
	return c.Levels[i], true
}

// ScoreRange returns the minimum and maximum level scores.
func (c Criterion) ScoreRange() (lo, hi float64) {
	for i, l := range c.Levels {
		if i == 0 || l.Score < lo {
			lo = l.Score
		}
		if i == 0 || l.Score > hi {
			hi = l.Score
		}
	}
	return lo, hi
}

// RubricDefinition is an ordered list of criteria. It is read-only input.
type RubricDefinition struct {
	ID       string      `json:"id" yaml:"id"`
	Criteria []Criterion `json:"criteria" yaml:"criteria" validate:"required,min=1,dive"`
}

// Validate checks the structural contract: at least one criterion, each
// with at least one level, and unique ids.
func (d *RubricDefinition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil rubric definition", ErrContractViolation)
	}
	if len(d.Criteria) == 0 {
		return fmt.Errorf("%w: rubric %q has no criteria", ErrContractViolation, d.ID)
	}
	seen := make(map[CriterionID]struct{}, len(d.Criteria))
	for _, c := range d.Criteria {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate criterion %q", ErrContractViolation, c.ID)
		}
		seen[c.ID] = struct{}{}
		if len(c.Levels) == 0 {
			return fmt.Errorf("%w: criterion %q has no levels", ErrContractViolation, c.ID)
		}
	}
	return nil
}

// Score converts a filling into a 0..100 score, normalizing the sum of
// selected level scores between the sums of per-criterion minima and
// maxima. It returns an ungraded score if any criterion is unfilled.
func (d *RubricDefinition) Score(f RubricFilling) Score {
	var sumSel, sumMin, sumMax float64
	for _, c := range d.Criteria {
		lvl, ok := f.Selected(c)
		if !ok {
			return Ungraded()
		}
		lo, hi := c.ScoreRange()
		sumSel += lvl.Score
		sumMin += lo
		sumMax += hi
	}
	if sumMax == sumMin {
		return NewScore(MaxScore)
	}
	return NewScore((sumSel - sumMin) / (sumMax - sumMin) * MaxScore)
}

// RubricFilling maps each criterion to the selected level.
type RubricFilling map[CriterionID]LevelID

// Selected returns the level selected for c. It reports false when the
// criterion is absent from the filling or the selected id is not a level
// of c.
func (f RubricFilling) Selected(c Criterion) (Level, bool) {
	id, ok := f[c.ID]
	if !ok {
		return Level{}, false
	}
	return c.Level(id)
}
