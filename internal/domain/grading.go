// Package domain contains pure, dependency-free domain models and types
// for the peer grading engine.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timing identifies a phase of assessment, such as before or after an
// intervention.
type Timing string

// Known timings.
const (
	TimingBefore Timing = "before"
	TimingAfter  Timing = "after"
)

// Timings lists every known timing in display order.
var Timings = []Timing{TimingBefore, TimingAfter}

// Valid reports whether t is a known timing.
func (t Timing) Valid() bool {
	switch t {
	case TimingBefore, TimingAfter:
		return true
	}
	return false
}

// RaterType identifies who is scoring a subject.
type RaterType string

// Known rater types. RaterTraining is only used for trainee rubric
// attempts and never takes part in composite aggregation.
const (
	RaterTeacher  RaterType = "teacher"
	RaterSelf     RaterType = "self"
	RaterPeer     RaterType = "peer"
	RaterClass    RaterType = "class"
	RaterTraining RaterType = "training"
)

// AggregatedRaterTypes are the rater types blended into a weighted total,
// in a fixed order so that aggregation is reproducible.
var AggregatedRaterTypes = []RaterType{RaterTeacher, RaterSelf, RaterPeer, RaterClass}

// RaterTypes lists every known rater type.
var RaterTypes = []RaterType{RaterTeacher, RaterSelf, RaterPeer, RaterClass, RaterTraining}

// Valid reports whether r is a known rater type.
func (r RaterType) Valid() bool {
	switch r {
	case RaterTeacher, RaterSelf, RaterPeer, RaterClass, RaterTraining:
		return true
	}
	return false
}

// GradingArea is the composite of a timing and a rater type. It replaces
// string-built area names such as "beforepeer".
type GradingArea struct {
	Timing    Timing    `json:"timing"`
	RaterType RaterType `json:"rater_type"`
}

// String returns the area in "timing/rater" form for logs and keys.
func (a GradingArea) String() string { return string(a.Timing) + "/" + string(a.RaterType) }

// Validate returns an error wrapping ErrContractViolation when either half
// of the area is unknown.
func (a GradingArea) Validate() error {
	if !a.Timing.Valid() {
		return fmt.Errorf("%w: unknown timing %q", ErrContractViolation, a.Timing)
	}
	if !a.RaterType.Valid() {
		return fmt.Errorf("%w: unknown rater type %q", ErrContractViolation, a.RaterType)
	}
	return nil
}

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0

	// UngradedRaw is the raw storage value for a score that has not been
	// given yet. It only appears at storage and wire boundaries.
	UngradedRaw = -1
)

// Score is an optional numeric score. The zero value is ungraded, which is
// distinct from a graded zero.
type Score struct {
	value  float64
	graded bool
}

// Ungraded returns a score that carries no value.
func Ungraded() Score { return Score{} }

// NewScore returns a graded score with value v.
func NewScore(v float64) Score { return Score{value: v, graded: true} }

// ScoreFromRaw maps a stored raw value to a Score. A negative raw value is
// treated as ungraded.
func ScoreFromRaw(raw float64) Score {
	if raw < 0 {
		return Ungraded()
	}
	return NewScore(raw)
}

// Value returns the score and whether it is graded.
func (s Score) Value() (float64, bool) { return s.value, s.graded }

// Graded reports whether the score carries a value.
func (s Score) Graded() bool { return s.graded }

// OrZero returns the value, or 0 when ungraded. This is the substitution
// used when mixing composites into a weighted sum.
func (s Score) OrZero() float64 {
	if !s.graded {
		return 0
	}
	return s.value
}

// Raw returns the storage representation: the value, or -1 when ungraded.
func (s Score) Raw() float64 {
	if !s.graded {
		return UngradedRaw
	}
	return s.value
}

// Rounded returns the score rounded half away from zero.
func (s Score) Rounded() Score {
	if !s.graded {
		return s
	}
	return NewScore(math.Round(s.value))
}

// String implements fmt.Stringer.
func (s Score) String() string {
	if !s.graded {
		return "ungraded"
	}
	return fmt.Sprintf("%g", s.value)
}

// MarshalJSON encodes an ungraded score as null.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.graded {
		return []byte("null"), nil
	}
	return json.Marshal(s.value)
}

// UnmarshalJSON decodes null and negative values as ungraded.
func (s *Score) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Ungraded()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ScoreFromRaw(v)
	return nil
}

// ValidateScore returns an error wrapping ErrContractViolation when a
// graded score falls outside [MinScore, MaxScore].
func ValidateScore(s Score) error {
	v, ok := s.Value()
	if !ok {
		return nil
	}
	if math.IsNaN(v) || v < MinScore || v > MaxScore {
		return fmt.Errorf("%w: score %v outside [%g, %g]", ErrContractViolation, v, MinScore, MaxScore)
	}
	return nil
}

// GradeItem identifies one possible scoring slot: a rater grading a
// subject within a grading area.
type GradeItem struct {
	// ID uniquely identifies the item in the store.
	ID string `json:"id"`

	Area    GradingArea   `json:"area"`
	Subject ParticipantID `json:"subject"`
	Rater   ParticipantID `json:"rater"`
}

// Grade is the score and comment attached 1:1 to a GradeItem.
type Grade struct {
	ItemID    string        `json:"item_id"`
	Rater     ParticipantID `json:"rater"`
	Score     Score         `json:"score"`
	Comment   string        `json:"comment,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Submission is a single grading event: a rater scoring a subject.
type Submission struct {
	Area    GradingArea
	Subject ParticipantID
	Rater   ParticipantID
	Score   Score
	Comment string
}

// Validate checks the submission's contract.
func (s Submission) Validate() error {
	if err := s.Area.Validate(); err != nil {
		return err
	}
	if s.Subject == "" || s.Rater == "" {
		return fmt.Errorf("%w: submission requires subject and rater", ErrContractViolation)
	}
	return ValidateScore(s.Score)
}
