package application

import (
	"github.com/ahrav/go-peergrade/infrastructure/grading"
	"github.com/ahrav/go-peergrade/internal/domain"
)

// ActivityConfig is the declarative grading policy of one activity and
// serves as the primary configuration entry point for the engine.
// Use ActivityConfig when describing how an activity weighs its raters,
// how many peers each student reviews and how trainees are judged.
type ActivityConfig struct {
	// Version specifies the configuration schema version using semantic
	// versioning to ensure compatibility across system updates.
	Version string `yaml:"version" validate:"required,semver"`
	// Metadata contains descriptive information about the activity.
	Metadata Metadata `yaml:"metadata" validate:"required"`
	// Grading is the aggregation policy: timings, rater weights, bonuses
	// and completion tracking.
	Grading grading.AggregatorConfig `yaml:"grading"`
	// Peers is the number of peers each student reviews, or "unlimited".
	Peers domain.PeerCount `yaml:"peers"`
	// BonusScale maps deviation thresholds to bonus percentages. The
	// six-tier default applies when omitted.
	BonusScale []domain.BonusTier `yaml:"bonus_scale" validate:"omitempty,max=50,nonincreasing,dive"`
	// Training configures rubric comparison for teacher training attempts.
	Training TrainingConfig `yaml:"training"`
}

// Metadata provides descriptive information about an activity to support
// organization and operational management.
type Metadata struct {
	// Name is the human-readable identifier of the activity.
	Name string `yaml:"name" validate:"required,min=1,max=255"`
	// Description provides a longer explanation for operators.
	Description string `yaml:"description" validate:"max=1000"`
	// Tags are categorical labels for filtering activities.
	Tags []string `yaml:"tags" validate:"max=20,dive,min=1,max=50"`
}

// TrainingConfig controls how trainee rubric attempts are judged.
type TrainingConfig struct {
	// AcceptedDifferencePercent is the per-criterion tolerance.
	AcceptedDifferencePercent float64 `yaml:"accepted_difference_percent" validate:"gte=0,lte=100"`
	// Rubric is the definition trainee and teacher fillings refer to.
	// Training evaluation is unavailable when it is omitted.
	Rubric *domain.RubricDefinition `yaml:"rubric" validate:"omitempty"`
}

// DefaultActivityConfig returns the defaults applied before decoding.
// Weights, timings and the bonus scale are filled in after decoding so
// that a configured map or list replaces the default instead of merging.
func DefaultActivityConfig() ActivityConfig {
	g := grading.DefaultAggregatorConfig()
	g.Weights = nil
	g.Timings = nil
	return ActivityConfig{
		Grading: g,
		Peers:   domain.Peers(3),
		Training: TrainingConfig{
			AcceptedDifferencePercent: grading.DefaultRubricComparatorConfig().AcceptedDifferencePercent,
		},
	}
}

// applyDefaults fills the collection fields left empty by the document.
func (c *ActivityConfig) applyDefaults() {
	def := grading.DefaultAggregatorConfig()
	if c.Grading.Weights == nil {
		c.Grading.Weights = def.Weights
	}
	if len(c.Grading.Timings) == 0 {
		c.Grading.Timings = def.Timings
	}
	if len(c.BonusScale) == 0 {
		c.BonusScale = domain.DefaultBonusScale().Tiers()
	}
}

// Activity is a validated, immutable activity policy ready to drive an
// Engine.
type Activity struct {
	// Config is the normalized configuration the activity was built from.
	Config ActivityConfig
	// Scale is the sorted bonus scale.
	Scale domain.BonusScale
	// Hash is the SHA256 of the normalized configuration.
	Hash string
}

// Name returns the activity's display name.
func (a *Activity) Name() string { return a.Config.Metadata.Name }

// ComparatorConfig returns the rubric comparator settings.
func (a *Activity) ComparatorConfig() grading.RubricComparatorConfig {
	return grading.RubricComparatorConfig{
		AcceptedDifferencePercent: a.Config.Training.AcceptedDifferencePercent,
	}
}
