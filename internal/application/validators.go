package application

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// maxSuggestionDistance bounds how far a misspelled name may be from a
// known name and still be suggested.
const maxSuggestionDistance = 3

// foldName case-folds and trims a configured rater type or timing name.
// Casers carry state, so each call gets its own.
func foldName(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// suggest returns the candidate closest to name by edit distance, or ""
// when none is within maxSuggestionDistance.
func suggest(name string, candidates []string) string {
	best, bestDist := "", maxSuggestionDistance+1
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// unknownName formats an unknown-name error with an optional hint.
func unknownName(kind, name string, candidates []string) error {
	if hint := suggest(name, candidates); hint != "" {
		return fmt.Errorf("unknown %s %q (did you mean %q?)", kind, name, hint)
	}
	return fmt.Errorf("unknown %s %q (valid: %s)", kind, name, strings.Join(candidates, ", "))
}

func raterTypeNames() []string {
	names := make([]string, len(domain.AggregatedRaterTypes))
	for i, rt := range domain.AggregatedRaterTypes {
		names[i] = string(rt)
	}
	return names
}

func timingNames() []string {
	names := make([]string, len(domain.Timings))
	for i, t := range domain.Timings {
		names[i] = string(t)
	}
	return names
}

// normalizeNames case-folds every rater type and timing name in config and
// rejects names that are not known, with a "did you mean" hint.
func normalizeNames(config *ActivityConfig) error {
	if config.Grading.Weights != nil {
		weights := make(map[domain.RaterType]float64, len(config.Grading.Weights))
		for rt, w := range config.Grading.Weights {
			name := foldName(string(rt))
			if !slices.Contains(domain.AggregatedRaterTypes, domain.RaterType(name)) {
				return unknownName("rater type", string(rt), raterTypeNames())
			}
			if _, dup := weights[domain.RaterType(name)]; dup {
				return fmt.Errorf("rater type %q weighted twice", name)
			}
			weights[domain.RaterType(name)] = w
		}
		config.Grading.Weights = weights
	}

	for i, t := range config.Grading.Timings {
		name := domain.Timing(foldName(string(t)))
		if !name.Valid() {
			return unknownName("timing", string(t), timingNames())
		}
		config.Grading.Timings[i] = name
	}
	return nil
}

// validateSemantics performs the checks that cannot be expressed through
// struct tags: a positive weight sum, unique timings and a well-formed
// rubric.
func validateSemantics(config *ActivityConfig) error {
	verr := domain.NewValidationError("activity " + config.Metadata.Name)

	var sum float64
	for _, w := range config.Grading.Weights {
		sum += w
	}
	if sum <= 0 {
		verr.AddErrorf("rater weights must sum to a positive value, got %g", sum)
	}

	seen := make(map[domain.Timing]struct{}, len(config.Grading.Timings))
	for _, t := range config.Grading.Timings {
		if _, dup := seen[t]; dup {
			verr.AddErrorf("duplicate timing %q", t)
		}
		seen[t] = struct{}{}
	}

	if err := config.Peers.Validate(); err != nil {
		verr.AddError(err.Error())
	}

	if config.Training.Rubric != nil {
		if err := config.Training.Rubric.Validate(); err != nil {
			verr.AddErrorf("training rubric: %v", err)
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// registerCustomValidators registers the semver and nonincreasing tags.
func registerCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return fmt.Errorf("failed to register semver validator: %w", err)
	}
	if err := v.RegisterValidation("nonincreasing", validateNonIncreasing); err != nil {
		return fmt.Errorf("failed to register nonincreasing validator: %w", err)
	}
	return nil
}

// validateSemver validates that a string follows the X.Y.Z form.
func validateSemver(fl validator.FieldLevel) bool {
	var major, minor, patch int
	n, err := fmt.Sscanf(fl.Field().String(), "%d.%d.%d", &major, &minor, &patch)
	return err == nil && n == 3 && major >= 0 && minor >= 0 && patch >= 0
}

// validateNonIncreasing checks that a bonus scale, ordered by threshold,
// never awards a larger percentage for a larger deviation.
func validateNonIncreasing(fl validator.FieldLevel) bool {
	tiers, ok := fl.Field().Interface().([]domain.BonusTier)
	if !ok {
		return false
	}
	sorted := slices.Clone(tiers)
	slices.SortStableFunc(sorted, func(a, b domain.BonusTier) int {
		return cmp.Compare(a.Threshold, b.Threshold)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Percent > sorted[i-1].Percent {
			return false
		}
	}
	return true
}
