package grading

import (
	"bytes"
	"fmt"
	"math"
	"text/template"

	"go.uber.org/zap"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// RubricComparatorConfig controls training verdicts.
type RubricComparatorConfig struct {
	// AcceptedDifferencePercent is the largest per-criterion difference,
	// as a percentage of the criterion's level range, that still passes.
	AcceptedDifferencePercent float64 `yaml:"accepted_difference_percent" json:"accepted_difference_percent" validate:"gte=0,lte=100"`
}

// DefaultRubricComparatorConfig returns a 20% tolerance.
func DefaultRubricComparatorConfig() RubricComparatorConfig {
	return RubricComparatorConfig{AcceptedDifferencePercent: 20}
}

const comparisonTable = `{{pad "Criterion" 20}} {{pad "Trainee" 10}} {{pad "Teacher" 10}} {{pad "Diff" 8}} {{pad "Status" 8}}{{if .ShowHistory}} History{{end}}
{{range .Criteria}}{{pad .CriterionID 20}} {{pad (score .TraineeScore) 10}} {{pad (score .TeacherScore) 10}} {{pad (pct .Difference) 8}} {{pad (title .Status) 8}}{{if $.ShowHistory}} {{levels .History ", "}}{{end}}
{{end}}Result: {{if .Passed}}Passed{{else}}Not passed{{end}} ({{len .PassedCriteria}}/{{len .Criteria}} criteria)
`

var comparisonTemplate = template.Must(template.New("comparison").Funcs(GetTemplateFuncMap()).Parse(comparisonTable))

// RubricComparator compares a trainee's rubric filling against the
// teacher's reference filling.
//
// A criterion passes when |trainee - teacher| * 100 / (max - min) is within
// the accepted difference, where min and max span the criterion's level
// scores. A zero range counts as no difference. A criterion missing from
// either filling is pending: it neither passes nor fails, but the attempt
// only passes when every criterion passed.
//
// Historic fillings are rendered alongside the current attempt and never
// affect the verdict.
type RubricComparator struct {
	ambient
	cfg RubricComparatorConfig
}

// NewRubricComparator creates a comparator after validating cfg.
func NewRubricComparator(cfg RubricComparatorConfig, opts ...Option) (*RubricComparator, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("rubric comparator configuration validation failed: %w", err)
	}
	return &RubricComparator{ambient: newAmbient(opts), cfg: cfg}, nil
}

// Compare produces the verdict for one training attempt.
//
// Returns an error wrapping domain.ErrContractViolation when def is nil or
// malformed.
func (c *RubricComparator) Compare(def *domain.RubricDefinition, trainee, teacher domain.RubricFilling, history ...domain.RubricFilling) (domain.TrainingVerdict, error) {
	if err := def.Validate(); err != nil {
		return domain.TrainingVerdict{}, err
	}

	verdict := domain.TrainingVerdict{
		Passed:         true,
		PassedCriteria: make([]domain.CriterionID, 0, len(def.Criteria)),
		Criteria:       make([]domain.CriterionResult, 0, len(def.Criteria)),
	}

	for _, crit := range def.Criteria {
		res := c.compareCriterion(crit, trainee, teacher)
		if len(history) > 0 {
			res.History = make([]domain.LevelID, len(history))
			for i, h := range history {
				if lvl, ok := h.Selected(crit); ok {
					res.History[i] = lvl.ID
				}
			}
		}

		if res.Status == domain.CriterionPassed {
			verdict.PassedCriteria = append(verdict.PassedCriteria, crit.ID)
		} else {
			verdict.Passed = false
		}
		verdict.Criteria = append(verdict.Criteria, res)
	}

	table, err := renderComparison(verdict, len(history) > 0)
	if err != nil {
		return domain.TrainingVerdict{}, err
	}
	verdict.Table = table

	status := "failed"
	if verdict.Passed {
		status = "passed"
	}
	c.metrics.RecordCounter(MetricTrainingVerdicts, 1, map[string]string{"status": status})
	return verdict, nil
}

func (c *RubricComparator) compareCriterion(crit domain.Criterion, trainee, teacher domain.RubricFilling) domain.CriterionResult {
	res := domain.CriterionResult{
		CriterionID:  crit.ID,
		Description:  crit.Description,
		TraineeLevel: trainee[crit.ID],
		TeacherLevel: teacher[crit.ID],
		TraineeScore: domain.Ungraded(),
		TeacherScore: domain.Ungraded(),
		Difference:   domain.Ungraded(),
		Status:       domain.CriterionPending,
	}

	tl, traineeOK := c.selected(crit, trainee, "trainee")
	rl, teacherOK := c.selected(crit, teacher, "teacher")
	if traineeOK {
		res.TraineeScore = domain.NewScore(tl.Score)
	}
	if teacherOK {
		res.TeacherScore = domain.NewScore(rl.Score)
	}
	if !traineeOK || !teacherOK {
		return res
	}

	diff := DifferencePercent(crit, tl.Score, rl.Score)
	res.Difference = domain.NewScore(diff)
	if diff <= c.cfg.AcceptedDifferencePercent {
		res.Status = domain.CriterionPassed
	} else {
		res.Status = domain.CriterionFailed
	}
	return res
}

func (c *RubricComparator) selected(crit domain.Criterion, f domain.RubricFilling, who string) (domain.Level, bool) {
	id, filled := f[crit.ID]
	if !filled {
		return domain.Level{}, false
	}
	lvl, ok := crit.Level(id)
	if !ok {
		c.logger.Debug("rubric filling references unknown level",
			zap.String("filling", who),
			zap.String("criterion", string(crit.ID)),
			zap.String("level", string(id)),
		)
	}
	return lvl, ok
}

// DifferencePercent returns |a - b| as a percentage of crit's level range.
func DifferencePercent(crit domain.Criterion, a, b float64) float64 {
	lo, hi := crit.ScoreRange()
	if hi == lo {
		return 0
	}
	return math.Abs(a-b) * 100 / (hi - lo)
}

func renderComparison(v domain.TrainingVerdict, showHistory bool) (string, error) {
	var buf bytes.Buffer
	data := struct {
		domain.TrainingVerdict
		ShowHistory bool
	}{v, showHistory}
	if err := comparisonTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render comparison table: %w", err)
	}
	return buf.String(), nil
}
