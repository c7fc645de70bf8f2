package domain

// CriterionStatus is the per-criterion outcome of a training comparison.
type CriterionStatus string

// Criterion outcomes. A pending criterion is missing from at least one
// filling; it neither passes nor fails.
const (
	CriterionPassed  CriterionStatus = "passed"
	CriterionFailed  CriterionStatus = "failed"
	CriterionPending CriterionStatus = "pending"
)

// CriterionResult records how a trainee's selection compared to the
// teacher's for a single criterion.
type CriterionResult struct {
	CriterionID  CriterionID     `json:"criterion_id"`
	Description  string          `json:"description,omitempty"`
	TraineeLevel LevelID         `json:"trainee_level,omitempty"`
	TeacherLevel LevelID         `json:"teacher_level,omitempty"`
	TraineeScore Score           `json:"trainee_score"`
	TeacherScore Score           `json:"teacher_score"`
	Difference   Score           `json:"difference_percent"`
	Status       CriterionStatus `json:"status"`

	// History holds the trainee's selections in prior attempts, oldest
	// first. It is informational only.
	History []LevelID `json:"history,omitempty"`
}

// TrainingVerdict is the outcome of comparing a trainee's rubric filling
// against the teacher's reference filling.
type TrainingVerdict struct {
	Passed         bool              `json:"passed"`
	PassedCriteria []CriterionID     `json:"passed_criteria"`
	Criteria       []CriterionResult `json:"criteria"`

	// Table is the rendered plain-text comparison table.
	Table string `json:"table"`
}

// TrainingAttempt references the fillings for one trainee attempt.
type TrainingAttempt struct {
	// Ref identifies the current attempt.
	Ref string

	// TeacherRef identifies the teacher's reference filling.
	TeacherRef string

	// HistoryRefs identifies prior attempts, oldest first.
	HistoryRefs []string
}
