package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/testutils"
)

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (r *recordingObserver) Observe(ctx context.Context, op string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ops = append(r.ops, op)
		r.errs = append(r.errs, err)
	}
}

func loadActivity(t *testing.T, doc string) *Activity {
	t.Helper()
	a, err := newLoader(t).LoadFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	return a
}

func newTestEngine(t *testing.T, doc string, opts ...EngineOption) (*Engine, *testutils.MemStore) {
	t.Helper()
	store := testutils.NewMemStore()
	opts = append([]EngineOption{WithRand(rand.New(rand.NewPCG(7, 7)))}, opts...)
	e, err := NewEngine(loadActivity(t, doc), EngineDeps{
		Store:      store,
		Gradebook:  store,
		Completion: store,
	}, opts...)
	require.NoError(t, err)
	return e, store
}

func submission(timing domain.Timing, rt domain.RaterType, subject, rater domain.ParticipantID, v float64) domain.Submission {
	return domain.Submission{
		Area:    domain.GradingArea{Timing: timing, RaterType: rt},
		Subject: subject,
		Rater:   rater,
		Score:   domain.NewScore(v),
	}
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	a := loadActivity(t, minimalActivityYAML)

	_, err := NewEngine(nil, EngineDeps{Store: testutils.NewMemStore()})
	assert.Error(t, err)

	_, err = NewEngine(a, EngineDeps{})
	assert.Error(t, err)
}

func TestEngine_SubmitGrade(t *testing.T) {
	obs := &recordingObserver{}
	e, store := newTestEngine(t, fullActivityYAML, WithObserver(obs))
	ctx := context.Background()

	recs, err := e.SubmitGrade(ctx, submission(domain.TimingBefore, domain.RaterTeacher, "s1", "t1", 80))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.NewScore(64), recs[0].WeightedTotal)
	assert.Zero(t, recs[0].FairnessBonus, "no peer composite yet")

	recs, err = e.SubmitGrade(ctx, submission(domain.TimingBefore, domain.RaterPeer, "s1", "s2", 60))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, domain.NewScore(80), rec.Composite(domain.RaterTeacher))
	assert.Equal(t, domain.NewScore(60), rec.Composite(domain.RaterPeer))
	assert.Equal(t, domain.NewScore(76), rec.WeightedTotal)
	// Deviation 25% falls in the 30 tier: 50% of a 10 point bonus.
	assert.Equal(t, 5.0, rec.FairnessBonus)
	assert.Equal(t, domain.NewScore(81), rec.FinalScore)

	stored, err := store.FetchAggregatedGrade(ctx, "s1", domain.TimingBefore)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	assert.Equal(t, []testutils.GradebookPush{
		{Student: "s1", Score: 64},
		{Student: "s1", Score: 76},
	}, store.Pushes())
	assert.True(t, store.Completed("s1"))

	assert.Equal(t, []string{OpSubmitGrade, OpSubmitGrade}, obs.ops)
	assert.Equal(t, []error{nil, nil}, obs.errs)
}

func TestEngine_SubmitGrade_Training(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)

	recs, err := e.SubmitGrade(context.Background(),
		submission(domain.TimingBefore, domain.RaterTraining, "s1", "trainee", 50))
	require.NoError(t, err)
	assert.Nil(t, recs)
	assert.Equal(t, 1, store.ItemCount())
	assert.Empty(t, store.Pushes())
}

func TestEngine_SubmitGrade_Invalid(t *testing.T) {
	obs := &recordingObserver{}
	e, store := newTestEngine(t, fullActivityYAML, WithObserver(obs))

	_, err := e.SubmitGrade(context.Background(),
		submission(domain.TimingBefore, domain.RaterPeer, "s1", "s2", 101))
	assert.ErrorIs(t, err, domain.ErrContractViolation)
	assert.Zero(t, store.ItemCount())
	require.Len(t, obs.errs, 1)
	assert.Error(t, obs.errs[0])
}

func TestEngine_GradebookFailureDoesNotFailSubmit(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)
	store.GradebookErr = errors.New("ledger down")

	recs, err := e.SubmitGrade(context.Background(),
		submission(domain.TimingBefore, domain.RaterTeacher, "s1", "t1", 90))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, store.Pushes(), 1)
}

func TestEngine_SubmitRubricGrade(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)
	ctx := context.Background()

	// clarity mid (2 of 0..4) and pacing good (4 of 0..4): 6/8 = 75.
	sub := submission(domain.TimingBefore, domain.RaterTeacher, "s1", "t1", 0)
	recs, err := e.SubmitRubricGrade(ctx, sub, domain.RubricFilling{"clarity": "mid", "pacing": "good"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.NewScore(75), recs[0].Composite(domain.RaterTeacher))

	// An incomplete filling leaves the slot ungraded.
	recs, err = e.SubmitRubricGrade(ctx, sub, domain.RubricFilling{"clarity": "high"})
	require.NoError(t, err)
	assert.False(t, recs[0].Composite(domain.RaterTeacher).Graded())
	assert.Equal(t, 1, store.ItemCount())

	noRubric, _ := newTestEngine(t, minimalActivityYAML)
	_, err = noRubric.SubmitRubricGrade(ctx, sub, domain.RubricFilling{})
	assert.ErrorIs(t, err, domain.ErrContractViolation)
}

func TestEngine_RecomputeCohort(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML, WithCohortConcurrency(3))
	ctx := context.Background()

	students := []domain.ParticipantID{"s1", "s2", "s3", "s4", "s5"}
	for i, s := range students {
		store.SetGrade(domain.TimingBefore, domain.RaterTeacher, s, "t1", float64(50+10*i))
		store.SetGrade(domain.TimingBefore, domain.RaterPeer, s, "p1", float64(40+10*i))
	}

	parallel, err := e.RecomputeCohort(ctx, students)
	require.NoError(t, err)
	require.Len(t, parallel, len(students))

	for _, s := range students {
		sequential, err := e.Recompute(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, sequential, parallel[s], "student %s", s)
	}
}

func TestEngine_RecomputeCohort_StopsOnError(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)
	store.FetchErr = errors.New("store offline")

	_, err := e.RecomputeCohort(context.Background(), []domain.ParticipantID{"s1", "s2"})
	assert.ErrorContains(t, err, "store offline")
}

func TestEngine_RandomizePeers(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)
	ctx := context.Background()

	students := []domain.ParticipantID{"s1", "s2", "s3", "s4", "s5"}
	state := domain.NewAssignmentState("course", students)

	next, err := e.RandomizePeers(ctx, state)
	require.NoError(t, err)
	assert.Empty(t, state.Graph(), "input state is unchanged")

	graph := next.Graph()
	require.NoError(t, graph.Validate())
	var reviews int
	for _, s := range students {
		assert.Equal(t, 2, graph.OutDegree(s), "reviewer %s", s)
		reviews += len(next.ReviewersOf(s))
	}
	assert.Equal(t, 10, reviews)

	stored, err := e.LoadAssignment(ctx, "course", students)
	require.NoError(t, err)
	assert.Equal(t, graph, stored.Graph())

	// Grades on dropped edges are deleted and the reviewee re-aggregated.
	edge := graph.Edges()[0]
	_, err = e.SubmitGrade(ctx, submission(domain.TimingBefore, domain.RaterPeer, edge.Reviewee, edge.Reviewer, 70))
	require.NoError(t, err)
	require.Equal(t, 1, store.ItemCount())
	rec, err := store.FetchAggregatedGrade(ctx, edge.Reviewee, domain.TimingBefore)
	require.NoError(t, err)
	require.True(t, rec.Composite(domain.RaterPeer).Graded())

	shrunk := next.WithStudents(students[:1])
	_, err = e.RandomizePeers(ctx, shrunk)
	require.NoError(t, err)
	assert.Zero(t, store.ItemCount())

	rec, err = store.FetchAggregatedGrade(ctx, edge.Reviewee, domain.TimingBefore)
	require.NoError(t, err)
	assert.False(t, rec.Composite(domain.RaterPeer).Graded(), "peer composite of %s", edge.Reviewee)
}

func TestEngine_RandomizePeers_RecomputesRevokedReviewees(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)
	ctx := context.Background()

	students := []domain.ParticipantID{"s1", "s2", "s3", "s4"}
	next, err := e.RandomizePeers(ctx, domain.NewAssignmentState("course", students))
	require.NoError(t, err)
	for _, edge := range next.Graph().Edges() {
		store.SetGrade(domain.TimingBefore, domain.RaterPeer, edge.Reviewee, edge.Reviewer, 60)
	}

	// s4 leaves: its own reviews and the reviews it received are revoked.
	_, err = e.RandomizePeers(ctx, next.WithStudents(students[:3]))
	require.NoError(t, err)

	revoked := domain.RemovedEdges(next.Graph(), mustFetchGraph(t, store, "course"))
	require.NotEmpty(t, revoked)
	for _, edge := range revoked {
		t.Run(string(edge.Reviewer)+"->"+string(edge.Reviewee), func(t *testing.T) {
			rec, err := store.FetchAggregatedGrade(ctx, edge.Reviewee, domain.TimingBefore)
			require.NoError(t, err, "reviewee must be re-aggregated")
			assert.Equal(t, edge.Reviewee, rec.Student)
		})
	}
}

func mustFetchGraph(t *testing.T, store *testutils.MemStore, scope string) domain.PeerGraph {
	t.Helper()
	g, err := store.FetchPeerGraph(context.Background(), scope)
	require.NoError(t, err)
	return g
}

func TestEngine_EvaluateTraining(t *testing.T) {
	e, store := newTestEngine(t, fullActivityYAML)
	ctx := context.Background()

	store.SetFilling("teacher-ref", domain.RubricFilling{"clarity": "high", "pacing": "good"})
	store.SetFilling("attempt-1", domain.RubricFilling{"clarity": "low", "pacing": "good"})
	store.SetFilling("attempt-2", domain.RubricFilling{"clarity": "high", "pacing": "good"})

	verdict, err := e.EvaluateTraining(ctx, domain.TrainingAttempt{
		Ref:         "attempt-2",
		TeacherRef:  "teacher-ref",
		HistoryRefs: []string{"attempt-1"},
	})
	require.NoError(t, err)
	assert.True(t, verdict.Passed)
	assert.Equal(t, []domain.CriterionID{"clarity", "pacing"}, verdict.PassedCriteria)
	assert.Equal(t, []domain.LevelID{"low"}, verdict.Criteria[0].History)
	assert.Contains(t, verdict.Table, "Result: Passed (2/2 criteria)")

	verdict, err = e.EvaluateTraining(ctx, domain.TrainingAttempt{Ref: "attempt-1", TeacherRef: "teacher-ref"})
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Equal(t, domain.CriterionFailed, verdict.Criteria[0].Status)

	verdict, err = e.EvaluateTraining(ctx, domain.TrainingAttempt{Ref: "missing", TeacherRef: "teacher-ref"})
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Equal(t, domain.CriterionPending, verdict.Criteria[0].Status)
}

func TestEngine_EvaluateTraining_NoRubric(t *testing.T) {
	e, _ := newTestEngine(t, minimalActivityYAML)
	_, err := e.EvaluateTraining(context.Background(), domain.TrainingAttempt{Ref: "a", TeacherRef: "b"})
	assert.ErrorIs(t, err, domain.ErrContractViolation)
}
