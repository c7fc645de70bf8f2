package application

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/go-peergrade/infrastructure/gradebook"
	"github.com/ahrav/go-peergrade/infrastructure/middleware"
	"github.com/ahrav/go-peergrade/infrastructure/storage/sqlstore"
	"github.com/ahrav/go-peergrade/internal/domain"
)

// TestEngine_SQLStoreEndToEnd runs the full grading flow against an
// in-memory SQLite store with the standard grade-book chain and Prometheus
// metrics attached.
func TestEngine_SQLStoreEndToEnd(t *testing.T) {
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(reg)

	cfg := gradebook.DefaultConfig()
	cfg.RatePerSecond = 0
	ledger, err := gradebook.New(store, cfg, metrics)
	require.NoError(t, err)

	doc := strings.Replace(fullActivityYAML, "peers: 2", "peers: unlimited", 1)
	e, err := NewEngine(loadActivity(t, doc), EngineDeps{
		Store:      store,
		Gradebook:  ledger,
		Completion: store,
	},
		WithMetrics(metrics),
		WithObserver(middleware.NewOTelObserver(metrics, noop.NewTracerProvider())),
		WithRand(rand.New(rand.NewPCG(3, 3))),
	)
	require.NoError(t, err)

	students := []domain.ParticipantID{"s1", "s2", "s3", "s4"}
	state, err := e.RandomizePeers(ctx, domain.NewAssignmentState("course", students))
	require.NoError(t, err)
	reviewers := state.ReviewersOf("s1")
	require.Equal(t, []domain.ParticipantID{"s2", "s3", "s4"}, reviewers)

	_, err = e.SubmitGrade(ctx, submission(domain.TimingBefore, domain.RaterTeacher, "s1", "t1", 80))
	require.NoError(t, err)
	for i, reviewer := range reviewers {
		_, err = e.SubmitGrade(ctx, submission(domain.TimingBefore, domain.RaterPeer, "s1", reviewer, float64(50+10*i)))
		require.NoError(t, err)
	}

	rec, err := store.FetchAggregatedGrade(ctx, "s1", domain.TimingBefore)
	require.NoError(t, err)
	assert.Equal(t, domain.NewScore(60), rec.Composite(domain.RaterPeer))
	assert.Equal(t, domain.NewScore(76), rec.WeightedTotal)
	assert.Equal(t, 5.0, rec.FairnessBonus)
	assert.Equal(t, domain.NewScore(81), rec.FinalScore)

	entries, err := store.Ledger(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, 64.0, entries[0].RawScore)
	assert.Equal(t, 76.0, entries[3].RawScore)

	done, err := store.Completed(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, done)

	recomputed, err := e.RecomputeCohort(ctx, students)
	require.NoError(t, err)
	assert.Equal(t, rec, recomputed["s1"][0])

	// Dropping s4 from the cohort revokes its review of s1.
	_, err = e.RandomizePeers(ctx, state.WithStudents(students[:3]))
	require.NoError(t, err)
	peers, err := store.FetchGrades(ctx, "s1", domain.GradingArea{Timing: domain.TimingBefore, RaterType: domain.RaterPeer})
	require.NoError(t, err)
	assert.Len(t, peers, 2)

	for _, name := range []string{
		"peergrade_aggregations_total",
		"peergrade_operations_total",
		"peergrade_final_score",
	} {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Positive(t, n, name)
	}
}
