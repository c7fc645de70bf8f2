package application

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

const fullActivityYAML = `
version: "1.0.0"
metadata:
  name: video-review
  description: Peer review of recorded lessons
grading:
  timings: [Before]
  weights:
    Teacher: 80
    peer: 20
  fairness_bonus: true
  bonus_max_percent: 10
  total_possible_points: 100
  completion:
    enabled: true
    pass_threshold: 50
peers: 2
bonus_scale:
  - threshold: 10
    percent: 100
  - threshold: 30
    percent: 50
training:
  accepted_difference_percent: 25
  rubric:
    id: lesson
    criteria:
      - id: clarity
        levels:
          - {id: low, score: 0}
          - {id: mid, score: 2}
          - {id: high, score: 4}
      - id: pacing
        levels:
          - {id: slow, score: 0}
          - {id: good, score: 4}
`

const minimalActivityYAML = `
version: "1.0.0"
metadata:
  name: minimal
`

func newLoader(t *testing.T) *ActivityLoader {
	t.Helper()
	l, err := NewActivityLoader()
	require.NoError(t, err)
	return l
}

func TestActivityLoader_Load(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		verify  func(t *testing.T, a *Activity)
	}{
		{
			name: "full config with case-folded names",
			yaml: fullActivityYAML,
			verify: func(t *testing.T, a *Activity) {
				assert.Equal(t, "video-review", a.Name())
				assert.Equal(t, []domain.Timing{domain.TimingBefore}, a.Config.Grading.Timings)
				assert.Equal(t, map[domain.RaterType]float64{
					domain.RaterTeacher: 80,
					domain.RaterPeer:    20,
				}, a.Config.Grading.Weights)
				assert.True(t, a.Config.Grading.FairnessBonus)
				assert.Equal(t, 2, a.Config.Peers.N())
				assert.Equal(t, 2, a.Scale.Len())
				assert.Equal(t, 25.0, a.ComparatorConfig().AcceptedDifferencePercent)
				require.NotNil(t, a.Config.Training.Rubric)
				assert.Len(t, a.Config.Training.Rubric.Criteria, 2)
				assert.Len(t, a.Hash, 64)
			},
		},
		{
			name: "defaults",
			yaml: minimalActivityYAML,
			verify: func(t *testing.T, a *Activity) {
				assert.Equal(t, domain.Timings, a.Config.Grading.Timings)
				assert.Equal(t, 100.0, a.Config.Grading.Weights[domain.RaterTeacher])
				assert.Equal(t, 100.0, a.Config.Grading.TotalPossiblePoints)
				assert.Equal(t, 10.0, a.Config.Grading.BonusMaxPercent)
				assert.Equal(t, 3, a.Config.Peers.N())
				assert.Equal(t, domain.DefaultBonusScale().Tiers(), a.Scale.Tiers())
				assert.Equal(t, 20.0, a.Config.Training.AcceptedDifferencePercent)
				assert.Nil(t, a.Config.Training.Rubric)
			},
		},
		{
			name: "unlimited peers",
			yaml: minimalActivityYAML + "peers: unlimited\n",
			verify: func(t *testing.T, a *Activity) {
				assert.True(t, a.Config.Peers.Unlimited())
			},
		},
		{
			name:    "unknown field",
			yaml:    minimalActivityYAML + "peer_count: 3\n",
			wantErr: "peer_count",
		},
		{
			name:    "misspelled rater type",
			yaml:    minimalActivityYAML + "grading:\n  weights:\n    peeer: 10\n",
			wantErr: `did you mean "peer"`,
		},
		{
			name:    "misspelled timing",
			yaml:    minimalActivityYAML + "grading:\n  timings: [befor]\n",
			wantErr: `did you mean "before"`,
		},
		{
			name:    "training is not aggregated",
			yaml:    minimalActivityYAML + "grading:\n  weights:\n    training: 10\n",
			wantErr: "unknown rater type",
		},
		{
			name:    "zero weight sum",
			yaml:    minimalActivityYAML + "grading:\n  weights:\n    teacher: 0\n    peer: 0\n",
			wantErr: "sum to a positive value",
		},
		{
			name:    "negative weight",
			yaml:    minimalActivityYAML + "grading:\n  weights:\n    teacher: 100\n    peer: -5\n",
			wantErr: "gte",
		},
		{
			name:    "duplicate timing",
			yaml:    minimalActivityYAML + "grading:\n  timings: [before, Before]\n",
			wantErr: "duplicate timing",
		},
		{
			name: "increasing bonus scale",
			yaml: minimalActivityYAML + `bonus_scale:
  - {threshold: 10, percent: 20}
  - {threshold: 20, percent: 80}
`,
			wantErr: "nonincreasing",
		},
		{
			name:    "negative peers",
			yaml:    minimalActivityYAML + "peers: -1\n",
			wantErr: "negative peer count",
		},
		{
			name:    "bad version",
			yaml:    strings.Replace(minimalActivityYAML, `"1.0.0"`, `"one"`, 1),
			wantErr: "semver",
		},
		{
			name: "rubric criterion without levels",
			yaml: minimalActivityYAML + `training:
  rubric:
    id: r
    criteria:
      - id: clarity
        levels: []
`,
			wantErr: "Levels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := newLoader(t).LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.verify(t, a)
		})
	}
}

func TestActivityLoader_Cache(t *testing.T) {
	l := newLoader(t)

	first, err := l.LoadFromReader(strings.NewReader(fullActivityYAML))
	require.NoError(t, err)

	// Same policy, different formatting and name case.
	reformatted := strings.ReplaceAll(fullActivityYAML, "Teacher: 80", "teacher:   80")
	second, err := l.LoadFromReader(strings.NewReader(reformatted))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, l.CacheSize())

	_, err = l.LoadFromReader(strings.NewReader(minimalActivityYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, l.CacheSize())

	l.ClearCache()
	assert.Equal(t, 0, l.CacheSize())
}

func TestActivityLoader_ConcurrentLoads(t *testing.T) {
	l := newLoader(t)

	const n = 16
	results := make([]*Activity, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := l.LoadFromReader(strings.NewReader(fullActivityYAML))
			assert.NoError(t, err)
			results[i] = a
		}()
	}
	wg.Wait()

	for _, a := range results[1:] {
		assert.Same(t, results[0], a)
	}
	assert.Equal(t, 1, l.CacheSize())
}

func TestActivityLoader_LoadFromFile(t *testing.T) {
	l := newLoader(t)

	path := filepath.Join(t.TempDir(), "activity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullActivityYAML), 0o600))

	a, err := l.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video-review", a.Name())

	_, err = l.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ports.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)
}
