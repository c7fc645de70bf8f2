package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	t.Run("zero value is ungraded", func(t *testing.T) {
		var s Score
		_, ok := s.Value()
		assert.False(t, ok)
		assert.Equal(t, 0.0, s.OrZero())
		assert.Equal(t, float64(UngradedRaw), s.Raw())
	})

	t.Run("graded zero differs from ungraded", func(t *testing.T) {
		zero := NewScore(0)
		assert.True(t, zero.Graded())
		assert.NotEqual(t, Ungraded(), zero)
		assert.Equal(t, 0.0, zero.Raw())
	})

	t.Run("raw mapping", func(t *testing.T) {
		assert.Equal(t, Ungraded(), ScoreFromRaw(-1))
		assert.Equal(t, NewScore(42), ScoreFromRaw(42))
	})

	t.Run("rounding is half away from zero", func(t *testing.T) {
		assert.Equal(t, NewScore(3), NewScore(2.5).Rounded())
		assert.Equal(t, NewScore(66), NewScore(65.5).Rounded())
		assert.Equal(t, NewScore(65), NewScore(65.49).Rounded())
		assert.Equal(t, Ungraded(), Ungraded().Rounded())
	})

	t.Run("json encodes ungraded as null", func(t *testing.T) {
		data, err := json.Marshal(map[string]Score{"a": Ungraded(), "b": NewScore(7.5)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":null,"b":7.5}`, string(data))

		var decoded map[string]Score
		require.NoError(t, json.Unmarshal([]byte(`{"a":null,"b":-1,"c":12}`), &decoded))
		assert.False(t, decoded["a"].Graded())
		assert.False(t, decoded["b"].Graded())
		assert.Equal(t, NewScore(12), decoded["c"])
	})
}

func TestValidateScore(t *testing.T) {
	tests := []struct {
		name    string
		score   Score
		wantErr bool
	}{
		{"ungraded", Ungraded(), false},
		{"lower bound", NewScore(0), false},
		{"upper bound", NewScore(100), false},
		{"negative", NewScore(-0.5), true},
		{"above max", NewScore(100.1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScore(tt.score)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrContractViolation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGradingArea(t *testing.T) {
	area := GradingArea{Timing: TimingBefore, RaterType: RaterPeer}
	assert.Equal(t, "before/peer", area.String())
	assert.NoError(t, area.Validate())

	err := GradingArea{Timing: "during", RaterType: RaterPeer}.Validate()
	assert.ErrorIs(t, err, ErrContractViolation)

	err = GradingArea{Timing: TimingAfter, RaterType: "peers"}.Validate()
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestSubmissionValidate(t *testing.T) {
	valid := Submission{
		Area:    GradingArea{Timing: TimingBefore, RaterType: RaterTeacher},
		Subject: "s1",
		Rater:   "t1",
		Score:   NewScore(80),
	}
	assert.NoError(t, valid.Validate())

	missingRater := valid
	missingRater.Rater = ""
	assert.ErrorIs(t, missingRater.Validate(), ErrContractViolation)

	outOfRange := valid
	outOfRange.Score = NewScore(120)
	assert.ErrorIs(t, outOfRange.Validate(), ErrContractViolation)
}

func TestFinalScoreFor(t *testing.T) {
	assert.Equal(t, 100.0, FinalScoreFor(95, 10, 10), "final score is capped at 100")
	assert.Equal(t, 66.0, FinalScoreFor(65.5, 0, 0))
	assert.Equal(t, 73.0, FinalScoreFor(65, 3, 5))
	assert.Equal(t, 0.0, FinalScoreFor(0, 0, 0))
}

func TestNewAggregatedGrade(t *testing.T) {
	ag := NewAggregatedGrade("s1", TimingAfter)
	require.Len(t, ag.Composites, len(AggregatedRaterTypes))
	for _, rt := range AggregatedRaterTypes {
		assert.False(t, ag.Composite(rt).Graded(), "%s should start ungraded", rt)
	}
	assert.False(t, ag.WeightedTotal.Graded())
	assert.False(t, ag.FinalScore.Graded())
}
