package service

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
)

func testAggregationConfig() config.AggregationConfig {
	return config.AggregationConfig{
		AbsenceWeight:     0.4,
		TrendWeight:       0.3,
		FollowUpWeight:    0.2,
		DemographicWeight: 0.1,
		ConservativeScore: 75.0,
	}
}

func newAggregator() *RiskAggregatorService {
	return NewRiskAggregatorService(testAggregationConfig(), quietLogger())
}

func signalOf(id string, st domain.SignalType, score float64) domain.RiskSignal {
	return domain.RiskSignal{
		ID:       id,
		UserID:   "user-1",
		Type:     st,
		Score:    score,
		Severity: SeverityForScore(score),
	}
}

func TestAggregate_WeightedCombination(t *testing.T) {
	agg := newAggregator()

	signals := []domain.RiskSignal{
		signalOf("s-trend", domain.TREND_SIGNAL, 40),
		signalOf("s-absence", domain.ABSENCE_SIGNAL, 80),
	}

	risk, err := agg.Aggregate(context.Background(), "user-1", 1, signals, 0)
	require.NoError(t, err)

	// 0.4*80 + 0.3*40 + 0.2*0 + 0.1*0
	assert.InDelta(t, 44.0, risk.RiskScore, 1e-9)
	assert.Equal(t, domain.MODERATE_SEVERITY, risk.Severity)
	assert.Equal(t, 80.0, risk.Factors.Absence)
	assert.Equal(t, 40.0, risk.Factors.Trend)
	assert.Zero(t, risk.Factors.FollowUp)
	assert.Zero(t, risk.Factors.Demographic)
}

func TestAggregate_MissingFactorsContributeZero(t *testing.T) {
	agg := newAggregator()

	risk, err := agg.Aggregate(context.Background(), "user-1", 1, nil, 50)
	require.NoError(t, err)

	// only the demographic term is nonzero
	assert.InDelta(t, 5.0, risk.RiskScore, 1e-9)
	assert.Equal(t, domain.LOW_SEVERITY, risk.Severity)
	assert.Empty(t, risk.Signals)
}

func TestAggregate_MaxPerFactor(t *testing.T) {
	agg := newAggregator()

	signals := []domain.RiskSignal{
		signalOf("s-1", domain.ABSENCE_SIGNAL, 30),
		signalOf("s-2", domain.ABSENCE_SIGNAL, 90),
		signalOf("s-3", domain.ABSENCE_SIGNAL, 60),
	}

	risk, err := agg.Aggregate(context.Background(), "user-1", 1, signals, 0)
	require.NoError(t, err)

	assert.Equal(t, 90.0, risk.Factors.Absence)
	assert.Len(t, risk.Signals, 3, "every contributing signal stays in the evidence")
}

func TestAggregate_OrderIndependent(t *testing.T) {
	agg := newAggregator()

	forward := []domain.RiskSignal{
		signalOf("s-1", domain.ABSENCE_SIGNAL, 70),
		signalOf("s-2", domain.TREND_SIGNAL, 55),
		signalOf("s-3", domain.FOLLOW_UP_SIGNAL, 20),
		signalOf("s-4", domain.TREND_SIGNAL, 35),
	}
	reversed := make([]domain.RiskSignal, len(forward))
	for i, s := range forward {
		reversed[len(forward)-1-i] = s
	}

	a, err := agg.Aggregate(context.Background(), "user-1", 1, forward, 15)
	require.NoError(t, err)
	b, err := agg.Aggregate(context.Background(), "user-1", 1, reversed, 15)
	require.NoError(t, err)

	assert.Equal(t, a.RiskScore, b.RiskScore)
	assert.Equal(t, a.Severity, b.Severity)
	assert.Equal(t, a.Factors, b.Factors)
}

func TestAggregate_TierBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  domain.Severity
	}{
		{"zero", 0, domain.LOW_SEVERITY},
		{"just below moderate", 29.999, domain.LOW_SEVERITY},
		{"moderate boundary inclusive", 30.0, domain.MODERATE_SEVERITY},
		{"just below high", 59.999, domain.MODERATE_SEVERITY},
		{"high boundary inclusive", 60.0, domain.HIGH_SEVERITY},
		{"ceiling", 100.0, domain.HIGH_SEVERITY},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityForScore(tt.score))
		})
	}
}

func TestAggregate_InvalidScoreSubstitutesConservative(t *testing.T) {
	agg := newAggregator()

	signals := []domain.RiskSignal{
		signalOf("s-bad", domain.TREND_SIGNAL, math.NaN()),
	}

	risk, err := agg.Aggregate(context.Background(), "user-1", 1, signals, 0)
	require.NoError(t, err)

	assert.Equal(t, 75.0, risk.Factors.Trend)
	require.NotEmpty(t, risk.Notes)
	assert.Contains(t, risk.Notes[0], "Flagged for review")
}

func TestAggregate_OutOfRangeDemographicSubstituted(t *testing.T) {
	agg := newAggregator()

	risk, err := agg.Aggregate(context.Background(), "user-1", 1, nil, 250)
	require.NoError(t, err)

	assert.Equal(t, 75.0, risk.Factors.Demographic)
	assert.NotEmpty(t, risk.Notes)
}

func TestAggregate_CancelledContext(t *testing.T) {
	agg := newAggregator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Aggregate(ctx, "user-1", 1, nil, 0)
	assert.Error(t, err)
}

func TestAggregate_VersionAndIdentityPropagate(t *testing.T) {
	agg := newAggregator()

	risk, err := agg.Aggregate(context.Background(), "user-7", 12, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "user-7", risk.UserID)
	assert.Equal(t, int64(12), risk.Version)
	assert.NotEmpty(t, risk.ID)
	assert.False(t, risk.CreatedAt.IsZero())
}
