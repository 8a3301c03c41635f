package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
	"github.com/preventive-health-engine/internal/guidelines"
	"github.com/preventive-health-engine/internal/timeline"
)

type memoryAudit struct {
	mu    sync.Mutex
	saved []domain.AssessmentResult
}

func (m *memoryAudit) SaveAssessment(_ context.Context, result *domain.AssessmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *result)
	return nil
}

func (m *memoryAudit) LatestVersion(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest int64
	for _, r := range m.saved {
		if r.Risk.UserID == userID && r.Risk.Version > latest {
			latest = r.Risk.Version
		}
	}
	return latest, nil
}

func (m *memoryAudit) RiskHistory(_ context.Context, userID string) ([]domain.OverallRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OverallRisk, 0)
	for _, r := range m.saved {
		if r.Risk.UserID == userID {
			out = append(out, r.Risk)
		}
	}
	return out, nil
}

func (m *memoryAudit) Close() error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) NotifyFollowUpDue(_ context.Context, _ string, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type assessorFixture struct {
	assessor *AssessorService
	store    *timeline.Store
	audit    *memoryAudit
	notifier *recordingNotifier
}

func newAssessorFixture(t *testing.T) *assessorFixture {
	t.Helper()
	log := quietLogger()

	store := timeline.NewStore(log)
	resolver := guidelines.NewResolver(guidelines.NewStaticSource(guidelines.Baseline()), nil, log)
	trends, err := NewTrendDetectorService(testTrendConfig(), 16, log)
	require.NoError(t, err)

	audit := &memoryAudit{}
	notifier := &recordingNotifier{}

	assessor := NewAssessorService(
		store,
		resolver,
		trends,
		NewGapDetectorService(resolver, testGapConfig(), log),
		NewRiskAggregatorService(testAggregationConfig(), log),
		NewRecommendationGeneratorService(testGapConfig(), log),
		NewExplanationBuilderService(config.ExplanationConfig{MaxGradeLevel: 8}, log),
		audit,
		notifier,
		log,
	)
	return &assessorFixture{assessor: assessor, store: store, audit: audit, notifier: notifier}
}

func middleAgedProfile() domain.UserProfile {
	return domain.UserProfile{
		UserID:      "user-1",
		BirthDate:   time.Date(1974, 3, 10, 0, 0, 0, 0, time.UTC),
		Gender:      domain.MALE,
		RiskFactors: []string{"diabetes_risk"},
	}
}

func ingestRisingHbA1c(t *testing.T, store *timeline.Store, userID string, at time.Time) {
	t.Helper()
	values := []float64{5.5, 5.6, 5.8, 6.0, 6.3}
	for i, v := range values {
		require.NoError(t, store.AddDataPoint(domain.DataPoint{
			UserID:    userID,
			Parameter: "hba1c",
			Value:     v,
			Unit:      "%",
			Date:      at.AddDate(0, i-4, 0),
			SourceID:  "lab-1",
		}))
	}
}

func TestAssess_FullPipeline(t *testing.T) {
	at := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	f := newAssessorFixture(t)
	profile := middleAgedProfile()

	ingestRisingHbA1c(t, f.store, profile.UserID, at)

	result, err := f.assessor.Assess(context.Background(), profile, at)
	require.NoError(t, err)

	// decades of missing screenings plus a significant rise in hba1c
	assert.Equal(t, domain.HIGH_SEVERITY, result.Risk.Severity)
	assert.GreaterOrEqual(t, result.Risk.RiskScore, 60.0)
	assert.Equal(t, int64(1), result.Risk.Version)

	var trendSignals, absenceSignals int
	for _, s := range result.Risk.Signals {
		switch s.Type {
		case domain.TREND_SIGNAL:
			trendSignals++
			assert.Equal(t, "hba1c", s.Parameter)
		case domain.ABSENCE_SIGNAL:
			absenceSignals++
		}
	}
	assert.Equal(t, 1, trendSignals)
	// fasting glucose, lipid panel, blood pressure, colonoscopy, wellness
	assert.Equal(t, 5, absenceSignals)

	require.NotEmpty(t, result.Recommendations)
	assert.Equal(t, domain.URGENT_PRIORITY, result.Recommendations[0].Priority)

	require.NotEmpty(t, result.Explanations)
	for _, exp := range result.Explanations {
		assert.NotEmpty(t, exp.Citations)
		assert.Contains(t, exp.Disclaimer, "not a substitute for professional medical advice")
	}

	require.Len(t, f.audit.saved, 1)
}

func TestAssess_VersionIncrementsPerRun(t *testing.T) {
	at := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	f := newAssessorFixture(t)
	profile := middleAgedProfile()

	ingestRisingHbA1c(t, f.store, profile.UserID, at)

	first, err := f.assessor.Assess(context.Background(), profile, at)
	require.NoError(t, err)
	second, err := f.assessor.Assess(context.Background(), profile, at)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Risk.Version)
	assert.Equal(t, int64(2), second.Risk.Version)

	history, err := f.audit.RiskHistory(context.Background(), profile.UserID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAssess_ConflictingValuesNoted(t *testing.T) {
	at := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	f := newAssessorFixture(t)
	profile := middleAgedProfile()

	date := at.AddDate(0, -1, 0)
	require.NoError(t, f.store.AddDataPoint(domain.DataPoint{
		UserID: profile.UserID, Parameter: "fasting_glucose", Value: 98, Unit: "mg/dL",
		Date: date, SourceID: "lab-1",
	}))
	require.NoError(t, f.store.AddDataPoint(domain.DataPoint{
		UserID: profile.UserID, Parameter: "fasting_glucose", Value: 104, Unit: "mg/dL",
		Date: date, SourceID: "lab-2",
	}))

	result, err := f.assessor.Assess(context.Background(), profile, at)
	require.NoError(t, err)

	found := false
	for _, note := range result.Notes {
		if strings.Contains(note, "fasting_glucose") && strings.Contains(note, "most recent") {
			found = true
		}
	}
	assert.True(t, found, "conflict note missing: %v", result.Notes)
}

func TestAssess_FollowUpDueProducesSignalAndNotification(t *testing.T) {
	at := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	f := newAssessorFixture(t)
	profile := middleAgedProfile()

	require.NoError(t, f.store.AddEvent(domain.Event{
		UserID:   profile.UserID,
		Type:     domain.FOLLOW_UP_DUE_EVENT,
		TestType: "colonoscopy",
		Date:     at.AddDate(0, 0, -30),
	}))

	result, err := f.assessor.Assess(context.Background(), profile, at)
	require.NoError(t, err)

	var followUps int
	for _, s := range result.Risk.Signals {
		if s.Type == domain.FOLLOW_UP_SIGNAL {
			followUps++
			assert.Equal(t, "colonoscopy", s.TestType)
		}
	}
	assert.Equal(t, 1, followUps)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "colonoscopy", f.notifier.events[0].TestType)
}

func TestAssess_UnknownUserFails(t *testing.T) {
	f := newAssessorFixture(t)

	_, err := f.assessor.Assess(context.Background(), domain.UserProfile{
		UserID:    "ghost",
		BirthDate: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:    domain.FEMALE,
	}, time.Now().UTC())

	assert.True(t, domain.IsNotFound(err))
}

func TestAssess_InsufficientHistoryBecomesNote(t *testing.T) {
	at := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	f := newAssessorFixture(t)
	profile := middleAgedProfile()

	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.AddDataPoint(domain.DataPoint{
			UserID: profile.UserID, Parameter: "hba1c", Value: 5.5 + float64(i)/10, Unit: "%",
			Date: at.AddDate(0, i-2, 0), SourceID: "lab-1",
		}))
	}

	result, err := f.assessor.Assess(context.Background(), profile, at)
	require.NoError(t, err)

	found := false
	for _, note := range result.Notes {
		if strings.Contains(note, "Not enough") && strings.Contains(note, "hba1c") {
			found = true
		}
	}
	assert.True(t, found, "insufficient-history note missing: %v", result.Notes)

	for _, s := range result.Risk.Signals {
		assert.NotEqual(t, domain.TREND_SIGNAL, s.Type)
	}
}

func TestDemographicRiskScore(t *testing.T) {
	at := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		profile domain.UserProfile
		want    float64
	}{
		{
			name:    "young no risk factors",
			profile: domain.UserProfile{BirthDate: at.AddDate(-30, 0, 0)},
			want:    10,
		},
		{
			name:    "forties",
			profile: domain.UserProfile{BirthDate: at.AddDate(-45, 0, 0)},
			want:    25,
		},
		{
			name:    "fifties with one risk factor",
			profile: domain.UserProfile{BirthDate: at.AddDate(-52, 0, 0), RiskFactors: []string{"diabetes_risk"}},
			want:    50,
		},
		{
			name:    "senior",
			profile: domain.UserProfile{BirthDate: at.AddDate(-70, 0, 0)},
			want:    55,
		},
		{
			name: "capped at 100",
			profile: domain.UserProfile{
				BirthDate:   at.AddDate(-70, 0, 0),
				RiskFactors: []string{"a", "b", "c", "d", "e"},
			},
			want: 100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DemographicRiskScore(tt.profile, at))
		})
	}
}
