package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preventive-health-engine/internal/audit"
	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
	"github.com/preventive-health-engine/internal/guidelines"
	"github.com/preventive-health-engine/internal/service"
	"github.com/preventive-health-engine/internal/timeline"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store := timeline.NewStore(log)
	resolver := guidelines.NewResolver(guidelines.NewStaticSource(guidelines.Baseline()), nil, log)

	trendCfg := config.TrendConfig{
		SmoothingWindow:       3,
		PValueThreshold:       0.05,
		RapidChangeWindowDays: 90,
		RapidChangeFraction:   0.20,
		ResidualCapSigma:      2.5,
		DefaultThreshold:      config.RateThreshold{Moderate: 0.01, High: 0.05},
	}
	gapCfg := config.GapConfig{
		RiskWeights: map[string]float64{
			"CANCER_SCREENING": 3.0,
			"DIABETES":         2.5,
			"CARDIOVASCULAR":   2.5,
			"GENERAL_WELLNESS": 1.0,
		},
		HighThreshold:     2.0,
		ModerateThreshold: 0.75,
	}
	aggCfg := config.AggregationConfig{
		AbsenceWeight:     0.4,
		TrendWeight:       0.3,
		FollowUpWeight:    0.2,
		DemographicWeight: 0.1,
		ConservativeScore: 75,
	}

	trends, err := service.NewTrendDetectorService(trendCfg, 16, log)
	require.NoError(t, err)

	store2, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	assessor := service.NewAssessorService(
		store,
		resolver,
		trends,
		service.NewGapDetectorService(resolver, gapCfg, log),
		service.NewRiskAggregatorService(aggCfg, log),
		service.NewRecommendationGeneratorService(gapCfg, log),
		service.NewExplanationBuilderService(config.ExplanationConfig{MaxGradeLevel: 8}, log),
		store2,
		nil,
		log,
	)

	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, "info", assessor, store, store2, log)
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_IngestAndAssess(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/datapoints", map[string]interface{}{
		"user_id":   "user-1",
		"parameter": "fasting_glucose",
		"value":     98.0,
		"unit":      "mg/dL",
		"date":      "2026-07-01",
		"source_id": "lab-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
		"user_id":    "user-1",
		"birth_date": "1974-03-10",
		"gender":     "MALE",
		"as_of":      "2026-08-26",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.AssessmentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "user-1", result.Risk.UserID)
	assert.Equal(t, int64(1), result.Risk.Version)
	assert.NotEmpty(t, result.Risk.Signals)
}

func TestServer_TimelineRoundTrip(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/datapoints", map[string]interface{}{
		"user_id":   "user-2",
		"parameter": "hba1c",
		"value":     5.6,
		"unit":      "%",
		"date":      "2026-06-15",
		"source_id": "lab-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/users/user-2/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hba1c")
}

func TestServer_UnknownUserTimelineIs404(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/users/nobody/timeline", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_InvalidDataPointRejected(t *testing.T) {
	server := newTestServer(t)

	// missing required fields
	rec := doJSON(t, server, http.MethodPost, "/api/v1/datapoints", map[string]interface{}{
		"user_id": "user-3",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed date
	rec = doJSON(t, server, http.MethodPost, "/api/v1/datapoints", map[string]interface{}{
		"user_id":   "user-3",
		"parameter": "hba1c",
		"value":     5.5,
		"date":      "15/06/2026",
		"source_id": "lab-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RiskHistoryAccumulates(t *testing.T) {
	server := newTestServer(t)

	body := map[string]interface{}{
		"user_id":   "user-4",
		"parameter": "lipid_panel",
		"value":     190.0,
		"unit":      "mg/dL",
		"date":      "2026-01-10",
		"source_id": "lab-1",
	}
	require.Equal(t, http.StatusCreated, doJSON(t, server, http.MethodPost, "/api/v1/datapoints", body).Code)

	assess := map[string]interface{}{
		"user_id":    "user-4",
		"birth_date": "1980-05-05",
		"gender":     "FEMALE",
		"as_of":      "2026-08-26",
	}
	require.Equal(t, http.StatusOK, doJSON(t, server, http.MethodPost, "/api/v1/assessments", assess).Code)
	require.Equal(t, http.StatusOK, doJSON(t, server, http.MethodPost, "/api/v1/assessments", assess).Code)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/users/user-4/risk/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		History []domain.OverallRisk `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.History, 2)
	assert.Equal(t, int64(1), payload.History[0].Version)
	assert.Equal(t, int64(2), payload.History[1].Version)
}
