package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
)

// RiskAggregatorService combines risk signals into a versioned overall
// risk record using injectable factor weights.
type RiskAggregatorService struct {
	cfg config.AggregationConfig
	log *logrus.Logger
}

// NewRiskAggregatorService creates a new risk aggregator
func NewRiskAggregatorService(cfg config.AggregationConfig, logger *logrus.Logger) *RiskAggregatorService {
	return &RiskAggregatorService{
		cfg: cfg,
		log: logger,
	}
}

// Aggregate combines the signals into one OverallRisk. Every signal is
// carried in the record's evidence, no drops. Each factor takes the
// maximum severity score among its signals, so the result is invariant
// under permutation of the input. A missing factor contributes zero to
// its term; absence of data is not treated as absence of risk elsewhere.
func (r *RiskAggregatorService) Aggregate(ctx context.Context, userID string, version int64, signals []domain.RiskSignal, demographic float64) (*domain.OverallRisk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	notes := make([]string, 0)

	factors := domain.FactorScores{
		Demographic: r.sanitize(demographic, "demographic", &notes),
	}
	for _, signal := range signals {
		score := r.sanitize(signal.Score, string(signal.Type), &notes)
		switch signal.Type {
		case domain.ABSENCE_SIGNAL:
			factors.Absence = math.Max(factors.Absence, score)
		case domain.TREND_SIGNAL:
			factors.Trend = math.Max(factors.Trend, score)
		case domain.FOLLOW_UP_SIGNAL:
			factors.FollowUp = math.Max(factors.FollowUp, score)
		}
	}

	overall := r.cfg.AbsenceWeight*factors.Absence +
		r.cfg.TrendWeight*factors.Trend +
		r.cfg.FollowUpWeight*factors.FollowUp +
		r.cfg.DemographicWeight*factors.Demographic

	kept := make([]domain.RiskSignal, len(signals))
	copy(kept, signals)

	risk := &domain.OverallRisk{
		ID:        uuid.NewString(),
		UserID:    userID,
		Version:   version,
		RiskScore: overall,
		Severity:  SeverityForScore(overall),
		Factors:   factors,
		Signals:   kept,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}

	r.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"version":    version,
		"risk_score": overall,
		"severity":   risk.Severity.String(),
		"signals":    len(signals),
	}).Info("Risk aggregation completed")

	return risk, nil
}

// sanitize validates a factor score. Invalid numeric input is a
// CalculationFailure: it is logged, replaced with the conservative
// higher-than-computed estimate, and flagged for review in the notes.
func (r *RiskAggregatorService) sanitize(score float64, factor string, notes *[]string) float64 {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 100 {
		failure := &domain.CalculationFailureError{
			Stage:  "aggregation",
			Reason: fmt.Sprintf("invalid %s score %v", factor, score),
		}
		r.log.WithError(failure).Warn("Substituting conservative risk estimate")
		*notes = append(*notes, fmt.Sprintf(
			"The %s score could not be computed reliably. A cautious estimate was used instead. Flagged for review.",
			factor))
		return r.cfg.ConservativeScore
	}
	return score
}

// SeverityForScore maps a [0,100] score to its severity tier. Boundaries
// are inclusive on the lower end: 30.0 is MODERATE, 60.0 is HIGH.
func SeverityForScore(score float64) domain.Severity {
	switch {
	case score >= 60:
		return domain.HIGH_SEVERITY
	case score >= 30:
		return domain.MODERATE_SEVERITY
	default:
		return domain.LOW_SEVERITY
	}
}
