package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
)

// urgentEscalationWeight is the risk-weight floor above which a HIGH
// severity source signal escalates its recommendation to URGENT.
const urgentEscalationWeight = 2.5

// RecommendationGeneratorService turns risk signals and care gaps into
// ranked preventive-test suggestions. Guideline resolution and the
// not-yet-due filter happen upstream in the gap detector; the generator
// consumes that output and never re-queries the guidelines database.
type RecommendationGeneratorService struct {
	cfg config.GapConfig
	log *logrus.Logger
}

// NewRecommendationGeneratorService creates a new recommendation generator
func NewRecommendationGeneratorService(cfg config.GapConfig, logger *logrus.Logger) *RecommendationGeneratorService {
	return &RecommendationGeneratorService{
		cfg: cfg,
		log: logger,
	}
}

// Generate builds one recommendation per overdue gap, linked to every
// signal that concerns the same test, plus one per trend-derived signal
// whose parameter matches an overdue test. Output is sorted URGENT >
// HIGH > MODERATE > LOW, then by descending priority score, with a
// stable tie-break on test name.
func (g *RecommendationGeneratorService) Generate(ctx context.Context, profile domain.UserProfile, risk *domain.OverallRisk, gaps []domain.Gap, at time.Time) ([]domain.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if risk == nil {
		return nil, domain.NewEngineError(domain.ErrInvalidInput, "overall risk record is required", "")
	}

	recs := make([]domain.Recommendation, 0, len(gaps))

	for _, gap := range gaps {
		related, maxSev := g.signalsForTest(risk.Signals, gap.TestType)
		priority := escalate(priorityForSeverity(maxSev), maxSev, gap.RiskWeight)

		rec, err := g.build(
			gap.TestType,
			fmt.Sprintf("%s is overdue by %d days under guideline %s.", gap.TestType, gap.DaysOverdue, gap.GuidelineID),
			gap.FrequencyDays,
			priority,
			gap.PriorityScore,
			related,
			gap.GuidelineID,
			at,
		)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)

		for _, signal := range risk.Signals {
			if signal.Type != domain.TREND_SIGNAL || signal.Parameter != gap.TestType {
				continue
			}
			trendPriority := escalate(priorityForSeverity(signal.Severity), signal.Severity, gap.RiskWeight)
			trendRec, err := g.build(
				gap.TestType,
				fmt.Sprintf("Recent %s results show a worsening trend. A repeat test would confirm it.", gap.TestType),
				gap.FrequencyDays,
				trendPriority,
				gap.PriorityScore,
				[]string{signal.ID},
				gap.GuidelineID,
				at,
			)
			if err != nil {
				return nil, err
			}
			recs = append(recs, trendRec)
		}
	}

	sortRecommendations(recs)

	g.log.WithFields(logrus.Fields{
		"user_id":         profile.UserID,
		"gaps":            len(gaps),
		"recommendations": len(recs),
	}).Info("Recommendation generation completed")

	return recs, nil
}

// build constructs a recommendation and enforces its required fields.
// A missing field is a construction error, never a partial result.
func (g *RecommendationGeneratorService) build(testName, reason string, frequencyDays int, priority domain.Priority, score float64, related []string, guidelineID string, at time.Time) (domain.Recommendation, error) {
	frequency := humanizeFrequency(frequencyDays)
	if testName == "" || reason == "" || frequency == "" || priority == "" {
		return domain.Recommendation{}, domain.NewEngineError(
			domain.ErrInternal,
			"recommendation is missing a required field",
			fmt.Sprintf("test_name=%q frequency=%q", testName, frequency),
		)
	}
	return domain.Recommendation{
		ID:                   uuid.NewString(),
		TestName:             testName,
		Reason:               reason,
		Frequency:            frequency,
		Priority:             priority,
		PriorityScore:        score,
		RelatedRiskSignalIDs: related,
		GuidelineID:          guidelineID,
		CreatedAt:            at,
	}, nil
}

// signalsForTest collects the IDs of all signals concerning the given
// test type and the highest severity among them.
func (g *RecommendationGeneratorService) signalsForTest(signals []domain.RiskSignal, testType string) ([]string, domain.Severity) {
	ids := make([]string, 0)
	maxSev := domain.LOW_SEVERITY
	for _, s := range signals {
		if s.TestType != testType && s.Parameter != testType {
			continue
		}
		ids = append(ids, s.ID)
		if severityRank(s.Severity) > severityRank(maxSev) {
			maxSev = s.Severity
		}
	}
	return ids, maxSev
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.HIGH_SEVERITY:
		return 2
	case domain.MODERATE_SEVERITY:
		return 1
	default:
		return 0
	}
}

func priorityForSeverity(s domain.Severity) domain.Priority {
	switch s {
	case domain.HIGH_SEVERITY:
		return domain.HIGH_PRIORITY
	case domain.MODERATE_SEVERITY:
		return domain.MODERATE_PRIORITY
	default:
		return domain.LOW_PRIORITY
	}
}

// escalate raises a HIGH priority to URGENT when the test carries a
// risk weight at or above the escalation floor.
func escalate(p domain.Priority, sev domain.Severity, riskWeight float64) domain.Priority {
	if sev == domain.HIGH_SEVERITY && riskWeight >= urgentEscalationWeight {
		return domain.URGENT_PRIORITY
	}
	return p
}

func sortRecommendations(recs []domain.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority.Rank() != recs[j].Priority.Rank() {
			return recs[i].Priority.Rank() > recs[j].Priority.Rank()
		}
		if recs[i].PriorityScore != recs[j].PriorityScore {
			return recs[i].PriorityScore > recs[j].PriorityScore
		}
		return recs[i].TestName < recs[j].TestName
	})
}

// humanizeFrequency renders a guideline interval in patient-facing form
func humanizeFrequency(days int) string {
	switch {
	case days <= 0:
		return ""
	case days%365 == 0:
		years := days / 365
		if years == 1 {
			return "every 12 months"
		}
		return fmt.Sprintf("every %d years", years)
	case days >= 28:
		months := (days + 15) / 30
		if months == 1 {
			return "every month"
		}
		return fmt.Sprintf("every %d months", months)
	default:
		return fmt.Sprintf("every %d days", days)
	}
}
