package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
)

// GapDetectorService finds guideline-recommended tests that are overdue
// for a user's demographics and timeline.
type GapDetectorService struct {
	resolver domain.GuidelineResolver
	cfg      config.GapConfig
	log      *logrus.Logger
}

// NewGapDetectorService creates a new gap detector
func NewGapDetectorService(resolver domain.GuidelineResolver, cfg config.GapConfig, logger *logrus.Logger) *GapDetectorService {
	return &GapDetectorService{
		resolver: resolver,
		cfg:      cfg,
		log:      logger,
	}
}

// Detect returns the user's gaps ordered by priority. The boolean is true
// when guideline resolution required relaxed matching. A user with no
// timeline data still produces gaps for every guideline that applies to
// their demographics.
func (g *GapDetectorService) Detect(ctx context.Context, profile domain.UserProfile, snapshot *domain.TimelineSnapshot, at time.Time) ([]domain.Gap, bool, error) {
	guidelines, approximate, err := g.resolver.Resolve(ctx, profile, at)
	if err != nil {
		var notFound *domain.GuidelineNotFoundError
		if errors.As(err, &notFound) {
			// No guideline applies even after relaxation. Absorbed:
			// the caller surfaces this as a note, not a failure.
			g.log.WithField("user_id", profile.UserID).Warn("No applicable guidelines for demographic")
			return nil, false, err
		}
		return nil, false, err
	}

	gaps := make([]domain.Gap, 0, len(guidelines))
	for _, guideline := range guidelines {
		gap, ok := g.evaluate(guideline, profile, snapshot, at)
		if ok {
			gaps = append(gaps, gap)
		}
	}

	sortGaps(gaps)

	g.log.WithFields(logrus.Fields{
		"user_id":     profile.UserID,
		"guidelines":  len(guidelines),
		"gaps":        len(gaps),
		"approximate": approximate,
	}).Debug("Gap detection completed")

	return gaps, approximate, nil
}

// evaluate computes the gap for one guideline, if any. With no prior test
// on record the first test is treated as due at the eligibility date, so
// days_overdue counts from there (demographic-only baseline gap).
func (g *GapDetectorService) evaluate(guideline domain.Guideline, profile domain.UserProfile, snapshot *domain.TimelineSnapshot, at time.Time) (domain.Gap, bool) {
	var daysOverdue int
	note := ""

	if snapshot != nil {
		if last, found := snapshot.LastOccurrence(guideline.TestType); found {
			daysOverdue = daysBetween(last, at) - guideline.FrequencyDays
			if daysOverdue <= 0 {
				return domain.Gap{}, false
			}
			return g.buildGap(guideline, daysOverdue, note), true
		}
	}

	eligibility := profile.BirthdayAt(guideline.StartAge)
	if eligibility.After(at) {
		return domain.Gap{}, false
	}
	daysOverdue = daysBetween(eligibility, at)
	if daysOverdue <= 0 {
		return domain.Gap{}, false
	}
	note = "no prior test on record; overdue since first eligibility"
	return g.buildGap(guideline, daysOverdue, note), true
}

func (g *GapDetectorService) buildGap(guideline domain.Guideline, daysOverdue int, note string) domain.Gap {
	weight := g.riskWeight(guideline.Category)
	score := float64(daysOverdue) / float64(guideline.FrequencyDays) * weight

	return domain.Gap{
		TestType:      guideline.TestType,
		Category:      guideline.Category,
		GuidelineID:   guideline.ID,
		DaysOverdue:   daysOverdue,
		FrequencyDays: guideline.FrequencyDays,
		RiskWeight:    weight,
		PriorityScore: score,
		Priority:      g.priorityTier(score),
		Note:          note,
	}
}

// riskWeight looks up the configured weight for a test category. Unknown
// categories weigh 1.0, the general-wellness baseline.
func (g *GapDetectorService) riskWeight(category domain.TestCategory) float64 {
	if w, ok := g.cfg.RiskWeights[category.String()]; ok {
		return w
	}
	return 1.0
}

func (g *GapDetectorService) priorityTier(score float64) domain.Severity {
	switch {
	case score >= g.cfg.HighThreshold:
		return domain.HIGH_SEVERITY
	case score >= g.cfg.ModerateThreshold:
		return domain.MODERATE_SEVERITY
	default:
		return domain.LOW_SEVERITY
	}
}

// sortGaps orders gaps descending by priority score, ties broken by risk
// weight then days overdue, both descending.
func sortGaps(gaps []domain.Gap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].PriorityScore != gaps[j].PriorityScore {
			return gaps[i].PriorityScore > gaps[j].PriorityScore
		}
		if gaps[i].RiskWeight != gaps[j].RiskWeight {
			return gaps[i].RiskWeight > gaps[j].RiskWeight
		}
		return gaps[i].DaysOverdue > gaps[j].DaysOverdue
	})
}

// daysBetween returns the exact number of calendar days from a to b.
// Both are normalized to UTC dates first.
func daysBetween(a, b time.Time) int {
	aDate := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bDate := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bDate.Sub(aDate).Hours() / 24)
}
