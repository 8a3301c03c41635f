package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/preventive-health-engine/internal/domain"
)

// AssessorService runs one full assessment: snapshot, concurrent trend
// detection, gap detection, signal construction, aggregation,
// recommendations, explanations, and the final append-only publish.
// Each run computes from an immutable snapshot and owns its derived
// values; nothing is shared across runs.
type AssessorService struct {
	store      domain.TimelineStore
	resolver   domain.GuidelineResolver
	trends     *TrendDetectorService
	gaps       domain.GapDetector
	aggregator domain.RiskAggregator
	recommend  domain.RecommendationGenerator
	explain    domain.ExplanationBuilder
	audit      domain.AssessmentStore
	notifier   domain.Notifier
	log        *logrus.Logger
}

// NewAssessorService creates a new assessor
func NewAssessorService(
	store domain.TimelineStore,
	resolver domain.GuidelineResolver,
	trends *TrendDetectorService,
	gaps domain.GapDetector,
	aggregator domain.RiskAggregator,
	recommend domain.RecommendationGenerator,
	explain domain.ExplanationBuilder,
	audit domain.AssessmentStore,
	notifier domain.Notifier,
	logger *logrus.Logger,
) *AssessorService {
	return &AssessorService{
		store:      store,
		resolver:   resolver,
		trends:     trends,
		gaps:       gaps,
		aggregator: aggregator,
		recommend:  recommend,
		explain:    explain,
		audit:      audit,
		notifier:   notifier,
		log:        logger,
	}
}

// Assess runs the pipeline for one user at the given reference time and
// publishes the finalized result. Detection-layer issues (insufficient
// data, conflicting values, missing guidelines) become notes on the
// result; structural failures abort the run.
func (a *AssessorService) Assess(ctx context.Context, profile domain.UserProfile, at time.Time) (*domain.AssessmentResult, error) {
	start := time.Now()

	snapshot, err := a.store.Snapshot(profile.UserID)
	if err != nil {
		return nil, err
	}

	notes := make([]string, 0)
	clean, conflicts := resolveConflicts(snapshot)
	for _, c := range conflicts {
		a.log.WithError(c).Warn("Conflicting timeline values, preferring most recent")
		notes = append(notes, fmt.Sprintf(
			"Two values were recorded for %s on %s. The most recent one was used.",
			c.Parameter, c.Date.Format("2006-01-02")))
	}

	version, err := a.nextVersion(ctx, profile.UserID)
	if err != nil {
		return nil, err
	}

	trends, trendNotes, err := a.detectTrends(ctx, clean)
	if err != nil {
		return nil, err
	}
	notes = append(notes, trendNotes...)

	guidelineRefs := a.resolveRefs(ctx, profile, at)

	gaps, approximate, err := a.gaps.Detect(ctx, profile, clean, at)
	if err != nil {
		var gnf *domain.GuidelineNotFoundError
		if !errors.As(err, &gnf) {
			return nil, err
		}
		notes = append(notes, "No screening guideline matched this profile. Gap detection was skipped.")
		gaps = nil
	}
	if approximate {
		notes = append(notes, "Some guidelines were matched approximately. Results may be less precise.")
	}

	signals := a.buildSignals(profile, clean, trends, gaps, guidelineRefs, at)
	demographic := DemographicRiskScore(profile, at)

	risk, err := a.aggregator.Aggregate(ctx, profile.UserID, version, signals, demographic)
	if err != nil {
		return nil, err
	}
	risk.Notes = append(risk.Notes, notes...)

	recommendations, err := a.recommend.Generate(ctx, profile, risk, gaps, at)
	if err != nil {
		return nil, err
	}

	explanations, explainNotes := a.buildExplanations(signals, recommendations)
	risk.Notes = append(risk.Notes, explainNotes...)

	result := &domain.AssessmentResult{
		Risk:            *risk,
		Recommendations: recommendations,
		Explanations:    explanations,
		Notes:           risk.Notes,
		ProcessingTime:  time.Since(start),
		Timestamp:       at,
	}

	if err := a.audit.SaveAssessment(ctx, result); err != nil {
		return nil, domain.NewEngineError(domain.ErrStorage, "failed to persist assessment", err.Error())
	}

	a.dispatchFollowUps(ctx, profile.UserID, clean, at)

	a.log.WithFields(logrus.Fields{
		"user_id":         profile.UserID,
		"version":         version,
		"risk_score":      risk.RiskScore,
		"severity":        risk.Severity.String(),
		"signals":         len(signals),
		"recommendations": len(recommendations),
		"duration_ms":     time.Since(start).Milliseconds(),
	}).Info("Assessment completed")

	return result, nil
}

// nextVersion derives the version for this run from the audit store.
func (a *AssessorService) nextVersion(ctx context.Context, userID string) (int64, error) {
	latest, err := a.audit.LatestVersion(ctx, userID)
	if err != nil {
		return 0, domain.NewEngineError(domain.ErrStorage, "failed to read latest assessment version", err.Error())
	}
	return latest + 1, nil
}

// detectTrends fans trend detection out across the snapshot's parameters.
// Insufficient history is a note, not an error.
func (a *AssessorService) detectTrends(ctx context.Context, snapshot *domain.TimelineSnapshot) (map[string]domain.Trend, []string, error) {
	parameters := snapshot.Parameters()
	results := make(map[string]domain.Trend, len(parameters))
	notes := make([]string, 0)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, parameter := range parameters {
		g.Go(func() error {
			trend, err := a.trends.DetectCached(gctx, snapshot.UserID, snapshot.Version, parameter, snapshot.History(parameter))
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if trend.InsufficientData {
				notes = append(notes, fmt.Sprintf(
					"Not enough %s results yet to look for a pattern.", parameter))
				return nil
			}
			results[parameter] = *trend
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, notes, nil
}

// resolveRefs indexes the applicable guidelines by test type for citation
// lookup. Resolution failures here are non-fatal, citations just thin out.
func (a *AssessorService) resolveRefs(ctx context.Context, profile domain.UserProfile, at time.Time) map[string]domain.GuidelineRef {
	refs := make(map[string]domain.GuidelineRef)
	guidelines, _, err := a.resolver.Resolve(ctx, profile, at)
	if err != nil {
		a.log.WithError(err).Warn("Guideline resolution for citations failed")
		return refs
	}
	for _, g := range guidelines {
		refs[g.TestType] = g.Ref()
	}
	return refs
}

// buildSignals turns gaps, trends and pending follow-ups into risk signals.
func (a *AssessorService) buildSignals(profile domain.UserProfile, snapshot *domain.TimelineSnapshot, trends map[string]domain.Trend, gaps []domain.Gap, refs map[string]domain.GuidelineRef, at time.Time) []domain.RiskSignal {
	signals := make([]domain.RiskSignal, 0, len(gaps)+len(trends))

	for _, gap := range gaps {
		score := a.absenceScore(gap)
		evidence := domain.Evidence{Gaps: []domain.Gap{gap}}
		if ref, ok := refs[gap.TestType]; ok {
			evidence.GuidelineRefs = []domain.GuidelineRef{ref}
		}
		signals = append(signals, domain.RiskSignal{
			ID:          uuid.NewString(),
			UserID:      profile.UserID,
			Type:        domain.ABSENCE_SIGNAL,
			TestType:    gap.TestType,
			Severity:    SeverityForScore(score),
			Score:       score,
			Description: fmt.Sprintf("%s is %d days overdue", gap.TestType, gap.DaysOverdue),
			Evidence:    evidence,
			CreatedAt:   at,
		})
	}

	for parameter, trend := range trends {
		if trend.Direction == domain.STABLE || trend.Significance == domain.LOW_SIGNIFICANCE {
			continue
		}
		score := trendScore(trend)
		evidence := domain.Evidence{
			Trends:     []domain.Trend{trend},
			DataPoints: trend.DataPoints,
		}
		if ref, ok := refs[parameter]; ok {
			evidence.GuidelineRefs = []domain.GuidelineRef{ref}
		}
		signals = append(signals, domain.RiskSignal{
			ID:          uuid.NewString(),
			UserID:      profile.UserID,
			Type:        domain.TREND_SIGNAL,
			Parameter:   parameter,
			Severity:    SeverityForScore(score),
			Score:       score,
			Description: fmt.Sprintf("%s shows a %s trend of %s significance", parameter, trend.Direction, trend.Significance),
			Evidence:    evidence,
			CreatedAt:   at,
		})
	}

	for _, event := range snapshot.Events {
		if event.Type != domain.FOLLOW_UP_DUE_EVENT || event.Date.After(at) {
			continue
		}
		overdue := daysBetween(event.Date, at)
		score := math.Min(100, 40+0.5*float64(overdue))
		evidence := domain.Evidence{}
		if ref, ok := refs[event.TestType]; ok {
			evidence.GuidelineRefs = []domain.GuidelineRef{ref}
		}
		signals = append(signals, domain.RiskSignal{
			ID:          uuid.NewString(),
			UserID:      profile.UserID,
			Type:        domain.FOLLOW_UP_SIGNAL,
			TestType:    event.TestType,
			Severity:    SeverityForScore(score),
			Score:       score,
			Description: fmt.Sprintf("follow-up for %s is %d days past due", event.TestType, overdue),
			Evidence:    evidence,
			CreatedAt:   at,
		})
	}

	return signals
}

// absenceScore maps a gap's priority score onto [0,100] piecewise so the
// signal's severity tier agrees with the gap's priority tier.
func (a *AssessorService) absenceScore(gap domain.Gap) float64 {
	switch gap.Priority {
	case domain.HIGH_SEVERITY:
		return math.Min(100, 60+10*(gap.PriorityScore-2.0))
	case domain.MODERATE_SEVERITY:
		return 30 + 24*(gap.PriorityScore-0.75)
	default:
		return math.Max(0, 40*gap.PriorityScore)
	}
}

// trendScore maps significance and confidence onto [0,100].
func trendScore(trend domain.Trend) float64 {
	switch trend.Significance {
	case domain.HIGH_SIGNIFICANCE:
		return math.Min(100, 60+30*trend.Confidence)
	case domain.MODERATE_SIGNIFICANCE:
		return 30 + 25*trend.Confidence
	default:
		return 20 * trend.Confidence
	}
}

// buildExplanations renders each signal and recommendation. A signal
// without a guideline citation cannot be explained; that is recorded as
// a note instead of producing uncited text.
func (a *AssessorService) buildExplanations(signals []domain.RiskSignal, recommendations []domain.Recommendation) ([]domain.Explanation, []string) {
	explanations := make([]domain.Explanation, 0, len(signals)+len(recommendations))
	notes := make([]string, 0)

	signalEvidence := make(map[string]domain.Evidence, len(signals))
	for _, signal := range signals {
		signalEvidence[signal.ID] = signal.Evidence
		exp, err := a.explain.ExplainSignal(signal)
		if err != nil {
			a.log.WithError(err).WithField("signal_id", signal.ID).Warn("Explanation construction failed")
			notes = append(notes, fmt.Sprintf("A detailed explanation could not be produced for one %s finding.", signal.Type))
			continue
		}
		explanations = append(explanations, *exp)
	}

	for _, rec := range recommendations {
		evidence := domain.Evidence{}
		for _, id := range rec.RelatedRiskSignalIDs {
			if ev, ok := signalEvidence[id]; ok {
				evidence.GuidelineRefs = append(evidence.GuidelineRefs, ev.GuidelineRefs...)
				evidence.Gaps = append(evidence.Gaps, ev.Gaps...)
				evidence.Trends = append(evidence.Trends, ev.Trends...)
			}
		}
		exp, err := a.explain.ExplainRecommendation(rec, evidence)
		if err != nil {
			a.log.WithError(err).WithField("recommendation_id", rec.ID).Warn("Explanation construction failed")
			notes = append(notes, fmt.Sprintf("A detailed explanation could not be produced for the %s suggestion.", rec.TestName))
			continue
		}
		explanations = append(explanations, *exp)
	}

	return explanations, notes
}

// dispatchFollowUps hands every pending follow-up to the notifier,
// fire-and-forget.
func (a *AssessorService) dispatchFollowUps(ctx context.Context, userID string, snapshot *domain.TimelineSnapshot, at time.Time) {
	if a.notifier == nil {
		return
	}
	for _, event := range snapshot.Events {
		if event.Type == domain.FOLLOW_UP_DUE_EVENT && !event.Date.After(at) {
			a.notifier.NotifyFollowUpDue(ctx, userID, event)
		}
	}
}

// resolveConflicts returns a snapshot view where each (parameter, date)
// pair keeps only its most recently ingested value. Every collapsed
// conflict is reported.
func resolveConflicts(snapshot *domain.TimelineSnapshot) (*domain.TimelineSnapshot, []*domain.ConflictingDataError) {
	type key struct {
		parameter string
		date      string
	}
	best := make(map[key]domain.DataPoint, len(snapshot.Points))
	values := make(map[key]map[float64]bool, len(snapshot.Points))
	order := make([]key, 0, len(snapshot.Points))

	for _, p := range snapshot.Points {
		k := key{parameter: p.Parameter, date: p.Date.UTC().Format("2006-01-02")}
		if _, ok := best[k]; !ok {
			order = append(order, k)
			values[k] = make(map[float64]bool)
			best[k] = p
		} else if p.Seq > best[k].Seq {
			best[k] = p
		}
		values[k][p.Value] = true
	}

	conflicts := make([]*domain.ConflictingDataError, 0)
	points := make([]domain.DataPoint, 0, len(order))
	for _, k := range order {
		p := best[k]
		points = append(points, p)
		if len(values[k]) > 1 {
			conflicts = append(conflicts, &domain.ConflictingDataError{
				Parameter: p.Parameter,
				Date:      p.Date,
				Count:     len(values[k]),
			})
		}
	}

	return &domain.TimelineSnapshot{
		UserID:  snapshot.UserID,
		Version: snapshot.Version,
		Points:  points,
		Events:  snapshot.Events,
	}, conflicts
}

// DemographicRiskScore maps age and risk-factor count onto [0,100].
func DemographicRiskScore(profile domain.UserProfile, at time.Time) float64 {
	age := profile.AgeAt(at)
	var score float64
	switch {
	case age >= 65:
		score = 55
	case age >= 50:
		score = 40
	case age >= 40:
		score = 25
	default:
		score = 10
	}
	score += 10 * float64(len(profile.RiskFactors))
	return math.Min(100, score)
}
