package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
	"github.com/preventive-health-engine/pkg/lexicon"
	"github.com/preventive-health-engine/pkg/readability"
)

// Disclaimer is the fixed closing line on every explanation.
const Disclaimer = "This information is not a substitute for professional medical advice."

// promptConsultGuidance is mandatory wording on HIGH severity output.
const promptConsultGuidance = "Please consult a healthcare professional promptly."

// ExplanationBuilderService renders risk signals and recommendations as
// plain-language explanations. Construction is deterministic and enforces
// its output contract hard: missing citations or denylisted vocabulary
// fail the build rather than degrade it.
type ExplanationBuilderService struct {
	cfg      config.ExplanationConfig
	denylist *lexicon.Denylist
	log      *logrus.Logger
}

// NewExplanationBuilderService creates a new explanation builder
func NewExplanationBuilderService(cfg config.ExplanationConfig, logger *logrus.Logger) *ExplanationBuilderService {
	var terms []string
	if len(cfg.DenylistTerms) > 0 {
		terms = cfg.DenylistTerms
	}
	return &ExplanationBuilderService{
		cfg:      cfg,
		denylist: lexicon.NewDenylist(terms),
		log:      logger,
	}
}

// ExplainSignal builds the explanation for one risk signal.
func (b *ExplanationBuilderService) ExplainSignal(signal domain.RiskSignal) (*domain.Explanation, error) {
	citations := signal.Evidence.GuidelineRefs
	if len(citations) == 0 {
		return nil, domain.NewEngineError(domain.ErrInternal,
			"explanation requires at least one guideline citation",
			fmt.Sprintf("signal=%s type=%s", signal.ID, signal.Type))
	}

	var summary string
	var detail strings.Builder
	visualization := ""

	switch signal.Type {
	case domain.ABSENCE_SIGNAL:
		summary = fmt.Sprintf("You may be due for a %s.", humanizeTestName(signal.TestType))
		for _, gap := range signal.Evidence.Gaps {
			if gap.Note != "" {
				detail.WriteString("We found no prior result for this test. ")
			} else {
				fmt.Fprintf(&detail, "Your last %s was %d days past the suggested interval. ",
					humanizeTestName(gap.TestType), gap.DaysOverdue)
			}
			fmt.Fprintf(&detail, "Guidelines suggest this test %s. ", humanizeFrequency(gap.FrequencyDays))
		}
	case domain.TREND_SIGNAL:
		summary = fmt.Sprintf("Your %s results show a %s pattern.",
			humanizeTestName(signal.Parameter), directionWord(signal.Evidence.Trends))
		for _, trend := range signal.Evidence.Trends {
			fmt.Fprintf(&detail, "We looked at %d results over time. ", len(trend.DataPoints))
			if trend.Significance == domain.HIGH_SIGNIFICANCE {
				detail.WriteString("The change is large enough to matter. ")
			} else {
				detail.WriteString("The change is small so far. ")
			}
		}
		visualization = "trend:" + signal.Parameter
	case domain.FOLLOW_UP_SIGNAL:
		summary = fmt.Sprintf("A follow-up for %s appears to be due.", humanizeTestName(signal.TestType))
		detail.WriteString("A follow-up was scheduled and has not happened yet. ")
	default:
		return nil, domain.NewEngineError(domain.ErrInvalidInput,
			"unknown signal type", string(signal.Type))
	}

	guidance := "You could bring this up at your next doctor visit."
	if signal.Severity == domain.HIGH_SEVERITY {
		guidance = promptConsultGuidance + " An early check can catch problems sooner."
	}

	return b.finalize(summary, detail.String(), visualization, citations, guidance)
}

// ExplainRecommendation builds the explanation for one recommendation.
// Citations come from the supplied evidence bundle.
func (b *ExplanationBuilderService) ExplainRecommendation(rec domain.Recommendation, evidence domain.Evidence) (*domain.Explanation, error) {
	citations := evidence.GuidelineRefs
	if len(citations) == 0 {
		return nil, domain.NewEngineError(domain.ErrInternal,
			"explanation requires at least one guideline citation",
			fmt.Sprintf("recommendation=%s", rec.ID))
	}

	summary := fmt.Sprintf("We suggest a %s.", humanizeTestName(rec.TestName))
	detail := fmt.Sprintf("%s Guidelines suggest this test %s.", rec.Reason, rec.Frequency)

	guidance := "You could schedule this at a time that works for you."
	if rec.Priority == domain.HIGH_PRIORITY || rec.Priority == domain.URGENT_PRIORITY {
		guidance = promptConsultGuidance + " Booking this test soon is a good next step."
	}

	return b.finalize(summary, detail, "", citations, guidance)
}

// finalize assembles the explanation and enforces the output contract.
func (b *ExplanationBuilderService) finalize(summary, detail, visualization string, citations []domain.GuidelineRef, guidance string) (*domain.Explanation, error) {
	full := strings.Join([]string{summary, detail, guidance, Disclaimer}, " ")

	if hits := b.denylist.Scan(full); len(hits) > 0 {
		return nil, domain.NewEngineError(domain.ErrInternal,
			"explanation contains prohibited vocabulary",
			strings.Join(hits, ", "))
	}

	if b.cfg.MaxGradeLevel > 0 {
		if grade := readability.GradeLevel(full); grade > b.cfg.MaxGradeLevel {
			b.log.WithFields(logrus.Fields{
				"grade":  grade,
				"target": b.cfg.MaxGradeLevel,
			}).Warn("Explanation exceeds target reading grade")
		}
	}

	kept := make([]domain.GuidelineRef, len(citations))
	copy(kept, citations)

	return &domain.Explanation{
		Summary:           summary,
		DetailedReasoning: strings.TrimSpace(detail),
		VisualizationRef:  visualization,
		Citations:         kept,
		ActionGuidance:    guidance,
		Disclaimer:        Disclaimer,
		GeneratedAt:       time.Now().UTC(),
	}, nil
}

func directionWord(trends []domain.Trend) string {
	for _, t := range trends {
		switch t.Direction {
		case domain.INCREASING:
			return "rising"
		case domain.DECREASING:
			return "falling"
		}
	}
	return "steady"
}

// humanizeTestName turns an internal test identifier into display form
func humanizeTestName(name string) string {
	if name == "" {
		return "recommended test"
	}
	return strings.ReplaceAll(name, "_", " ")
}
