package domain

import (
	"fmt"
	"time"
)

// Core Data Models

// DataPoint represents a single measured value on a user's timeline.
// A DataPoint is immutable once stored. Identity is
// (user_id, parameter, date, source_id); repeated ingestion of the same
// identity must not create a duplicate.
type DataPoint struct {
	UserID    string    `json:"user_id"`
	Parameter string    `json:"parameter"` // standardized parameter name
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Date      time.Time `json:"date"`
	SourceID  string    `json:"source_id"`
	Seq       int64     `json:"seq"` // insertion sequence, assigned by the store
}

// Identity returns the idempotency key for the data point.
func (p DataPoint) Identity() string {
	return fmt.Sprintf("%s|%s|%s|%s", p.UserID, p.Parameter, p.Date.UTC().Format("2006-01-02"), p.SourceID)
}

// Event represents a discrete occurrence on a user's timeline
type Event struct {
	UserID   string    `json:"user_id"`
	Type     EventType `json:"type"`
	TestType string    `json:"test_type,omitempty"`
	Date     time.Time `json:"date"`
	Seq      int64     `json:"seq"`
}

// UserProfile carries the demographic data used for guideline resolution
type UserProfile struct {
	UserID      string    `json:"user_id"`
	BirthDate   time.Time `json:"birth_date"`
	Gender      Gender    `json:"gender"`
	RiskFactors []string  `json:"risk_factors,omitempty"`
}

// AgeAt returns the user's age in whole years at the given time.
func (u UserProfile) AgeAt(at time.Time) int {
	years := at.Year() - u.BirthDate.Year()
	anniversary := u.BirthDate.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}

// BirthdayAt returns the date of the user's birthday at the given age.
func (u UserProfile) BirthdayAt(age int) time.Time {
	return u.BirthDate.AddDate(age, 0, 0)
}

// Trend represents a detected trend over one parameter's history.
// Trends are derived values, recomputed on demand and cached at most.
type Trend struct {
	Parameter        string         `json:"parameter"`
	Direction        TrendDirection `json:"direction"`
	RateOfChange     float64        `json:"rate_of_change"` // units per day on the smoothed series
	Significance     Significance   `json:"significance"`
	Confidence       float64        `json:"confidence"` // [0,1]
	PValue           float64        `json:"p_value"`
	DataPoints       []DataPoint    `json:"data_points"`
	InsufficientData bool           `json:"insufficient_data"`
	Note             string         `json:"note,omitempty"`
}

// Gap represents a guideline-recommended test that is overdue
type Gap struct {
	TestType      string       `json:"test_type"`
	Category      TestCategory `json:"category"`
	GuidelineID   string       `json:"guideline_id"`
	DaysOverdue   int          `json:"days_overdue"`
	FrequencyDays int          `json:"frequency_days"`
	RiskWeight    float64      `json:"risk_weight"`
	PriorityScore float64      `json:"priority_score"`
	Priority      Severity     `json:"priority"`
	Approximate   bool         `json:"approximate"` // guideline matched by relaxed fallback
	Note          string       `json:"note,omitempty"`
}

// GuidelineRef is a citation back to the guideline behind a finding
type GuidelineRef struct {
	GuidelineID   string `json:"guideline_id"`
	Name          string `json:"name"`
	Source        string `json:"source,omitempty"`
	EvidenceLevel string `json:"evidence_level,omitempty"`
}

// Evidence bundles everything that backs a risk signal or explanation
type Evidence struct {
	DataPoints    []DataPoint    `json:"data_points,omitempty"`
	Gaps          []Gap          `json:"gaps,omitempty"`
	Trends        []Trend        `json:"trends,omitempty"`
	GuidelineRefs []GuidelineRef `json:"guideline_refs,omitempty"`
}

// RiskSignal is one discrete finding contributing to overall risk.
// Signals are immutable once created; a new assessment run produces a new
// set and never mutates past ones.
type RiskSignal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        SignalType `json:"type"`
	TestType    string     `json:"test_type,omitempty"`
	Parameter   string     `json:"parameter,omitempty"`
	Severity    Severity   `json:"severity"`
	Score       float64    `json:"score"` // [0,100], normalized by the owning detector
	Description string     `json:"description"`
	Evidence    Evidence   `json:"evidence"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FactorScores holds the per-factor inputs to risk aggregation, each in [0,100]
type FactorScores struct {
	Absence     float64 `json:"absence"`
	Trend       float64 `json:"trend"`
	FollowUp    float64 `json:"follow_up"`
	Demographic float64 `json:"demographic"`
}

// OverallRisk is the versioned aggregate risk record for one assessment run.
// Records are append-only: each run increments the version, history is
// never overwritten.
type OverallRisk struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Version   int64        `json:"version"`
	RiskScore float64      `json:"risk_score"` // [0,100]
	Severity  Severity     `json:"severity"`
	Factors   FactorScores `json:"factors"`
	Signals   []RiskSignal `json:"signals"`
	Notes     []string     `json:"notes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Recommendation is a ranked preventive-test suggestion tied to risk signals
type Recommendation struct {
	ID                   string    `json:"id"`
	TestName             string    `json:"test_name"`
	Reason               string    `json:"reason"`
	Frequency            string    `json:"frequency"`
	Priority             Priority  `json:"priority"`
	PriorityScore        float64   `json:"priority_score"`
	RelatedRiskSignalIDs []string  `json:"related_risk_signal_ids"`
	GuidelineID          string    `json:"guideline_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Explanation is the human-readable, evidence-cited account of a finding
type Explanation struct {
	Summary           string         `json:"summary"`
	DetailedReasoning string         `json:"detailed_reasoning"`
	VisualizationRef  string         `json:"visualization_ref,omitempty"`
	Citations         []GuidelineRef `json:"citations"`
	ActionGuidance    string         `json:"action_guidance"`
	Disclaimer        string         `json:"disclaimer"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// Guideline is an external, read-only reference rule mapping demographic
// criteria to a recommended test and frequency.
type Guideline struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	TestType      string       `json:"test_type"`
	Category      TestCategory `json:"category"`
	MinAge        int          `json:"min_age"`
	MaxAge        int          `json:"max_age"` // 0 means no upper bound
	Gender        Gender       `json:"gender"`  // ANY matches all
	RiskFactors   []string     `json:"risk_factors,omitempty"`
	FrequencyDays int          `json:"frequency_days"`
	StartAge      int          `json:"start_age"` // age of first eligibility
	EvidenceLevel string       `json:"evidence_level,omitempty"`
	Source        string       `json:"source,omitempty"`
}

// Ref returns the citation form of the guideline.
func (g Guideline) Ref() GuidelineRef {
	return GuidelineRef{
		GuidelineID:   g.ID,
		Name:          g.Name,
		Source:        g.Source,
		EvidenceLevel: g.EvidenceLevel,
	}
}

// MatchesAge reports whether the profile's age at the given time falls in
// the guideline's age range.
func (g Guideline) MatchesAge(profile UserProfile, at time.Time) bool {
	age := profile.AgeAt(at)
	if age < g.MinAge {
		return false
	}
	if g.MaxAge > 0 && age > g.MaxAge {
		return false
	}
	return true
}

// MatchesGender reports whether the guideline's gender constraint matches.
func (g Guideline) MatchesGender(profile UserProfile) bool {
	return g.Gender == ANY || g.Gender == profile.Gender
}

// MatchesRiskFactors reports whether all required risk factors are present
// on the profile. A guideline with no risk-factor constraint matches anyone.
func (g Guideline) MatchesRiskFactors(profile UserProfile) bool {
	if len(g.RiskFactors) == 0 {
		return true
	}
	have := make(map[string]bool, len(profile.RiskFactors))
	for _, rf := range profile.RiskFactors {
		have[rf] = true
	}
	for _, required := range g.RiskFactors {
		if !have[required] {
			return false
		}
	}
	return true
}

// AssessmentResult is the finalized output of one assessment run
type AssessmentResult struct {
	Risk            OverallRisk      `json:"risk"`
	Recommendations []Recommendation `json:"recommendations"`
	Explanations    []Explanation    `json:"explanations"`
	Notes           []string         `json:"notes,omitempty"`
	ProcessingTime  time.Duration    `json:"processing_time"`
	Timestamp       time.Time        `json:"timestamp"`
}
