package domain

import (
	"context"
	"time"
)

// TimelineStore is the chronological index of a user's data points and
// events. Writes are serialized per user; reads observe stable snapshots.
type TimelineStore interface {
	AddDataPoint(point DataPoint) error
	AddEvent(event Event) error
	GetHistory(userID, parameter string) ([]DataPoint, error)
	GetOrderedEvents(userID string) ([]Event, error)
	// Snapshot returns an immutable view of the user's timeline taken at
	// call time, plus its version counter.
	Snapshot(userID string) (*TimelineSnapshot, error)
}

// TimelineSnapshot is a read-only copy of one user's timeline. Detectors
// operate on snapshots only, never on live store state.
type TimelineSnapshot struct {
	UserID  string
	Version int64
	Points  []DataPoint // ascending by date, ties by insertion sequence
	Events  []Event     // ascending by date, ties by insertion sequence
}

// History returns the snapshot's points for one parameter, in order.
func (s *TimelineSnapshot) History(parameter string) []DataPoint {
	out := make([]DataPoint, 0)
	for _, p := range s.Points {
		if p.Parameter == parameter {
			out = append(out, p)
		}
	}
	return out
}

// Parameters returns the distinct parameter names present, in first-seen order.
func (s *TimelineSnapshot) Parameters() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, p := range s.Points {
		if !seen[p.Parameter] {
			seen[p.Parameter] = true
			out = append(out, p.Parameter)
		}
	}
	return out
}

// LastOccurrence returns the date of the most recent lab-test event or data
// point for the given test type, and whether one exists.
func (s *TimelineSnapshot) LastOccurrence(testType string) (time.Time, bool) {
	var last time.Time
	found := false
	for _, e := range s.Events {
		if e.Type == LAB_TEST_EVENT && e.TestType == testType && (!found || e.Date.After(last)) {
			last = e.Date
			found = true
		}
	}
	for _, p := range s.Points {
		if p.Parameter == testType && (!found || p.Date.After(last)) {
			last = p.Date
			found = true
		}
	}
	return last, found
}

// GuidelineResolver resolves the guidelines applicable to a demographic
// profile. Approximate is true when the match required relaxing constraints.
type GuidelineResolver interface {
	Resolve(ctx context.Context, profile UserProfile, at time.Time) (guidelines []Guideline, approximate bool, err error)
	Frequency(ctx context.Context, testType string) (time.Duration, error)
}

// TrendDetector infers a trend from one parameter's ordered history
type TrendDetector interface {
	Detect(ctx context.Context, parameter string, points []DataPoint) (*Trend, error)
}

// GapDetector finds guideline-recommended tests that are overdue
type GapDetector interface {
	Detect(ctx context.Context, profile UserProfile, snapshot *TimelineSnapshot, at time.Time) ([]Gap, bool, error)
}

// RiskAggregator combines risk signals into a versioned overall risk record
type RiskAggregator interface {
	Aggregate(ctx context.Context, userID string, version int64, signals []RiskSignal, demographic float64) (*OverallRisk, error)
}

// RecommendationGenerator produces ranked preventive-test suggestions
type RecommendationGenerator interface {
	Generate(ctx context.Context, profile UserProfile, risk *OverallRisk, gaps []Gap, at time.Time) ([]Recommendation, error)
}

// ExplanationBuilder maps a risk signal or recommendation to a
// human-readable, evidence-cited, disclaimer-bearing explanation
type ExplanationBuilder interface {
	ExplainSignal(signal RiskSignal) (*Explanation, error)
	ExplainRecommendation(rec Recommendation, evidence Evidence) (*Explanation, error)
}

// AssessmentStore is the append-only audit sink for finalized assessment
// records. The engine never reads back its own writes within a run.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, result *AssessmentResult) error
	LatestVersion(ctx context.Context, userID string) (int64, error)
	RiskHistory(ctx context.Context, userID string) ([]OverallRisk, error)
	Close() error
}

// Notifier receives overdue follow-up events, fire-and-forget
type Notifier interface {
	NotifyFollowUpDue(ctx context.Context, userID string, event Event)
}
