package domain

// Core Enums and Types

// TrendDirection represents the direction of a detected trend
type TrendDirection string

const (
	INCREASING TrendDirection = "INCREASING"
	DECREASING TrendDirection = "DECREASING"
	STABLE     TrendDirection = "STABLE"
)

// String returns the string representation of the trend direction
func (d TrendDirection) String() string {
	return string(d)
}

// Significance represents the clinical significance of a trend
type Significance string

const (
	LOW_SIGNIFICANCE      Significance = "LOW"
	MODERATE_SIGNIFICANCE Significance = "MODERATE"
	HIGH_SIGNIFICANCE     Significance = "HIGH"
)

// String returns the string representation of the significance level
func (s Significance) String() string {
	return string(s)
}

// Severity represents a risk severity tier
type Severity string

const (
	LOW_SEVERITY      Severity = "LOW"
	MODERATE_SEVERITY Severity = "MODERATE"
	HIGH_SEVERITY     Severity = "HIGH"
)

// String returns the string representation of the severity tier
func (s Severity) String() string {
	return string(s)
}

// Priority represents recommendation priority, ordered URGENT > HIGH > MODERATE > LOW
type Priority string

const (
	LOW_PRIORITY      Priority = "LOW"
	MODERATE_PRIORITY Priority = "MODERATE"
	HIGH_PRIORITY     Priority = "HIGH"
	URGENT_PRIORITY   Priority = "URGENT"
)

// String returns the string representation of the priority
func (p Priority) String() string {
	return string(p)
}

// Rank returns a numeric rank for sorting, higher means more urgent.
func (p Priority) Rank() int {
	switch p {
	case URGENT_PRIORITY:
		return 3
	case HIGH_PRIORITY:
		return 2
	case MODERATE_PRIORITY:
		return 1
	default:
		return 0
	}
}

// SignalType represents the kind of finding behind a risk signal
type SignalType string

const (
	ABSENCE_SIGNAL   SignalType = "ABSENCE"
	TREND_SIGNAL     SignalType = "TREND"
	FOLLOW_UP_SIGNAL SignalType = "FOLLOW_UP"
)

// String returns the string representation of the signal type
func (t SignalType) String() string {
	return string(t)
}

// EventType represents the kind of discrete timeline event
type EventType string

const (
	LAB_TEST_EVENT      EventType = "LAB_TEST"
	PRESCRIPTION_EVENT  EventType = "PRESCRIPTION"
	FOLLOW_UP_DUE_EVENT EventType = "FOLLOW_UP_DUE"
)

// String returns the string representation of the event type
func (t EventType) String() string {
	return string(t)
}

// Gender represents the demographic gender used for guideline matching
type Gender string

const (
	MALE   Gender = "MALE"
	FEMALE Gender = "FEMALE"
	ANY    Gender = "" // guidelines with no gender constraint
)

// TestCategory groups guideline test types for risk weighting
type TestCategory string

const (
	CANCER_SCREENING TestCategory = "CANCER_SCREENING"
	DIABETES         TestCategory = "DIABETES"
	CARDIOVASCULAR   TestCategory = "CARDIOVASCULAR"
	GENERAL_WELLNESS TestCategory = "GENERAL_WELLNESS"
)

// String returns the string representation of the test category
func (c TestCategory) String() string {
	return string(c)
}
