package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData signals that a detector had too little history to
// produce a finding. It is a valid outcome, not a failure: callers absorb
// it and attach an explanatory note to the run result.
var ErrInsufficientData = errors.New("insufficient data")

// Error codes for structural failure scenarios
const (
	ErrInvalidInput  = "INVALID_INPUT"
	ErrStorage       = "STORAGE_ERROR"
	ErrGuidelineData = "GUIDELINE_DATA_ERROR"
	ErrCalculation   = "CALCULATION_ERROR"
	ErrInternal      = "INTERNAL_ERROR"
)

// EngineError represents a structured hard failure propagated to the caller
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError with timestamp
func NewEngineError(code, message, details string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// NotFoundError indicates a user has no timeline at all. This is distinct
// from an empty timeline, which is valid and returns empty sequences.
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// GuidelineNotFoundError indicates no guideline matched even after the
// relaxation fallback. Resolution normally degrades to a flagged
// approximation before reaching this point.
type GuidelineNotFoundError struct {
	Age         int      `json:"age"`
	Gender      Gender   `json:"gender"`
	RiskFactors []string `json:"risk_factors,omitempty"`
}

// Error implements the error interface
func (e *GuidelineNotFoundError) Error() string {
	return fmt.Sprintf("no guideline found for age=%d gender=%s", e.Age, e.Gender)
}

// ConflictingDataError flags two values for the same test on the same date.
// It is absorbed locally: the most recent value is preferred, nothing is
// dropped, and the conflict surfaces as a note on the run.
type ConflictingDataError struct {
	Parameter string    `json:"parameter"`
	Date      time.Time `json:"date"`
	Count     int       `json:"count"`
}

// Error implements the error interface
func (e *ConflictingDataError) Error() string {
	return fmt.Sprintf("conflicting values for %s on %s (%d values)", e.Parameter, e.Date.Format("2006-01-02"), e.Count)
}

// CalculationFailureError flags invalid numeric input to scoring. Callers
// log it, substitute a conservative higher-than-computed estimate and mark
// the result for review rather than aborting.
type CalculationFailureError struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Error implements the error interface
func (e *CalculationFailureError) Error() string {
	return fmt.Sprintf("calculation failure in %s: %s", e.Stage, e.Reason)
}
