// Package guidelines resolves the preventive-care guidelines applicable to
// a demographic profile. Resolution never fails silently: when no guideline
// matches exactly, constraints are relaxed in a configured order and the
// result is flagged as an approximation.
package guidelines

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/domain"
)

// Source provides the raw guideline set. The Guidelines Database is an
// external, read-only collaborator; Source abstracts its query interface.
type Source interface {
	Fetch(ctx context.Context) ([]domain.Guideline, error)
}

// Relaxation step names, applied in configured order when no exact match exists
const (
	RelaxRiskFactors = "risk_factors"
	RelaxAgeRange    = "age_range"
)

// Resolver matches guidelines to user demographics with graceful fallback
type Resolver struct {
	source          Source
	relaxationOrder []string
	log             *logrus.Logger
}

// NewResolver creates a new guideline resolver. An empty relaxation order
// falls back to the documented default: risk factors first, then age range.
func NewResolver(source Source, relaxationOrder []string, logger *logrus.Logger) *Resolver {
	if len(relaxationOrder) == 0 {
		relaxationOrder = []string{RelaxRiskFactors, RelaxAgeRange}
	}
	return &Resolver{
		source:          source,
		relaxationOrder: relaxationOrder,
		log:             logger,
	}
}

// Resolve returns the guidelines applicable to the profile at the given
// time. The second return value is true when the match required relaxing
// constraints. Only structural failures (unreachable or malformed
// guideline data) return an error.
func (r *Resolver) Resolve(ctx context.Context, profile domain.UserProfile, at time.Time) ([]domain.Guideline, bool, error) {
	all, err := r.source.Fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetching guidelines: %w", err)
	}

	matched := r.match(all, profile, at, nil)
	if len(matched) > 0 {
		return matched, false, nil
	}

	// No exact match: relax constraints one step at a time, cumulatively.
	relaxed := make([]string, 0, len(r.relaxationOrder))
	for _, step := range r.relaxationOrder {
		relaxed = append(relaxed, step)
		matched = r.match(all, profile, at, relaxed)
		if len(matched) > 0 {
			r.log.WithFields(logrus.Fields{
				"user_id": profile.UserID,
				"relaxed": relaxed,
				"matches": len(matched),
			}).Warn("Guideline resolution used relaxed matching")
			return matched, true, nil
		}
	}

	return nil, false, &domain.GuidelineNotFoundError{
		Age:         profile.AgeAt(at),
		Gender:      profile.Gender,
		RiskFactors: profile.RiskFactors,
	}
}

// Frequency returns the recommended frequency for a test type.
func (r *Resolver) Frequency(ctx context.Context, testType string) (time.Duration, error) {
	all, err := r.source.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching guidelines: %w", err)
	}
	for _, g := range all {
		if g.TestType == testType {
			return time.Duration(g.FrequencyDays) * 24 * time.Hour, nil
		}
	}
	return 0, &domain.GuidelineNotFoundError{}
}

// match filters guidelines against the profile, ignoring the constraints
// named in relaxed. Gender is never relaxed.
func (r *Resolver) match(all []domain.Guideline, profile domain.UserProfile, at time.Time, relaxed []string) []domain.Guideline {
	skip := make(map[string]bool, len(relaxed))
	for _, step := range relaxed {
		skip[step] = true
	}

	out := make([]domain.Guideline, 0)
	for _, g := range all {
		if !g.MatchesGender(profile) {
			continue
		}
		if !skip[RelaxAgeRange] && !g.MatchesAge(profile, at) {
			continue
		}
		if !skip[RelaxRiskFactors] && !g.MatchesRiskFactors(profile) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
