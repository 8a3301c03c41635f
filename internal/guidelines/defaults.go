package guidelines

import (
	"context"

	"github.com/preventive-health-engine/internal/domain"
)

// StaticSource serves a fixed guideline set. It backs standalone
// deployments and is the degradation target when the external Guidelines
// Database is unreachable.
type StaticSource struct {
	guidelines []domain.Guideline
}

// NewStaticSource creates a source over the given guideline set
func NewStaticSource(guidelines []domain.Guideline) *StaticSource {
	return &StaticSource{guidelines: guidelines}
}

// Fetch returns the static guideline set
func (s *StaticSource) Fetch(_ context.Context) ([]domain.Guideline, error) {
	out := make([]domain.Guideline, len(s.guidelines))
	copy(out, s.guidelines)
	return out, nil
}

// Baseline returns the built-in adult preventive-care guideline set.
// Frequencies follow common screening intervals; real deployments replace
// or extend this through the Guidelines Database.
func Baseline() []domain.Guideline {
	return []domain.Guideline{
		{
			ID:            "gl-fasting-glucose",
			Name:          "Fasting glucose screening",
			TestType:      "fasting_glucose",
			Category:      domain.DIABETES,
			MinAge:        40,
			FrequencyDays: 365,
			StartAge:      40,
			EvidenceLevel: "B",
			Source:        "USPSTF",
		},
		{
			ID:            "gl-lipid-panel",
			Name:          "Lipid panel screening",
			TestType:      "lipid_panel",
			Category:      domain.CARDIOVASCULAR,
			MinAge:        35,
			FrequencyDays: 365 * 2,
			StartAge:      35,
			EvidenceLevel: "A",
			Source:        "USPSTF",
		},
		{
			ID:            "gl-blood-pressure",
			Name:          "Blood pressure check",
			TestType:      "blood_pressure",
			Category:      domain.CARDIOVASCULAR,
			MinAge:        18,
			FrequencyDays: 365,
			StartAge:      18,
			EvidenceLevel: "A",
			Source:        "USPSTF",
		},
		{
			ID:            "gl-colonoscopy",
			Name:          "Colorectal cancer screening",
			TestType:      "colonoscopy",
			Category:      domain.CANCER_SCREENING,
			MinAge:        45,
			MaxAge:        75,
			FrequencyDays: 365 * 10,
			StartAge:      45,
			EvidenceLevel: "A",
			Source:        "USPSTF",
		},
		{
			ID:            "gl-mammogram",
			Name:          "Breast cancer screening",
			TestType:      "mammogram",
			Category:      domain.CANCER_SCREENING,
			MinAge:        40,
			MaxAge:        74,
			Gender:        domain.FEMALE,
			FrequencyDays: 365 * 2,
			StartAge:      40,
			EvidenceLevel: "B",
			Source:        "USPSTF",
		},
		{
			ID:            "gl-hba1c-diabetic",
			Name:          "HbA1c monitoring for diabetes risk",
			TestType:      "hba1c",
			Category:      domain.DIABETES,
			MinAge:        18,
			RiskFactors:   []string{"diabetes_risk"},
			FrequencyDays: 180,
			StartAge:      18,
			EvidenceLevel: "B",
			Source:        "ADA",
		},
		{
			ID:            "gl-wellness-visit",
			Name:          "Annual wellness visit",
			TestType:      "wellness_visit",
			Category:      domain.GENERAL_WELLNESS,
			MinAge:        18,
			FrequencyDays: 365,
			StartAge:      18,
			EvidenceLevel: "C",
			Source:        "AAFP",
		},
	}
}
