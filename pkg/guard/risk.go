package guard

import "github.com/clinsafe/phigate/pkg/detect"

// RiskLevel grades a scan outcome.
type RiskLevel string

const (
	RiskNone   RiskLevel = "None"
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// highRiskTypes are identifier classes that escalate a single finding
// straight to High.
var highRiskTypes = map[detect.FindingType]bool{
	detect.TypeGovernmentID:  true,
	detect.TypeMedicalRecord: true,
	detect.TypeInsuranceID:   true,
	detect.TypeAccountNumber: true,
}

// ClassifyRisk is a pure function of the findings. A single high-risk
// finding yields High regardless of count; otherwise volume decides.
func ClassifyRisk(findings []detect.Finding) RiskLevel {
	if len(findings) == 0 {
		return RiskNone
	}
	for _, f := range findings {
		if highRiskTypes[f.Type] {
			return RiskHigh
		}
	}
	switch {
	case len(findings) >= 3:
		return RiskHigh
	case len(findings) == 2:
		return RiskMedium
	default:
		return RiskLow
	}
}
