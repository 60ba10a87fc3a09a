// Package detect defines the pluggable identifier-detection capability
// consumed by the insertion guard. Implementations find candidate PHI in
// free text; they never return the matched substrings themselves, only
// positions and type tags.
package detect

import "context"

// FindingType categorizes a detected identifier.
type FindingType string

const (
	TypeGovernmentID  FindingType = "GOVERNMENT_ID"
	TypeMedicalRecord FindingType = "MEDICAL_RECORD_NUMBER"
	TypeInsuranceID   FindingType = "INSURANCE_ID"
	TypeAccountNumber FindingType = "ACCOUNT_NUMBER"
	TypeName          FindingType = "NAME"
	TypeDateOfBirth   FindingType = "DATE_OF_BIRTH"
	TypeEmail         FindingType = "EMAIL"
	TypePhone         FindingType = "PHONE"
	TypeAddress       FindingType = "STREET_ADDRESS"
)

// Finding is a single detected identifier. It carries positions only;
// the raw matched text is never stored or propagated.
type Finding struct {
	Type       FindingType `json:"type"`
	StartIndex int         `json:"start_index"`
	EndIndex   int         `json:"end_index"`
	Confidence float64     `json:"confidence"`
}

// Scanner is the detector adapter contract. Any method may return an
// error to signal transient or permanent scanner failure; the caller
// decides what failure means under its fail-closed policy.
type Scanner interface {
	// Scan returns all findings in text. Every finding satisfies
	// EndIndex > StartIndex.
	Scan(ctx context.Context, text string) ([]Finding, error)

	// HasPHI reports whether text contains at least one identifier.
	HasPHI(ctx context.Context, text string) (bool, error)

	// Redact returns text with every detected identifier replaced by a
	// type-tagged placeholder.
	Redact(ctx context.Context, text string) (string, error)
}
