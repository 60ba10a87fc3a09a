package finalscan

import "regexp"

// Severity grades a detection. It drives attestation and quarantine:
// Critical and High require human attestation before export, Critical
// is additionally quarantined.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
)

// DetectionType categorizes a final-scan match. The set is deliberately
// independent of the insertion guard's detector adapter: this engine
// must keep working when that adapter is down.
type DetectionType string

const (
	TypeNameWithHonorific   DetectionType = "NAME_WITH_HONORIFIC"
	TypeDateOfBirth         DetectionType = "DATE_OF_BIRTH"
	TypeGovernmentID        DetectionType = "GOVERNMENT_ID"
	TypeMedicalRecordNumber DetectionType = "MEDICAL_RECORD_NUMBER"
	TypeBiometricReference  DetectionType = "BIOMETRIC_REFERENCE"
	TypePhotoReference      DetectionType = "PHOTO_REFERENCE"
	TypePhone               DetectionType = "PHONE"
	TypeEmail               DetectionType = "EMAIL"
	TypeStreetAddress       DetectionType = "STREET_ADDRESS"
	TypeAccountNumber       DetectionType = "ACCOUNT_NUMBER"
	TypeURLWithIdentifier   DetectionType = "URL_WITH_IDENTIFIER"
	TypeNetworkIdentifier   DetectionType = "NETWORK_IDENTIFIER"
	TypePostalCode          DetectionType = "POSTAL_CODE"
	TypeDeviceIdentifier    DetectionType = "DEVICE_IDENTIFIER"
	TypeLicenseNumber       DetectionType = "LICENSE_NUMBER"
	TypeVehicleIdentifier   DetectionType = "VEHICLE_IDENTIFIER"
)

// Rule is one row of the declarative table: a matcher, the fixed
// severity for its type, and a generic remediation string. The table is
// the sole source of truth for severity.
type Rule struct {
	Type           DetectionType
	Matcher        *regexp.Regexp
	Severity       Severity
	Recommendation string
}

// DefaultRules is the built-in table covering the HIPAA Safe Harbor
// identifier categories reachable by pattern matching.
var DefaultRules = []Rule{
	// Identity -> Critical
	{
		Type:           TypeNameWithHonorific,
		Matcher:        regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`),
		Severity:       SeverityCritical,
		Recommendation: "Remove the personal name or replace it with a study identifier",
	},
	{
		Type:           TypeDateOfBirth,
		Matcher:        regexp.MustCompile(`\b(?i:DOB|date of birth|born(?: on)?)[:\s]*\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`),
		Severity:       SeverityCritical,
		Recommendation: "Replace the date of birth with an age range or remove it",
	},
	{
		Type:           TypeGovernmentID,
		Matcher:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Severity:       SeverityCritical,
		Recommendation: "Remove the government-issued identifier entirely",
	},
	{
		Type:           TypeMedicalRecordNumber,
		Matcher:        regexp.MustCompile(`\b(?i:MRN)[:#\s]*\d{6,10}\b`),
		Severity:       SeverityCritical,
		Recommendation: "Remove the medical record number or replace it with a study identifier",
	},
	{
		Type:           TypeBiometricReference,
		Matcher:        regexp.MustCompile(`\b(?i:fingerprint|retinal? scan|voiceprint|iris scan|facial recognition)\b`),
		Severity:       SeverityCritical,
		Recommendation: "Remove the biometric identifier reference",
	},
	{
		Type:           TypePhotoReference,
		Matcher:        regexp.MustCompile(`\b(?i:patient photo(?:graph)?|photograph of (?:the )?patient|full[- ]face photo(?:graph)?)\b`),
		Severity:       SeverityCritical,
		Recommendation: "Remove or de-identify the photographic reference",
	},

	// Contact / account / URL -> High
	{
		Type:           TypePhone,
		Matcher:        regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`),
		Severity:       SeverityHigh,
		Recommendation: "Remove the phone number or replace it with an institutional contact",
	},
	{
		Type:           TypeEmail,
		Matcher:        regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		Severity:       SeverityHigh,
		Recommendation: "Remove the email address or replace it with an institutional contact",
	},
	{
		Type:           TypeStreetAddress,
		Matcher:        regexp.MustCompile(`\b\d{1,5}\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Court|Ct)\.?\b`),
		Severity:       SeverityHigh,
		Recommendation: "Remove the street address or generalize to city/state",
	},
	{
		Type:           TypeAccountNumber,
		Matcher:        regexp.MustCompile(`\b(?i:(?:account|acct|member|policy))\s*(?:#|No\.?|number|ID)[:\s]*[A-Z0-9]{6,14}\b`),
		Severity:       SeverityHigh,
		Recommendation: "Remove the account or policy identifier",
	},
	{
		Type:           TypeURLWithIdentifier,
		Matcher:        regexp.MustCompile(`https?://\S*(?i:patient|mrn|subject|record)=(?:[^\s&]+)`),
		Severity:       SeverityHigh,
		Recommendation: "Strip identifying query parameters from the URL",
	},
	{
		Type:           TypeNetworkIdentifier,
		Matcher:        regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Severity:       SeverityHigh,
		Recommendation: "Remove the network address",
	},

	// Postal / device / license / vehicle -> Medium
	{
		Type:           TypePostalCode,
		Matcher:        regexp.MustCompile(`\b(?i:zip|postal)(?:\s*code)?[:\s]+\d{5}(?:-\d{4})?\b`),
		Severity:       SeverityMedium,
		Recommendation: "Generalize the postal code to the first three digits or remove it",
	},
	{
		Type:           TypeDeviceIdentifier,
		Matcher:        regexp.MustCompile(`\b(?i:(?:device|serial))\s*(?:#|No\.?|number)[:\s]*[A-Z0-9\-]{4,20}\b`),
		Severity:       SeverityMedium,
		Recommendation: "Remove the device serial identifier",
	},
	{
		Type:           TypeLicenseNumber,
		Matcher:        regexp.MustCompile(`\b(?i:licen[sc]e)\s*(?:#|No\.?|number)[:\s]*[A-Z0-9\-]{4,15}\b`),
		Severity:       SeverityMedium,
		Recommendation: "Remove the license or certificate number",
	},
	{
		Type:           TypeVehicleIdentifier,
		Matcher:        regexp.MustCompile(`\b(?i:VIN)[:#\s]*[A-HJ-NPR-Z0-9]{11,17}\b`),
		Severity:       SeverityMedium,
		Recommendation: "Remove the vehicle identifier",
	},
}
