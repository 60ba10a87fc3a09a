package guard

import (
	"errors"
	"fmt"

	"github.com/clinsafe/phigate/pkg/detect"
)

// ErrFailOpenInProduction is returned by New when a non-fail-closed
// guard would be deployed to a production environment. It is fatal at
// construction; there is no way to build such a guard.
var ErrFailOpenInProduction = errors.New("guard: fail-open configuration is not permitted in production")

// DetectedError is the policy block: the content contains disallowed
// identifiers. It is not retryable until the content is remediated.
// The error carries positions and type tags only, never matched text.
type DetectedError struct {
	Findings  []detect.Finding
	RiskLevel RiskLevel
}

func (e *DetectedError) Error() string {
	return fmt.Sprintf("guard: content blocked: %d finding(s), risk %s", len(e.Findings), e.RiskLevel)
}

// ScanFailureError signals that the detector itself failed. Under the
// fail-closed policy it blocks exactly like a detection: unknown risk
// is treated as unsafe.
type ScanFailureError struct {
	Cause error
}

func (e *ScanFailureError) Error() string {
	return fmt.Sprintf("guard: detector unavailable: %v", e.Cause)
}

func (e *ScanFailureError) Unwrap() error {
	return e.Cause
}
