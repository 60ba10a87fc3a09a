// Package guard implements the fail-closed insertion gate. Every write
// of externally-derived or user-authored text into a manuscript section
// passes through ScanBeforeInsertion; under the fail-closed policy both
// a detection and a detector failure block the write. Every outcome is
// recorded in the audit ledger.
package guard

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinsafe/phigate/pkg/detect"
	"github.com/clinsafe/phigate/pkg/ledger"
)

// EnvProduction is the environment value that forbids fail-open guards.
const EnvProduction = "production"

// Insertion describes where content is about to be persisted. It feeds
// the audit trail; it never carries the content itself.
type Insertion struct {
	ManuscriptID string
	Section      string
	ActorID      string
}

// ScanResult is the outcome of a successful (non-rejecting) scan.
type ScanResult struct {
	Passed    bool             `json:"passed"`
	Findings  []detect.Finding `json:"findings"`
	RiskLevel RiskLevel        `json:"risk_level"`
	ScannedAt time.Time        `json:"scanned_at"`
}

// RedactionResult reports what RedactAndLog did. It carries counts and
// lengths only, never the matched text.
type RedactionResult struct {
	Content        string `json:"content"`
	Redacted       bool   `json:"redacted"`
	OriginalLength int    `json:"original_length"`
	RedactedLength int    `json:"redacted_length"`
	FindingsCount  int    `json:"findings_count"`
}

// Options configures a Guard.
type Options struct {
	Scanner     detect.Scanner
	Ledger      ledger.Ledger
	Environment string
	// FailClosed treats detector failure as a block. It must be true in
	// production; New enforces this.
	FailClosed bool
	// Clock overrides time.Now for testing.
	Clock func() time.Time
}

// Guard gates manuscript writes. Construct one per process and pass it
// by dependency injection; there is no package-level instance.
type Guard struct {
	scanner    detect.Scanner
	ledger     ledger.Ledger
	failClosed bool
	clock      func() time.Time
	tracer     trace.Tracer
	scans      metric.Int64Counter
	blocks     metric.Int64Counter
}

// New builds a Guard. It fails when no scanner or ledger is supplied,
// and when a fail-open policy meets a production environment.
func New(opts Options) (*Guard, error) {
	if opts.Scanner == nil {
		return nil, fmt.Errorf("guard: scanner is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("guard: ledger is required")
	}
	if opts.Environment == EnvProduction && !opts.FailClosed {
		return nil, ErrFailOpenInProduction
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	meter := otel.Meter("phigate.guard")
	scans, _ := meter.Int64Counter("phigate.guard.scans",
		metric.WithDescription("Insertion scans by outcome"))
	blocks, _ := meter.Int64Counter("phigate.guard.blocks",
		metric.WithDescription("Insertion scans blocked"))

	return &Guard{
		scanner:    opts.Scanner,
		ledger:     opts.Ledger,
		failClosed: opts.FailClosed,
		clock:      clock,
		tracer:     otel.Tracer("phigate.guard"),
		scans:      scans,
		blocks:     blocks,
	}, nil
}

// FailClosed reports the active policy.
func (g *Guard) FailClosed() bool {
	return g.failClosed
}

// ScanBeforeInsertion scans content before it is persisted. Under the
// fail-closed policy a non-empty finding set returns *DetectedError and
// a detector failure returns *ScanFailureError; the method never
// resolves permissively on uncertainty. Under fail-open (non-production
// only) both cases resolve with Passed=false instead of an error.
// Every outcome is recorded to the ledger; a ledger failure does not
// mask the decision.
func (g *Guard) ScanBeforeInsertion(ctx context.Context, content string, ins Insertion) (*ScanResult, error) {
	ctx, span := g.tracer.Start(ctx, "guard.scan_before_insertion")
	defer span.End()

	findings, err := g.scanner.Scan(ctx, content)
	if err != nil {
		g.record(ctx, ledger.ActionScanFailed, ins, map[string]any{
			"section": ins.Section,
			"error":   err.Error(),
		})
		g.count(ctx, "scan_failed")
		if g.failClosed {
			return nil, &ScanFailureError{Cause: err}
		}
		return &ScanResult{Passed: false, RiskLevel: RiskNone, ScannedAt: g.clock().UTC()}, nil
	}

	risk := ClassifyRisk(findings)
	span.SetAttributes(
		attribute.Int("phigate.finding_count", len(findings)),
		attribute.String("phigate.risk_level", string(risk)),
	)

	if len(findings) > 0 {
		g.record(ctx, ledger.ActionScanBlocked, ins, map[string]any{
			"section":       ins.Section,
			"finding_count": len(findings),
			"finding_types": findingTypes(findings),
			"risk_level":    string(risk),
		})
		g.count(ctx, "blocked")
		g.blocks.Add(ctx, 1)
		if g.failClosed {
			return nil, &DetectedError{Findings: findings, RiskLevel: risk}
		}
		return &ScanResult{Passed: false, Findings: findings, RiskLevel: risk, ScannedAt: g.clock().UTC()}, nil
	}

	g.record(ctx, ledger.ActionScanPassed, ins, map[string]any{
		"section":       ins.Section,
		"finding_count": 0,
		"risk_level":    string(RiskNone),
	})
	g.count(ctx, "passed")
	return &ScanResult{Passed: true, Findings: nil, RiskLevel: RiskNone, ScannedAt: g.clock().UTC()}, nil
}

// RedactAndLog replaces detected identifiers with placeholders. When
// nothing is found the content comes back unchanged and no audit entry
// is written; only actionable redactions are logged.
func (g *Guard) RedactAndLog(ctx context.Context, content string, ins Insertion) (*RedactionResult, error) {
	ctx, span := g.tracer.Start(ctx, "guard.redact_and_log")
	defer span.End()

	findings, err := g.scanner.Scan(ctx, content)
	if err != nil {
		if g.failClosed {
			return nil, &ScanFailureError{Cause: err}
		}
		return &RedactionResult{
			Content:        content,
			OriginalLength: len(content),
			RedactedLength: len(content),
		}, nil
	}

	if len(findings) == 0 {
		return &RedactionResult{
			Content:        content,
			OriginalLength: len(content),
			RedactedLength: len(content),
		}, nil
	}

	redacted, err := g.scanner.Redact(ctx, content)
	if err != nil {
		if g.failClosed {
			return nil, &ScanFailureError{Cause: err}
		}
		return &RedactionResult{
			Content:        content,
			OriginalLength: len(content),
			RedactedLength: len(content),
			FindingsCount:  len(findings),
		}, nil
	}

	g.record(ctx, ledger.ActionRedaction, ins, map[string]any{
		"section":         ins.Section,
		"finding_count":   len(findings),
		"finding_types":   findingTypes(findings),
		"original_length": len(content),
		"redacted_length": len(redacted),
	})
	span.SetAttributes(attribute.Int("phigate.finding_count", len(findings)))

	return &RedactionResult{
		Content:        redacted,
		Redacted:       true,
		OriginalLength: len(content),
		RedactedLength: len(redacted),
		FindingsCount:  len(findings),
	}, nil
}

// HasPHI is a fast existence check. It writes no audit entry. Failure
// semantics mirror ScanBeforeInsertion: fail-closed propagates the
// detector failure, fail-open reports false.
func (g *Guard) HasPHI(ctx context.Context, content string) (bool, error) {
	found, err := g.scanner.HasPHI(ctx, content)
	if err != nil {
		if g.failClosed {
			return false, &ScanFailureError{Cause: err}
		}
		return false, nil
	}
	return found, nil
}

// record attempts an audit append. The decision stands even when the
// append fails, but the attempt is made on every path. Actor identity
// stays out of details so the content hash remains content-addressable.
func (g *Guard) record(ctx context.Context, action ledger.Action, ins Insertion, details map[string]any) {
	subject := ins.ManuscriptID
	if subject == "" {
		subject = ins.ActorID
	}
	_, _ = g.ledger.Append(ctx, action, subject, details)
}

func (g *Guard) count(ctx context.Context, outcome string) {
	g.scans.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func findingTypes(findings []detect.Finding) []string {
	types := make([]string, 0, len(findings))
	for _, f := range findings {
		types = append(types, string(f.Type))
	}
	return types
}
