// Package finalscan implements the last gate before export: an
// exhaustive scan of every manuscript section against a fixed,
// declarative rule table. The engine is self-contained on purpose; it
// calls no external detector, so it stays available when the insertion
// guard's pluggable adapter is not.
package finalscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinsafe/phigate/pkg/ledger"
)

// Detection is a single rule match. It carries positions, type tags,
// and a generic remediation string; never the matched text.
type Detection struct {
	DetectionID    string        `json:"detection_id"`
	Section        string        `json:"section"`
	Type           DetectionType `json:"type"`
	Severity       Severity      `json:"severity"`
	StartIndex     int           `json:"start_index"`
	EndIndex       int           `json:"end_index"`
	Recommendation string        `json:"recommendation"`
}

// FinalScanResult is the export gate decision.
type FinalScanResult struct {
	Passed              bool        `json:"passed"`
	ManuscriptID        string      `json:"manuscript_id"`
	ScanTimestamp       time.Time   `json:"scan_timestamp"`
	TotalScanned        int         `json:"total_scanned"`
	Detections          []Detection `json:"detections"`
	QuarantinedItemIDs  []string    `json:"quarantined_item_ids"`
	AttestationRequired bool        `json:"attestation_required"`
	AuditHash           string      `json:"audit_hash"`
}

// Quarantiner stores critical content pending human release. The vault
// satisfies this; a nil Quarantiner disables quarantining (detections
// are still reported and still block export).
type Quarantiner interface {
	QuarantineContent(ctx context.Context, content, reason string) (string, error)
}

// Engine runs the final scan. Construct once and share; it is
// stateless apart from its injected collaborators.
type Engine struct {
	rules  []Rule
	ledger ledger.Ledger
	vault  Quarantiner
	clock  func() time.Time
	tracer trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRules appends extra rules (e.g. from a policy profile) after the
// built-in table.
func WithRules(extra ...Rule) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, extra...)
	}
}

// WithQuarantine wires the vault for critical detections.
func WithQuarantine(q Quarantiner) Option {
	return func(e *Engine) {
		e.vault = q
	}
}

// WithClock overrides time.Now for testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine builds an Engine over the built-in rule table.
func NewEngine(auditLedger ledger.Ledger, opts ...Option) (*Engine, error) {
	if auditLedger == nil {
		return nil, fmt.Errorf("finalscan: ledger is required")
	}

	e := &Engine{
		rules:  append([]Rule(nil), DefaultRules...),
		ledger: auditLedger,
		clock:  time.Now,
		tracer: otel.Tracer("phigate.finalscan"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// PerformFinalScan scans every named section of the manuscript.
// Whitespace-only sections are skipped and excluded from TotalScanned.
// The outcome is always written to the audit ledger; critical
// detections are quarantined when a vault is wired.
func (e *Engine) PerformFinalScan(ctx context.Context, manuscriptID string, sections map[string]string, actorID string) (*FinalScanResult, error) {
	ctx, span := e.tracer.Start(ctx, "finalscan.perform")
	defer span.End()

	now := e.clock().UTC()

	// Deterministic section order keeps detection ordering stable.
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		detections   []Detection
		totalScanned int
	)
	for _, name := range names {
		text := sections[name]
		if strings.TrimSpace(text) == "" {
			continue
		}
		totalScanned++
		detections = append(detections, e.scanSection(name, text)...)
	}

	attestationRequired := false
	for _, d := range detections {
		if d.Severity == SeverityCritical || d.Severity == SeverityHigh {
			attestationRequired = true
			break
		}
	}

	quarantinedIDs := e.quarantineCritical(ctx, sections, detections)

	result := &FinalScanResult{
		Passed:              len(detections) == 0,
		ManuscriptID:        manuscriptID,
		ScanTimestamp:       now,
		TotalScanned:        totalScanned,
		Detections:          detections,
		QuarantinedItemIDs:  quarantinedIDs,
		AttestationRequired: attestationRequired,
	}
	result.AuditHash = auditHash(manuscriptID, len(detections), actorID, now)

	span.SetAttributes(
		attribute.Int("phigate.detection_count", len(detections)),
		attribute.Bool("phigate.passed", result.Passed),
	)

	e.record(ctx, result)
	return result, nil
}

// scanSection evaluates every rule against one section, so each
// detection's Section is always correct.
func (e *Engine) scanSection(name, text string) []Detection {
	var out []Detection
	for _, rule := range e.rules {
		for _, loc := range rule.Matcher.FindAllStringIndex(text, -1) {
			out = append(out, Detection{
				DetectionID:    uuid.New().String(),
				Section:        name,
				Type:           rule.Type,
				Severity:       rule.Severity,
				StartIndex:     loc[0],
				EndIndex:       loc[1],
				Recommendation: rule.Recommendation,
			})
		}
	}
	return out
}

// quarantineCritical encrypts the matched region of each critical
// detection into the vault. Quarantine failures do not abort the scan;
// the detection still blocks export.
func (e *Engine) quarantineCritical(ctx context.Context, sections map[string]string, detections []Detection) []string {
	ids := []string{}
	if e.vault == nil {
		return ids
	}

	for _, d := range detections {
		if d.Severity != SeverityCritical {
			continue
		}
		text := sections[d.Section]
		if d.EndIndex > len(text) {
			continue
		}
		id, err := e.vault.QuarantineContent(ctx, text[d.StartIndex:d.EndIndex],
			fmt.Sprintf("final-scan:%s:%s", d.Type, d.Section))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// auditHash certifies that a scan of a given shape occurred. It covers
// manuscript identity, detection count, actor, and time; it is not a
// content hash.
func auditHash(manuscriptID string, detectionCount int, actorID string, ts time.Time) string {
	payload, _ := json.Marshal(struct {
		ManuscriptID   string `json:"manuscript_id"`
		DetectionCount int    `json:"detection_count"`
		ActorID        string `json:"actor_id"`
		Timestamp      string `json:"timestamp"`
	}{manuscriptID, detectionCount, actorID, ts.Format(time.RFC3339Nano)})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// record writes the gate outcome to the ledger. Best-effort: a ledger
// failure does not change the decision, but the attempt always happens.
func (e *Engine) record(ctx context.Context, result *FinalScanResult) {
	action := ledger.ActionFinalScanPassed
	if !result.Passed {
		action = ledger.ActionFinalScanBlocked
	}

	severities := map[string]int{}
	for _, d := range result.Detections {
		severities[string(d.Severity)]++
	}

	_, _ = e.ledger.Append(ctx, action, result.ManuscriptID, map[string]any{
		"detection_count":      len(result.Detections),
		"total_scanned":        result.TotalScanned,
		"attestation_required": result.AttestationRequired,
		"quarantined_count":    len(result.QuarantinedItemIDs),
		"severity_counts":      severities,
	})
}
