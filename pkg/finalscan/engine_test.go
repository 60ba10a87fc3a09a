package finalscan

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsafe/phigate/pkg/ledger"
)

// fakeVault records quarantined regions without encrypting.
type fakeVault struct {
	stored []string
}

func (f *fakeVault) QuarantineContent(ctx context.Context, content, reason string) (string, error) {
	f.stored = append(f.stored, content)
	return fmt.Sprintf("item-%d", len(f.stored)), nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	e, err := NewEngine(store, opts...)
	require.NoError(t, err)
	return e, store
}

func TestPerformFinalScan_CleanManuscriptPasses(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	result, err := e.PerformFinalScan(ctx, "ms-1", map[string]string{
		"abstract": "We measured outcomes across the cohort.",
		"methods":  "Participants were randomized in equal arms.",
	}, "exporter-1")
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.TotalScanned)
	assert.Empty(t, result.Detections)
	assert.False(t, result.AttestationRequired)
	assert.NotEmpty(t, result.AuditHash)

	entries, _ := store.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionFinalScanPassed, entries[0].Action)
}

func TestPerformFinalScan_BlocksIdentityAndGovernmentID(t *testing.T) {
	fv := &fakeVault{}
	e, store := newTestEngine(t, WithQuarantine(fv))
	ctx := context.Background()

	result, err := e.PerformFinalScan(ctx, "ms-1", map[string]string{
		"methods": "Mr. John Smith, SSN 123-45-6789 enrolled.",
	}, "exporter-1")
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.GreaterOrEqual(t, len(result.Detections), 2)
	assert.True(t, result.AttestationRequired)
	assert.GreaterOrEqual(t, len(result.QuarantinedItemIDs), 1)

	types := map[DetectionType]bool{}
	for _, d := range result.Detections {
		types[d.Type] = true
		assert.Equal(t, "methods", d.Section)
		assert.Greater(t, d.EndIndex, d.StartIndex)
		assert.NotEmpty(t, d.Recommendation)
	}
	assert.True(t, types[TypeNameWithHonorific], "expected an identity detection")
	assert.True(t, types[TypeGovernmentID], "expected a government-ID detection")

	entries, _ := store.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionFinalScanBlocked, entries[0].Action)
}

func TestPerformFinalScan_SkipsEmptySections(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PerformFinalScan(context.Background(), "ms-1", map[string]string{
		"abstract":   "Real content here.",
		"discussion": "   \n\t ",
		"appendix":   "",
	}, "exporter-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalScanned)
}

func TestPerformFinalScan_SectionAttribution(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PerformFinalScan(context.Background(), "ms-1", map[string]string{
		"methods": "Contact: jane@example.org",
		"results": "Nothing sensitive.",
	}, "exporter-1")
	require.NoError(t, err)

	require.Len(t, result.Detections, 1)
	assert.Equal(t, "methods", result.Detections[0].Section)
	assert.Equal(t, TypeEmail, result.Detections[0].Type)
	assert.Equal(t, SeverityHigh, result.Detections[0].Severity)
	assert.True(t, result.AttestationRequired)
	assert.Empty(t, result.QuarantinedItemIDs, "high severity alone is not quarantined")
}

func TestPerformFinalScan_MediumSeverityNeedsNoAttestation(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PerformFinalScan(context.Background(), "ms-1", map[string]string{
		"methods": "Shipped to zip code 02139 for analysis.",
	}, "exporter-1")
	require.NoError(t, err)

	require.Len(t, result.Detections, 1)
	assert.Equal(t, SeverityMedium, result.Detections[0].Severity)
	assert.False(t, result.Passed)
	assert.False(t, result.AttestationRequired)
}

func TestAuditHash_Distinguishing(t *testing.T) {
	clockTime := time.Date(2031, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockTime }

	e1, _ := newTestEngine(t, WithClock(clock))
	sections := map[string]string{"methods": "Patient SSN 123-45-6789."}

	r1, err := e1.PerformFinalScan(context.Background(), "ms-1", sections, "actor")
	require.NoError(t, err)
	r2, err := e1.PerformFinalScan(context.Background(), "ms-2", sections, "actor")
	require.NoError(t, err)

	assert.NotEqual(t, r1.AuditHash, r2.AuditHash,
		"distinct manuscripts must produce distinct audit hashes even for identical content")

	r3, err := e1.PerformFinalScan(context.Background(), "ms-1", map[string]string{
		"methods": "Nothing to see.",
	}, "actor")
	require.NoError(t, err)
	assert.NotEqual(t, r1.AuditHash, r3.AuditHash,
		"different detection counts must produce different audit hashes")
}

func TestPerformFinalScan_QuarantinesOnlyCriticalRegions(t *testing.T) {
	fv := &fakeVault{}
	e, _ := newTestEngine(t, WithQuarantine(fv))

	text := "Dr. Ada Lovelace can be reached at ada@example.org."
	result, err := e.PerformFinalScan(context.Background(), "ms-1", map[string]string{
		"acknowledgements": text,
	}, "exporter-1")
	require.NoError(t, err)

	require.Len(t, result.QuarantinedItemIDs, 1)
	require.Len(t, fv.stored, 1)
	assert.Equal(t, "Dr. Ada Lovelace", fv.stored[0])
}

func mustCompileTest(pattern string) *regexp.Regexp {
	return regexp.MustCompile(pattern)
}

func TestWithRules_ExtendsTable(t *testing.T) {
	extra := Rule{
		Type:           DetectionType("STUDY_CODE"),
		Matcher:        mustCompileTest(`\bSTUDY-\d{4}\b`),
		Severity:       SeverityMedium,
		Recommendation: "Remove the internal study code",
	}
	e, _ := newTestEngine(t, WithRules(extra))

	result, err := e.PerformFinalScan(context.Background(), "ms-1", map[string]string{
		"methods": "Enrolled under STUDY-1234.",
	}, "exporter-1")
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, DetectionType("STUDY_CODE"), result.Detections[0].Type)
}
