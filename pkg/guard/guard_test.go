package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsafe/phigate/pkg/detect"
	"github.com/clinsafe/phigate/pkg/ledger"
)

// failingScanner simulates a detector outage.
type failingScanner struct{}

func (failingScanner) Scan(ctx context.Context, text string) ([]detect.Finding, error) {
	return nil, errors.New("ner service unreachable")
}

func (failingScanner) HasPHI(ctx context.Context, text string) (bool, error) {
	return false, errors.New("ner service unreachable")
}

func (failingScanner) Redact(ctx context.Context, text string) (string, error) {
	return "", errors.New("ner service unreachable")
}

// failingLedger simulates an audit sink outage.
type failingLedger struct{}

func (failingLedger) Append(ctx context.Context, action ledger.Action, subjectID string, details map[string]any) (*ledger.Entry, error) {
	return nil, errors.New("audit store unavailable")
}

func (failingLedger) Entries(ctx context.Context) ([]*ledger.Entry, error) {
	return nil, errors.New("audit store unavailable")
}

func (failingLedger) Head(ctx context.Context) (string, error) {
	return "", errors.New("audit store unavailable")
}

func newTestGuard(t *testing.T, failClosed bool) (*Guard, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	g, err := New(Options{
		Scanner:     detect.NewRegexScanner(),
		Ledger:      store,
		Environment: "test",
		FailClosed:  failClosed,
	})
	require.NoError(t, err)
	return g, store
}

func TestNew_RejectsFailOpenInProduction(t *testing.T) {
	_, err := New(Options{
		Scanner:     detect.NewRegexScanner(),
		Ledger:      ledger.NewMemoryStore(),
		Environment: EnvProduction,
		FailClosed:  false,
	})
	require.ErrorIs(t, err, ErrFailOpenInProduction)

	g, err := New(Options{
		Scanner:     detect.NewRegexScanner(),
		Ledger:      ledger.NewMemoryStore(),
		Environment: EnvProduction,
		FailClosed:  true,
	})
	require.NoError(t, err)
	assert.True(t, g.FailClosed())
}

func TestScanBeforeInsertion_CleanContentPasses(t *testing.T) {
	g, store := newTestGuard(t, true)
	ctx := context.Background()

	result, err := g.ScanBeforeInsertion(ctx, "This is clean medical research content.", Insertion{
		ManuscriptID: "ms-1", Section: "methods", ActorID: "author-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Findings)
	assert.Equal(t, RiskNone, result.RiskLevel)

	entries, _ := store.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionScanPassed, entries[0].Action)
}

func TestScanBeforeInsertion_BlocksGovernmentID(t *testing.T) {
	g, store := newTestGuard(t, true)
	ctx := context.Background()

	_, err := g.ScanBeforeInsertion(ctx, "Patient SSN: 123-45-6789", Insertion{
		ManuscriptID: "ms-1", Section: "methods", ActorID: "author-1",
	})

	var detected *DetectedError
	require.ErrorAs(t, err, &detected)
	require.Len(t, detected.Findings, 1)
	assert.Equal(t, detect.TypeGovernmentID, detected.Findings[0].Type)
	assert.Equal(t, RiskHigh, detected.RiskLevel)

	entries, _ := store.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionScanBlocked, entries[0].Action)
}

func TestScanBeforeInsertion_FailClosedRejectsOnDetectorFailure(t *testing.T) {
	store := ledger.NewMemoryStore()
	g, err := New(Options{
		Scanner:     failingScanner{},
		Ledger:      store,
		Environment: "test",
		FailClosed:  true,
	})
	require.NoError(t, err)

	result, err := g.ScanBeforeInsertion(context.Background(), "anything", Insertion{ManuscriptID: "ms-1"})
	assert.Nil(t, result)

	var scanFailure *ScanFailureError
	require.ErrorAs(t, err, &scanFailure)

	entries, _ := store.Entries(context.Background())
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionScanFailed, entries[0].Action)
}

func TestScanBeforeInsertion_FailOpenReturnsResultInsteadOfError(t *testing.T) {
	g, err := New(Options{
		Scanner:     failingScanner{},
		Ledger:      ledger.NewMemoryStore(),
		Environment: "test",
		FailClosed:  false,
	})
	require.NoError(t, err)

	result, err := g.ScanBeforeInsertion(context.Background(), "anything", Insertion{ManuscriptID: "ms-1"})
	require.NoError(t, err)
	assert.False(t, result.Passed)

	g2, _ := newTestGuardFailOpen(t)
	result, err = g2.ScanBeforeInsertion(context.Background(), "Patient SSN: 123-45-6789", Insertion{ManuscriptID: "ms-1"})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Findings)
}

func newTestGuardFailOpen(t *testing.T) (*Guard, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	g, err := New(Options{
		Scanner:     detect.NewRegexScanner(),
		Ledger:      store,
		Environment: "test",
		FailClosed:  false,
	})
	require.NoError(t, err)
	return g, store
}

func TestScanBeforeInsertion_LedgerFailureDoesNotMaskDecision(t *testing.T) {
	g, err := New(Options{
		Scanner:     detect.NewRegexScanner(),
		Ledger:      failingLedger{},
		Environment: "test",
		FailClosed:  true,
	})
	require.NoError(t, err)

	result, err := g.ScanBeforeInsertion(context.Background(), "clean text", Insertion{ManuscriptID: "ms-1"})
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestRedactAndLog_NoFindingsIsIdempotentAndUnlogged(t *testing.T) {
	g, store := newTestGuard(t, true)
	ctx := context.Background()

	content := "No identifiers appear in this sentence."
	result, err := g.RedactAndLog(ctx, content, Insertion{ManuscriptID: "ms-1"})
	require.NoError(t, err)
	assert.Equal(t, content, result.Content)
	assert.False(t, result.Redacted)
	assert.Zero(t, result.FindingsCount)

	entries, _ := store.Entries(ctx)
	assert.Empty(t, entries, "clean content must not produce an audit entry")
}

func TestRedactAndLog_RedactsAndRerunsClean(t *testing.T) {
	g, store := newTestGuard(t, true)
	ctx := context.Background()

	first, err := g.RedactAndLog(ctx, "Contact me at jane.doe@example.com today.", Insertion{ManuscriptID: "ms-1"})
	require.NoError(t, err)
	assert.True(t, first.Redacted)
	assert.Equal(t, 1, first.FindingsCount)
	assert.NotContains(t, first.Content, "jane.doe@example.com")

	entries, _ := store.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionRedaction, entries[0].Action)

	// Re-running on the redacted output changes nothing and logs nothing.
	second, err := g.RedactAndLog(ctx, first.Content, Insertion{ManuscriptID: "ms-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.False(t, second.Redacted)

	entries, _ = store.Entries(ctx)
	assert.Len(t, entries, 1)
}

func TestHasPHI_FailureSymmetry(t *testing.T) {
	closed, err := New(Options{
		Scanner: failingScanner{}, Ledger: ledger.NewMemoryStore(),
		Environment: "test", FailClosed: true,
	})
	require.NoError(t, err)
	_, err = closed.HasPHI(context.Background(), "x")
	var scanFailure *ScanFailureError
	require.ErrorAs(t, err, &scanFailure)

	open, err := New(Options{
		Scanner: failingScanner{}, Ledger: ledger.NewMemoryStore(),
		Environment: "test", FailClosed: false,
	})
	require.NoError(t, err)
	found, err := open.HasPHI(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHasPHI_DetectsWithoutAuditing(t *testing.T) {
	g, store := newTestGuard(t, true)
	ctx := context.Background()

	found, err := g.HasPHI(ctx, "MRN: 12345678")
	require.NoError(t, err)
	assert.True(t, found)

	entries, _ := store.Entries(ctx)
	assert.Empty(t, entries)
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		name     string
		findings []detect.Finding
		want     RiskLevel
	}{
		{"empty", nil, RiskNone},
		{"single high-risk type", []detect.Finding{
			{Type: detect.TypeGovernmentID, StartIndex: 0, EndIndex: 11},
		}, RiskHigh},
		{"single low-risk type", []detect.Finding{
			{Type: detect.TypeEmail, StartIndex: 0, EndIndex: 10},
		}, RiskLow},
		{"two low-risk findings", []detect.Finding{
			{Type: detect.TypeEmail, StartIndex: 0, EndIndex: 10},
			{Type: detect.TypePhone, StartIndex: 20, EndIndex: 32},
		}, RiskMedium},
		{"three low-risk findings", []detect.Finding{
			{Type: detect.TypeEmail, StartIndex: 0, EndIndex: 10},
			{Type: detect.TypePhone, StartIndex: 20, EndIndex: 32},
			{Type: detect.TypeAddress, StartIndex: 40, EndIndex: 60},
		}, RiskHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyRisk(tc.findings))
		})
	}
}
