package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/clinsafe/phigate/pkg/config"
	"github.com/clinsafe/phigate/pkg/ledger"
)

// runVerifyLedgerCmd implements `phigate verify-ledger`: recompute and
// check every hash link in the audit chain.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken (tampering or corruption)
//	2 = runtime error
func runVerifyLedgerCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-ledger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		jsonOutput bool
		export     string
	)

	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	cmd.StringVar(&export, "export", "", "Also export verified entries as JSON lines to this file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	db, store, err := openLedger(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	entries, err := store.Entries(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: reading entries: %v\n", err)
		return 2
	}

	verifyErr := ledger.Verify(entries)

	head := ledger.GenesisHash
	if len(entries) > 0 {
		head = entries[len(entries)-1].EntryHash
	}

	if verifyErr == nil && export != "" {
		if err := exportEntries(ctx, store, export); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Exported %d entries to %s\n", len(entries), export)
	}

	if jsonOutput {
		result := map[string]any{
			"valid":   verifyErr == nil,
			"entries": len(entries),
			"head":    head,
		}
		if verifyErr != nil {
			result["error"] = verifyErr.Error()
		}
		printJSON(stdout, result)
	} else if verifyErr == nil {
		_, _ = fmt.Fprintf(stdout, "Chain intact: %d entries, head %s\n", len(entries), head)
	} else {
		_, _ = fmt.Fprintf(stdout, "Chain BROKEN: %v\n", verifyErr)
	}

	if verifyErr != nil {
		return 1
	}
	return 0
}

func exportEntries(ctx context.Context, l ledger.Ledger, path string) error {
	f, err := createPrivate(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return ledger.Export(ctx, l, func(line []byte) error {
		_, err := f.Write(line)
		return err
	})
}
