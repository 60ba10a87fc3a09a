package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clinsafe/phigate/pkg/config"
	"github.com/clinsafe/phigate/pkg/finalscan"
	"github.com/clinsafe/phigate/pkg/vault"
)

// runFinalScanCmd implements `phigate final-scan`: the self-contained
// pre-submission check over a whole manuscript. Sections come either
// from one file per section under --dir, or from a single --file.
//
// Exit codes:
//
//	0 = manuscript passed
//	1 = detections found (submission blocked)
//	2 = runtime error
func runFinalScanCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("final-scan", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manuscript string
		dir        string
		file       string
		actor      string
		jsonOutput bool
	)

	cmd.StringVar(&manuscript, "manuscript", "", "Manuscript ID (REQUIRED)")
	cmd.StringVar(&dir, "dir", "", "Directory of section files (filename = section name)")
	cmd.StringVar(&file, "file", "", "Single content file, scanned as section \"body\"")
	cmd.StringVar(&actor, "actor", "cli", "Actor ID for the audit trail")
	cmd.BoolVar(&jsonOutput, "json", false, "Output full result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if manuscript == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --manuscript is required")
		return 2
	}
	if (dir == "") == (file == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --dir or --file is required")
		return 2
	}

	sections, err := loadSections(dir, file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	auditor, cleanup, err := auditLedger(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	v, err := openVault(cfg, auditor)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var quarantiner finalscan.Quarantiner = v
	var opts []finalscan.Option
	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		extra, err := profile.CompileRules()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		opts = append(opts, finalscan.WithRules(extra...))
		if hours := profile.Quarantine.DefaultExpiryHours; hours > 0 {
			quarantiner = &expiringQuarantiner{vault: v, hours: hours}
		}
	}
	opts = append(opts, finalscan.WithQuarantine(quarantiner))

	engine, err := finalscan.NewEngine(auditor, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	result, err := engine.PerformFinalScan(ctx, manuscript, sections, actor)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: final scan failed: %v\n", err)
		return 2
	}

	if err := v.SaveFile(cfg.VaultPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		printJSON(stdout, result)
	} else if result.Passed {
		_, _ = fmt.Fprintf(stdout, "PASSED: %d section(s) scanned, no detections\n", result.TotalScanned)
		_, _ = fmt.Fprintf(stdout, "Audit hash: %s\n", result.AuditHash)
	} else {
		_, _ = fmt.Fprintf(stdout, "BLOCKED: %d detection(s) across %d section(s)\n",
			len(result.Detections), result.TotalScanned)
		for _, d := range result.Detections {
			_, _ = fmt.Fprintf(stdout, "  - [%s] %s in %q at [%d,%d): %s\n",
				d.Severity, d.Type, d.Section, d.StartIndex, d.EndIndex, d.Recommendation)
		}
		if len(result.QuarantinedItemIDs) > 0 {
			_, _ = fmt.Fprintf(stdout, "Quarantined items: %v\n", result.QuarantinedItemIDs)
		}
		if result.AttestationRequired {
			_, _ = fmt.Fprintln(stdout, "Reviewer attestation required before release.")
		}
		_, _ = fmt.Fprintf(stdout, "Audit hash: %s\n", result.AuditHash)
	}

	if result.Passed {
		return 0
	}
	return 1
}

// expiringQuarantiner applies the profile's default expiry to items the
// final scan seals.
type expiringQuarantiner struct {
	vault *vault.Vault
	hours int
}

func (q *expiringQuarantiner) QuarantineContent(ctx context.Context, content, reason string) (string, error) {
	item, err := q.vault.Quarantine(ctx, vault.QuarantineRequest{
		Content:     content,
		Reason:      reason,
		ExpiryHours: q.hours,
	})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func loadSections(dir, file string) (map[string]string, error) {
	sections := make(map[string]string)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		sections["body"] = string(data)
		return sections, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		sections[entry.Name()] = string(data)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no section files in %s", dir)
	}
	return sections, nil
}
