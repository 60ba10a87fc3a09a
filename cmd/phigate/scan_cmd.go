package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/clinsafe/phigate/pkg/config"
	"github.com/clinsafe/phigate/pkg/detect"
	"github.com/clinsafe/phigate/pkg/guard"
)

// runScanCmd implements `phigate scan`: the insertion-time gate run
// against a file or stdin.
//
// Exit codes:
//
//	0 = content passed
//	1 = content blocked (PHI detected, or detector failed fail-closed)
//	2 = runtime error
func runScanCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("scan", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file       string
		manuscript string
		section    string
		actor      string
		redact     bool
		jsonOutput bool
	)

	cmd.StringVar(&file, "file", "", "Path to content file (default: stdin)")
	cmd.StringVar(&manuscript, "manuscript", "unspecified", "Manuscript ID for the audit trail")
	cmd.StringVar(&section, "section", "body", "Section name for the audit trail")
	cmd.StringVar(&actor, "actor", "cli", "Actor ID for the audit trail")
	cmd.BoolVar(&redact, "redact", false, "Redact findings and print the result instead of blocking")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	content, err := readContent(file)
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

	g, err := guard.New(guard.Options{
		Scanner:     detect.NewRegexScanner(),
		Ledger:      auditor,
		Environment: cfg.Environment,
		FailClosed:  cfg.FailClosed,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ins := guard.Insertion{ManuscriptID: manuscript, Section: section, ActorID: actor}

	if redact {
		res, err := g.RedactAndLog(ctx, content, ins)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: redaction failed: %v\n", err)
			return 2
		}
		if jsonOutput {
			printJSON(stdout, res)
		} else {
			_, _ = fmt.Fprintln(stdout, res.Content)
			if res.Redacted {
				_, _ = fmt.Fprintf(stderr, "Redacted %d finding(s)\n", res.FindingsCount)
			}
		}
		return 0
	}

	res, err := g.ScanBeforeInsertion(ctx, content, ins)
	if err != nil {
		var detected *guard.DetectedError
		if errors.As(err, &detected) {
			if jsonOutput {
				printJSON(stdout, map[string]any{
					"passed":     false,
					"risk_level": detected.RiskLevel,
					"findings":   detected.Findings,
				})
			} else {
				_, _ = fmt.Fprintf(stdout, "BLOCKED: %d finding(s), risk %s\n", len(detected.Findings), detected.RiskLevel)
				for _, f := range detected.Findings {
					_, _ = fmt.Fprintf(stdout, "  - %s at [%d,%d)\n", f.Type, f.StartIndex, f.EndIndex)
				}
			}
			return 1
		}
		var failure *guard.ScanFailureError
		if errors.As(err, &failure) {
			_, _ = fmt.Fprintf(stderr, "BLOCKED: detector failure under fail-closed policy: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		printJSON(stdout, res)
	} else if res.Passed {
		_, _ = fmt.Fprintln(stdout, "PASSED: no PHI detected")
	} else {
		// Fail-open mode surfaces the failure in the result.
		_, _ = fmt.Fprintln(stdout, "WARNING: scan did not pass (fail-open mode)")
	}
	if res.Passed {
		return 0
	}
	return 1
}

func readContent(file string) (string, error) {
	if file == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}
