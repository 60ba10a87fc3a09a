package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/clinsafe/phigate/pkg/config"
	"github.com/clinsafe/phigate/pkg/guard"
	"github.com/clinsafe/phigate/pkg/observability"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	initLogger(cfg, stderr)

	// Telemetry installs the global tracer/meter providers the gate
	// packages record against; without it they fall back to no-ops.
	if cfg.OTLPEndpoint != "" {
		provider, err := observability.New(context.Background(), telemetryConfig(cfg))
		if err != nil {
			slog.Warn("telemetry disabled", "error", err)
		} else {
			defer func() {
				if err := provider.Shutdown(context.Background()); err != nil {
					slog.Warn("telemetry shutdown", "error", err)
				}
			}()
		}
	}

	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "scan":
		return runScanCmd(cfg, args[2:], stdout, stderr)
	case "final-scan":
		return runFinalScanCmd(cfg, args[2:], stdout, stderr)
	case "verify-ledger":
		return runVerifyLedgerCmd(cfg, args[2:], stdout, stderr)
	case "quarantine":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: phigate quarantine <list|release>")
			return 2
		}
		return runQuarantineCmd(cfg, args[2:], stdout, stderr)
	case "keys":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: phigate keys <generate>")
			return 2
		}
		return runKeysCmd(args[2:], stdout, stderr)
	case "trust":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: phigate trust <add|list>")
			return 2
		}
		return runTrustCmd(cfg, args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// telemetryConfig maps process config onto the telemetry provider.
// TLS is required against the collector in production.
func telemetryConfig(cfg *config.Config) *observability.Config {
	c := observability.DefaultConfig()
	c.Environment = cfg.Environment
	c.OTLPEndpoint = cfg.OTLPEndpoint
	c.Insecure = cfg.Environment != guard.EnvProduction
	return c
}

func initLogger(cfg *config.Config, stderr io.Writer) {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "phigate - PHI protection gate for manuscript pipelines")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  phigate <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SCANNING")
	printCommand(w, "scan", "Scan content before insertion (--file, --redact, --json)")
	printCommand(w, "final-scan", "Run the pre-submission final scan (--manuscript, --dir)")

	printSection(w, "AUDIT")
	printCommand(w, "verify-ledger", "Verify the audit chain end to end (--json)")

	printSection(w, "QUARANTINE")
	printCommand(w, "quarantine", "Inspect or release vault items (list/release)")

	printSection(w, "TRUST MANAGEMENT")
	printCommand(w, "keys", "Generate a reviewer signing key (generate)")
	printCommand(w, "trust", "Manage trusted reviewer keys (add/list)")

	printSection(w, "UTILITIES")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment: PHIGATE_ENV, PHIGATE_FAIL_CLOSED, PHIGATE_DATABASE_URL,")
	fmt.Fprintln(w, "             PHIGATE_KEYSTORE, PHIGATE_VAULT_PATH, PHIGATE_TRUST_PATH,")
	fmt.Fprintln(w, "             PHIGATE_AUDIT_PATH, PHIGATE_PROFILE, PHIGATE_LOG_LEVEL,")
	fmt.Fprintln(w, "             PHIGATE_OTLP_ENDPOINT")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}
