package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/clinsafe/phigate/pkg/attest"
	"github.com/clinsafe/phigate/pkg/config"
	"github.com/clinsafe/phigate/pkg/vault"
)

// runQuarantineCmd dispatches `phigate quarantine <list|release|purge>`.
func runQuarantineCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "list":
		return runQuarantineList(cfg, args[1:], stdout, stderr)
	case "release":
		return runQuarantineRelease(cfg, args[1:], stdout, stderr)
	case "purge":
		return runQuarantinePurge(cfg, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown quarantine subcommand: %s\n", args[0])
		return 2
	}
}

func runQuarantineList(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("quarantine list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output items as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	v, err := openVault(cfg, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	items := v.List()
	if jsonOutput {
		printJSON(stdout, items)
		return 0
	}

	if len(items) == 0 {
		_, _ = fmt.Fprintln(stdout, "No quarantined items.")
		return 0
	}
	for _, item := range items {
		status := "sealed"
		if item.Released {
			status = "released"
		}
		expiry := "never"
		if item.ExpiresAt != nil {
			expiry = item.ExpiresAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(stdout, "%s  %-8s  quarantined %s  expires %s  %s\n",
			item.ID, status, item.QuarantinedAt.Format(time.RFC3339), expiry, item.Reason)
	}
	return 0
}

// runQuarantineRelease performs an attested single-use release. The
// reviewer signs the attestation locally with their seed key; the
// verifier only accepts keys registered in the trust file.
//
// Exit codes:
//
//	0 = released, plaintext written to stdout
//	1 = release refused (token, expiry, attestation, or already used)
//	2 = runtime error
func runQuarantineRelease(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("quarantine release", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		id      string
		token   string
		user    string
		reason  string
		keyFile string
	)

	cmd.StringVar(&id, "id", "", "Quarantined item ID (REQUIRED)")
	cmd.StringVar(&token, "token", "", "Single-use release token (REQUIRED)")
	cmd.StringVar(&user, "user", "", "Reviewer user ID (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Reason for release (REQUIRED)")
	cmd.StringVar(&keyFile, "signing-key", "", "Path to reviewer's Ed25519 seed file (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" || token == "" || user == "" || reason == "" || keyFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id, --token, --user, --reason, and --signing-key are required")
		return 2
	}

	keys, err := loadSeedKey(keyFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	attestation, err := attest.NewSigner(user, keys).Attest(reason, time.Now())
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

	plaintext, err := v.Release(ctx, vault.ReleaseRequest{
		ID:          id,
		Token:       token,
		Attestation: attestation,
	})
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrNotFound),
			errors.Is(err, vault.ErrAlreadyReleased),
			errors.Is(err, vault.ErrInvalidToken),
			errors.Is(err, vault.ErrExpired),
			errors.Is(err, vault.ErrInvalidAttestation):
			_, _ = fmt.Fprintf(stderr, "Release refused: %v\n", err)
			return 1
		default:
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if err := v.SaveFile(cfg.VaultPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintln(stdout, plaintext)
	return 0
}

func runQuarantinePurge(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("quarantine purge", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	v, err := openVault(cfg, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	purged := v.Purge(time.Now())
	if purged > 0 {
		if err := v.SaveFile(cfg.VaultPath); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	_, _ = fmt.Fprintf(stdout, "Invalidated tokens for %d expired item(s)\n", purged)
	return 0
}
