package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/clinsafe/phigate/pkg/config"
)

// runKeysCmd implements `phigate keys generate`: mint a reviewer
// signing key. The seed stays with the reviewer; only the public key
// enters the trust file.
func runKeysCmd(args []string, stdout, stderr io.Writer) int {
	if args[0] != "generate" {
		_, _ = fmt.Fprintf(stderr, "Unknown keys subcommand: %s\n", args[0])
		return 2
	}

	cmd := flag.NewFlagSet("keys generate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var out string
	cmd.StringVar(&out, "out", "", "Path to write the hex-encoded seed (REQUIRED)")

	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if out == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		return 2
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 2
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	seed := hex.EncodeToString(priv.Seed())
	if err := os.WriteFile(out, []byte(seed+"\n"), 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write seed: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "Seed written to %s\n", out)
	_, _ = fmt.Fprintf(stdout, "Public key: %s\n", hex.EncodeToString(pub))
	_, _ = fmt.Fprintln(stdout, "Register it with: phigate trust add --user <id> --pubkey <key>")
	return 0
}

// runTrustCmd implements `phigate trust <add|list>` over the reviewer
// trust file.
func runTrustCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "add":
		return runTrustAdd(cfg, args[1:], stdout, stderr)
	case "list":
		return runTrustList(cfg, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown trust subcommand: %s\n", args[0])
		return 2
	}
}

func runTrustAdd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust add", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		user   string
		pubkey string
	)
	cmd.StringVar(&user, "user", "", "Reviewer user ID (REQUIRED)")
	cmd.StringVar(&pubkey, "pubkey", "", "Hex-encoded Ed25519 public key (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if user == "" || pubkey == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --user and --pubkey are required")
		return 2
	}

	key, err := hex.DecodeString(pubkey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		_, _ = fmt.Fprintf(stderr, "Error: expected %d hex-encoded public key bytes\n", ed25519.PublicKeySize)
		return 2
	}

	trusted, err := loadTrust(cfg.TrustPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	trusted[user] = ed25519.PublicKey(key)

	if err := saveTrust(cfg.TrustPath, trusted); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "Trusted key added for %s (%d total)\n", user, len(trusted))
	return 0
}

func runTrustList(cfg *config.Config, stdout, stderr io.Writer) int {
	trusted, err := loadTrust(cfg.TrustPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if len(trusted) == 0 {
		_, _ = fmt.Fprintln(stdout, "No trusted reviewer keys.")
		return 0
	}

	users := make([]string, 0, len(trusted))
	for user := range trusted {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		_, _ = fmt.Fprintf(stdout, "%-20s %s\n", user, hex.EncodeToString(trusted[user]))
	}
	return 0
}
