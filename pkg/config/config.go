package config

import "os"

// Config holds process configuration.
type Config struct {
	Environment  string
	FailClosed   bool
	DatabaseURL  string
	KeystorePath string
	VaultPath    string
	TrustPath    string
	AuditPath    string
	OTLPEndpoint string
	ProfilePath  string
	LogLevel     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	env := os.Getenv("PHIGATE_ENV")
	if env == "" {
		env = "development"
	}

	logLevel := os.Getenv("PHIGATE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("PHIGATE_DATABASE_URL")
	if dbURL == "" {
		// Default to a local sqlite file
		dbURL = "file:phigate.db"
	}

	keystore := os.Getenv("PHIGATE_KEYSTORE")
	if keystore == "" {
		keystore = ".phigate/keystore.json"
	}

	vaultPath := os.Getenv("PHIGATE_VAULT_PATH")
	if vaultPath == "" {
		vaultPath = ".phigate/vault.json"
	}

	trustPath := os.Getenv("PHIGATE_TRUST_PATH")
	if trustPath == "" {
		trustPath = ".phigate/trust.json"
	}

	// Fail-closed is the default; only an explicit "false" disables it,
	// and construction still refuses that in production.
	failClosed := os.Getenv("PHIGATE_FAIL_CLOSED") != "false"

	return &Config{
		Environment:  env,
		FailClosed:   failClosed,
		DatabaseURL:  dbURL,
		KeystorePath: keystore,
		VaultPath:    vaultPath,
		TrustPath:    trustPath,
		AuditPath:    os.Getenv("PHIGATE_AUDIT_PATH"),
		OTLPEndpoint: os.Getenv("PHIGATE_OTLP_ENDPOINT"),
		ProfilePath:  os.Getenv("PHIGATE_PROFILE"),
		LogLevel:     logLevel,
	}
}
