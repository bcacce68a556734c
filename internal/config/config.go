package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates the service configuration. None of the options alter
// protocol semantics; they pick the listen address, the persistence
// endpoint, and tuning for reconnect recovery and enrichment.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Relay  RelayConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Store: StoreConfig{
			Endpoint: getEnvOrDefault("DB_URL", "file:chat.db"),
			Token:    strings.TrimSpace(os.Getenv("DB_TOKEN")),
		},
		Relay: relay,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// Allow ":3000" or "127.0.0.1:3000" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig points the message log at its persistence medium. Endpoint
// accepts a local SQLite path, a remote libsql://... URL with Token as the
// credential, or the literal "memory" for a non-durable log.
type StoreConfig struct {
	Endpoint string
	Token    string
}

// RelayConfig tunes transport-level behavior.
type RelayConfig struct {
	// RecoveryWindow is how long a dropped session may reconnect and still
	// be treated as a continuation of the same client.
	RecoveryWindow time.Duration
	// EnrichTimeout bounds the per-connection metadata lookups.
	EnrichTimeout time.Duration
}

func loadRelayConfig() (RelayConfig, error) {
	window, err := parseOptionalDurationEnv("RECOVERY_WINDOW")
	if err != nil {
		return RelayConfig{}, err
	}
	recoveryWindow := 2 * time.Minute
	if window != nil {
		recoveryWindow = *window
	}

	timeout, err := parseOptionalDurationEnv("ENRICH_TIMEOUT")
	if err != nil {
		return RelayConfig{}, err
	}
	enrichTimeout := 2 * time.Second
	if timeout != nil {
		enrichTimeout = *timeout
	}

	return RelayConfig{
		RecoveryWindow: recoveryWindow,
		EnrichTimeout:  enrichTimeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
