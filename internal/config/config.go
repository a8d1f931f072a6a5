package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// APIBaseURL is the REST API root, e.g. http://localhost:8080/api.
	APIBaseURL string
	// WSURL is the realtime endpoint, e.g. ws://localhost:8080/ws.
	WSURL string

	// ArchiveDSN is the local message archive database. Empty disables the
	// archive.
	ArchiveDSN string
	// ArchivePassphrase, when set, encrypts archived message content at
	// rest.
	ArchivePassphrase string

	// Email and Password are optional stored credentials for the terminal
	// client.
	Email    string
	Password string

	// MaxArchivedPerConversation bounds the local archive's retention.
	MaxArchivedPerConversation int

	Debug bool
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:                 getEnv("CROWDAID_API_URL", "http://localhost:8080/api"),
		WSURL:                      getEnv("CROWDAID_WS_URL", "ws://localhost:8080/ws"),
		ArchiveDSN:                 getEnv("CROWDAID_ARCHIVE_DSN", "file:crowdaid.db?_pragma=busy_timeout(5000)"),
		ArchivePassphrase:          os.Getenv("CROWDAID_ARCHIVE_KEY"),
		Email:                      os.Getenv("CROWDAID_EMAIL"),
		Password:                   os.Getenv("CROWDAID_PASSWORD"),
		MaxArchivedPerConversation: getEnvAsInt("CROWDAID_ARCHIVE_LIMIT", 1000),
		Debug:                      getEnvAsBool("DEBUG", false),
	}

	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid CROWDAID_API_URL: %w", err)
	}
	u, err := url.Parse(cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CROWDAID_WS_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("CROWDAID_WS_URL must use ws or wss scheme, got %q", u.Scheme)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
