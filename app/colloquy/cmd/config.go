package cmd

import (
	"log"
	"os"
	"time"
)

var config = Config{}

type Config struct {
	// Server config
	ListenAddr string
	AuthTokens string // "token:owner,token:owner"

	// Storage config; empty means in-memory
	DatabaseURL string

	// Generation config
	Backend           string // simulated, anthropic, or openai
	AnthropicAPIKey   string
	AnthropicModel    string
	OpenAIAPIKey      string
	OpenAIModel       string
	GenerationCeiling time.Duration // simulated backend emission ceiling

	// Telemetry config
	TelemetryEnabled  bool
	TelemetryEndpoint string
}

func loadFromEnv(dest *string, key string) {
	parseFromEnv(dest, key, func(v string) (string, error) { return v, nil })
}

func parseFromEnv[T any](dest *T, key string, parseFn func(string) (T, error)) {
	str := os.Getenv(key)
	if str == "" {
		log.Fatalf("%s not set", key)
	}
	v, err := parseFn(str)
	if err != nil {
		log.Fatalf("failed to parse environment variable '%s' value '%s' as '%T': %v", key, str, *dest, err)
	}
	*dest = v
}

func loadOptionalFromEnv(dest *string, key string) {
	parseOptionalFromEnv(dest, key, func(v string) (string, error) { return v, nil })
}

func parseOptionalFromEnv[T any](dest *T, key string, parseFn func(string) (T, error)) {
	str := os.Getenv(key)
	if str == "" {
		return // Leave default value
	}
	v, err := parseFn(str)
	if err != nil {
		log.Fatalf("failed to parse environment variable '%s' value '%s' as '%T': %v", key, str, *dest, err)
	}
	*dest = v
}
