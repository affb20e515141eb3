// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like
	// X-Forwarded-For. Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Postgres connection string; empty selects the in-memory store.
	DatabaseURL string

	// Completion models, "provider/model-name".
	QuestionModel string
	FeedbackModel string

	// Provider API keys by provider name; unset providers fall back to
	// <PROVIDER>_API_KEY.
	ProviderKeys map[string]string

	// Question generation tuning.
	QuestionAttempts  int
	QuestionBaseDelay time.Duration
	QuestionTimeout   time.Duration

	// Question endpoint rate limit (per client, per window).
	QuestionRateLimit      int
	QuestionRateWindow     time.Duration
	QuestionRateMaxEntries int

	FeedbackMaxTokens int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("VOXPREP_ADDR", ":8080"),
		AuthMode:               AuthMode(envOr("VOXPREP_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                make(map[string]struct{}),
		TrustProxyHeaders:      envBoolOr("VOXPREP_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:           envInt64Or("VOXPREP_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:     make(map[string]struct{}),
		DatabaseURL:            strings.TrimSpace(os.Getenv("VOXPREP_DATABASE_URL")),
		QuestionModel:          envOr("VOXPREP_QUESTION_MODEL", "gemini/gemini-2.0-flash"),
		FeedbackModel:          envOr("VOXPREP_FEEDBACK_MODEL", "gemini/gemini-2.0-flash"),
		ProviderKeys:           make(map[string]string),
		QuestionAttempts:       envIntOr("VOXPREP_QUESTION_ATTEMPTS", 3),
		QuestionBaseDelay:      envDurationOr("VOXPREP_QUESTION_RETRY_DELAY", 2*time.Second),
		QuestionTimeout:        envDurationOr("VOXPREP_QUESTION_TIMEOUT", 60*time.Second),
		QuestionRateLimit:      envIntOr("VOXPREP_QUESTION_RATE_LIMIT", 10),
		QuestionRateWindow:     envDurationOr("VOXPREP_QUESTION_RATE_WINDOW", time.Hour),
		QuestionRateMaxEntries: envIntOr("VOXPREP_QUESTION_RATE_MAX_ENTRIES", 10_000),
		FeedbackMaxTokens:      envIntOr("VOXPREP_FEEDBACK_MAX_TOKENS", 1024),
		ReadHeaderTimeout:      envDurationOr("VOXPREP_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            envDurationOr("VOXPREP_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:         envDurationOr("VOXPREP_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:    envDurationOr("VOXPREP_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOXPREP_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOXPREP_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("VOXPREP_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	for _, provider := range []string{"gemini", "openai"} {
		if v := strings.TrimSpace(os.Getenv("VOXPREP_" + strings.ToUpper(provider) + "_API_KEY")); v != "" {
			cfg.ProviderKeys[provider] = v
		}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_MAX_BODY_BYTES must be > 0")
	}
	if err := validateModel(cfg.QuestionModel, "VOXPREP_QUESTION_MODEL"); err != nil {
		return Config{}, err
	}
	if err := validateModel(cfg.FeedbackModel, "VOXPREP_FEEDBACK_MODEL"); err != nil {
		return Config{}, err
	}
	if cfg.QuestionAttempts <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_QUESTION_ATTEMPTS must be > 0")
	}
	if cfg.QuestionBaseDelay <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_QUESTION_RETRY_DELAY must be > 0")
	}
	if cfg.QuestionTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_QUESTION_TIMEOUT must be > 0")
	}
	if cfg.QuestionRateLimit < 0 {
		return Config{}, fmt.Errorf("VOXPREP_QUESTION_RATE_LIMIT must be >= 0")
	}
	if cfg.QuestionRateWindow <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_QUESTION_RATE_WINDOW must be > 0")
	}
	if cfg.QuestionRateMaxEntries <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_QUESTION_RATE_MAX_ENTRIES must be > 0")
	}
	if cfg.FeedbackMaxTokens <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_FEEDBACK_MAX_TOKENS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOXPREP_API_KEYS must be set when VOXPREP_AUTH_MODE=required")
	}

	return cfg, nil
}

func validateModel(model, envName string) error {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("%s must look like provider/model-name", envName)
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
