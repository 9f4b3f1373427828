package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all environment-sourced settings. The data service and
// identity provider share one endpoint with two access keys: the
// restricted (publishable) key for identity calls and the elevated
// (secret) key for table writes that bypass row security.
type Config struct {
	Port        string
	LogLevel    string
	Environment string
	FrontendURL string

	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseSecretKey      string
	SupabaseJWTSecret      string

	GeminiAPIKey string
	GeminiModel  string

	RedisAddr     string
	RedisPassword string

	ChatRateLimitPerMinute   int
	ResendRateLimitPerMinute int
}

// IsDevelopment reports whether the target environment is Development.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Load reads configuration from the environment, after loading a .env
// file when one is present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                     getenvDefault("PORT", "8000"),
		LogLevel:                 getenvDefault("LOG_LEVEL", "info"),
		Environment:              getenvDefault("ENVIRONMENT", "Development"),
		FrontendURL:              getenvDefault("FRONTEND_URL", "http://localhost:3000"),
		SupabaseURL:              os.Getenv("SUPABASE_URL"),
		SupabasePublishableKey:   os.Getenv("SUPABASE_PUBLISHABLE_KEY"),
		SupabaseSecretKey:        os.Getenv("SUPABASE_SECRET_KEY"),
		SupabaseJWTSecret:        os.Getenv("SUPABASE_JWT_SECRET"),
		GeminiAPIKey:             os.Getenv("GEMINI_API_KEY"),
		GeminiModel:              getenvDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		ChatRateLimitPerMinute:   getenvInt("CHAT_RATE_LIMIT_PER_MINUTE", 5),
		ResendRateLimitPerMinute: getenvInt("RESEND_RATE_LIMIT_PER_MINUTE", 3),
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.SupabaseURL) == "" {
		return errors.New("config: SUPABASE_URL is required")
	}
	if strings.TrimSpace(cfg.SupabasePublishableKey) == "" {
		return errors.New("config: SUPABASE_PUBLISHABLE_KEY is required")
	}
	if strings.TrimSpace(cfg.SupabaseSecretKey) == "" {
		return errors.New("config: SUPABASE_SECRET_KEY is required")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return errors.New("config: GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: REDIS_ADDR is required for rate limiting")
	}
	if cfg.ChatRateLimitPerMinute < 0 || cfg.ResendRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
