package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string
	// ReferenceDir holds model and product images the API may upload.
	ReferenceDir string

	GeminiBaseURL      string
	GeminiImageModel   string
	GeminiAPIKeys      []string
	ImageGenTimeout    time.Duration
	GeminiRetryDelay   time.Duration
	RateGateDelay      time.Duration
	RateGateCooldown   time.Duration
	WhiskUploadURL     string
	WhiskRecipeURL     string
	WhiskSessionTokens []string
	WhiskOAuthTokens   []string
	WhiskTimeout       time.Duration
	WhiskFetchTimeout  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	CredentialRefreshInterval time.Duration

	CORSAllowedOrigins []string
	SubmitRateLimit    int
	SubmitRateWindow   time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiImageModel:   getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiAPIKeys:      getEnvList("GEMINI_API_KEYS"),
		ImageGenTimeout:    time.Second * time.Duration(getEnvInt("IMAGE_GEN_TIMEOUT_SECONDS", 120)),
		GeminiRetryDelay:   time.Millisecond * time.Duration(getEnvInt("GEMINI_RETRY_DELAY_MS", 2500)),
		RateGateDelay:      time.Millisecond * time.Duration(getEnvInt("RATE_GATE_DELAY_MS", 8000)),
		RateGateCooldown:   time.Second * time.Duration(getEnvInt("RATE_GATE_COOLDOWN_SECONDS", 60)),
		WhiskUploadURL:     getEnv("WHISK_UPLOAD_URL", "https://labs.google/fx/api/trpc/backbone.uploadImage"),
		WhiskRecipeURL:     getEnv("WHISK_RECIPE_URL", "https://aisandbox-pa.googleapis.com/v1/whisk:runImageRecipe"),
		WhiskSessionTokens: getEnvList("WHISK_SESSION_TOKENS"),
		WhiskOAuthTokens:   getEnvList("WHISK_OAUTH_TOKENS"),
		WhiskTimeout:       time.Second * time.Duration(getEnvInt("WHISK_TIMEOUT_SECONDS", 90)),
		WhiskFetchTimeout:  time.Second * time.Duration(getEnvInt("WHISK_DOWNLOAD_TIMEOUT_SECONDS", 30)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		CredentialRefreshInterval: time.Second * time.Duration(getEnvInt("CREDENTIAL_REFRESH_SECONDS", 30)),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		SubmitRateLimit:    getEnvInt("BATCH_SUBMIT_LIMIT", 10),
		SubmitRateWindow:   time.Second * time.Duration(getEnvInt("BATCH_SUBMIT_WINDOW_SECONDS", 60)),
	}

	cfg.ReferenceDir = getEnv("REFERENCE_IMAGES_DIR", filepath.Join(cfg.StoragePath, "references"))

	if cfg.ImageGenTimeout <= 0 {
		return nil, fmt.Errorf("IMAGE_GEN_TIMEOUT_SECONDS must be positive")
	}
	if cfg.RateGateDelay < 0 || cfg.RateGateCooldown < 0 || cfg.GeminiRetryDelay < 0 {
		return nil, fmt.Errorf("rate limit delays must not be negative")
	}
	if cfg.CredentialRefreshInterval < 0 {
		return nil, fmt.Errorf("CREDENTIAL_REFRESH_SECONDS must not be negative")
	}
	if cfg.SubmitRateLimit <= 0 || cfg.SubmitRateWindow <= 0 {
		return nil, fmt.Errorf("BATCH_SUBMIT_LIMIT and BATCH_SUBMIT_WINDOW_SECONDS must be positive")
	}

	return cfg, nil
}

// HasDatabase reports whether the SQL credential store should be used.
func (c *Config) HasDatabase() bool {
	return c != nil && c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks and keeping order.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
