package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	JWTSecret          string
	StoragePath        string
	StorageBaseURL     string
	GeminiAPIKey       string
	GeminiImageModel   string
	GeminiUpscaleModel string
	GeminiBaseURL      string
	MaxUpscaleWidth    int
	GenerationTimeout  time.Duration
	FetchTimeout       time.Duration
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	AllowedOrigins     []string

	// ImageSourceAllowlist restricts which hosts the image fetcher will
	// download section images from. The storage host is always included.
	ImageSourceAllowlist []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiImageModel:   getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiUpscaleModel: getEnv("GEMINI_UPSCALE_MODEL", "imagen-3.0-upscale"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		MaxUpscaleWidth:    getEnvInt("MAX_UPSCALE_WIDTH", 3840),
		GenerationTimeout:  time.Second * time.Duration(getEnvInt("GENERATION_TIMEOUT_SECONDS", 45)),
		FetchTimeout:       time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 20)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Regeneration jobs stream events for minutes; the write timeout must
		// outlive the longest job, not a single response write.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 900)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	cfg.AllowedOrigins = splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000"))
	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", cfg.Port))
	cfg.ImageSourceAllowlist = buildImageSourceAllowlist(cfg.StorageBaseURL, os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func buildImageSourceAllowlist(storageBaseURL, extra string) []string {
	var hosts []string
	seen := map[string]bool{}
	if u, err := url.Parse(storageBaseURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, u.Hostname())
		seen[u.Hostname()] = true
	}
	var merged []string
	for _, part := range strings.Split(extra, ",") {
		host := strings.TrimSpace(part)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		merged = append(merged, host)
	}
	sort.Strings(merged)
	return append(hosts, merged...)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
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
