package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Client side
	APIURL      string        `yaml:"api_url" validate:"required,url"`
	Token       string        `yaml:"token"`
	UserID      int64         `yaml:"user_id" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	DocCacheTTL time.Duration `yaml:"doc_cache_ttl" validate:"gte=0"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Stub server
	StubAddr        string `yaml:"stub_addr"`
	StubDatabaseURL string `yaml:"stub_database_url"`
	StubUploadDir   string `yaml:"stub_upload_dir"`
	JWTSecret       string `yaml:"jwt_secret"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
}

func Default() *Config {
	return &Config{
		APIURL:          "http://localhost:8000",
		Timeout:         120 * time.Second,
		DocCacheTTL:     30 * time.Second,
		LogLevel:        "info",
		StubAddr:        ":8000",
		StubDatabaseURL: "docchat_stub.db",
		StubUploadDir:   "uploads",
		JWTSecret:       "dev-secret",
	}
}

// Load applies, in order: defaults, the YAML file at path (if any), a .env
// file, then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.APIURL = getEnv("DOCCHAT_API_URL", cfg.APIURL)
	cfg.Token = getEnv("DOCCHAT_TOKEN", cfg.Token)
	cfg.UserID = getEnvAsInt64("DOCCHAT_USER_ID", cfg.UserID)
	cfg.Timeout = getEnvAsDuration("DOCCHAT_TIMEOUT", cfg.Timeout)
	cfg.DocCacheTTL = getEnvAsDuration("DOCCHAT_DOC_CACHE_TTL", cfg.DocCacheTTL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.StubAddr = getEnv("STUB_ADDR", cfg.StubAddr)
	cfg.StubDatabaseURL = getEnv("STUB_DATABASE_URL", cfg.StubDatabaseURL)
	cfg.StubUploadDir = getEnv("STUB_UPLOAD_DIR", cfg.StubUploadDir)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
