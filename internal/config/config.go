package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/video-stream/transcriber/internal/job"
)

type Config struct {
	Port          int           `yaml:"port"`
	DataPath      string        `yaml:"data_path"`
	AudioPath     string        `yaml:"audio_path"` // browsable audio library; empty disables it
	DBPath        string        `yaml:"db_path"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminUsername string        `yaml:"admin_username"`
	AdminPassword string        `yaml:"admin_password"`
	CORSOrigins   []string      `yaml:"cors_origins"`

	MaxConcurrent            int          `yaml:"max_concurrent"`
	MaxFileSizeMB            int64        `yaml:"max_file_size_mb"`
	AllowedFormats           []string     `yaml:"allowed_formats"`
	ChunkingThresholdSeconds float64      `yaml:"chunking_threshold_seconds"`
	Defaults                 job.Settings `yaml:"defaults"`
	RetentionDays            int          `yaml:"retention_days"`

	WhisperURL  string `yaml:"whisper_url"`
	OpenAIURL   string `yaml:"openai_url"`
	OpenAIKey   string `yaml:"openai_api_key"`
	OpenAIModel string `yaml:"openai_model"`
	DiarizeURL  string `yaml:"diarize_url"`

	Log LogConfig `yaml:"log"`

	// GeneratedSecret is set when no JWT secret was configured and a random
	// one is in use.
	GeneratedSecret bool `yaml:"-"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
	File        string `yaml:"file"`
	WithSource  bool   `yaml:"with_source"`
}

func defaults() *Config {
	return &Config{
		Port:                     8080,
		DataPath:                 "/data",
		TokenTTL:                 24 * time.Hour,
		AdminUsername:            "admin",
		AdminPassword:            "admin",
		CORSOrigins:              []string{"*"},
		MaxConcurrent:            job.DefaultMaxConcurrent,
		MaxFileSizeMB:            500,
		AllowedFormats:           append([]string(nil), job.DefaultAllowedFormats...),
		ChunkingThresholdSeconds: job.DefaultChunkingThresholdSeconds,
		Defaults:                 job.DefaultSettings,
		Log:                      LogConfig{Level: "info", Environment: "dev"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE and environment variables, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataPath, "transcriber.db")
	}

	// JWT secret: require explicit setting or generate random
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		cfg.GeneratedSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	setInt("PORT", &c.Port)
	setString("DATA_PATH", &c.DataPath)
	setString("AUDIO_PATH", &c.AudioPath)
	setString("DB_PATH", &c.DBPath)
	setString("JWT_SECRET", &c.JWTSecret)
	setString("ADMIN_USERNAME", &c.AdminUsername)
	setString("ADMIN_PASSWORD", &c.AdminPassword)
	setList("CORS_ORIGINS", &c.CORSOrigins)

	setInt("MAX_CONCURRENT", &c.MaxConcurrent)
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_FILE_SIZE_MB: %w", err))
		} else {
			c.MaxFileSizeMB = n
		}
	}
	setList("ALLOWED_FORMATS", &c.AllowedFormats)
	setFloat("CHUNKING_THRESHOLD_SECONDS", &c.ChunkingThresholdSeconds)
	setInt("RETENTION_DAYS", &c.RetentionDays)

	setFloat("CHUNK_LENGTH_SECONDS", &c.Defaults.ChunkLengthSeconds)
	setString("DEFAULT_MODEL", &c.Defaults.ModelSize)
	setString("DEFAULT_LANGUAGE", &c.Defaults.Language)
	setString("DEFAULT_DEVICE", &c.Defaults.Device)
	setString("COMPUTE_TYPE", &c.Defaults.ComputeType)
	setBool("DEFAULT_DIARIZATION", &c.Defaults.Diarization)

	setString("WHISPER_URL", &c.WhisperURL)
	setString("OPENAI_URL", &c.OpenAIURL)
	setString("OPENAI_API_KEY", &c.OpenAIKey)
	setString("OPENAI_MODEL", &c.OpenAIModel)
	setString("DIARIZE_URL", &c.DiarizeURL)

	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_ENV", &c.Log.Environment)
	setString("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path cannot be empty")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be greater than 0, got %d", c.MaxConcurrent)
	}
	if c.MaxFileSizeMB < 1 {
		return fmt.Errorf("max_file_size_mb must be greater than 0, got %d", c.MaxFileSizeMB)
	}
	if len(c.AllowedFormats) == 0 {
		return errors.New("allowed_formats cannot be empty")
	}
	if c.ChunkingThresholdSeconds < 0 {
		return errors.New("chunking_threshold_seconds cannot be negative")
	}
	if c.RetentionDays < 0 {
		return errors.New("retention_days cannot be negative")
	}
	if c.WhisperURL == "" && c.OpenAIKey == "" && c.OpenAIURL == "" {
		return errors.New("no recognition engine configured: set whisper_url, openai_url or openai_api_key")
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

// MaxFileSizeBytes converts the configured limit.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
