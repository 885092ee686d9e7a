package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, overridable with
// MEDSTUDY_CONFIG.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTLHours int `yaml:"sessionTTLHours"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`
	TaskTTLHours           int    `yaml:"taskTTLHours"`

	LLMBaseURL        string `yaml:"llmBaseURL"`
	LLMAPIKey         string `yaml:"llmAPIKey"`
	LLMModel          string `yaml:"llmModel"`
	LLMTimeoutSeconds int    `yaml:"llmTimeoutSeconds"`

	QuizRetryAttempts     int `yaml:"quizRetryAttempts"`
	QuizRetryBackoffMs    int `yaml:"quizRetryBackoffMs"`
	SummaryChunkSize      int `yaml:"summaryChunkSize"`
	GenerationLockSeconds int `yaml:"generationLockSeconds"`

	OCREnabled        bool   `yaml:"ocrEnabled"`
	OCRCommand        string `yaml:"ocrCommand"`
	OCRTimeoutSeconds int    `yaml:"ocrTimeoutSeconds"`
	PDFMinPageRunes   int    `yaml:"pdfMinPageRunes"`

	MaxUploadMB int `yaml:"maxUploadMB"`

	TrustedProxies []string `yaml:"trustedProxies"`

	// SecureCookies marks session cookies Secure; enable wherever the
	// public origin is HTTPS.
	SecureCookies bool `yaml:"secureCookies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if v := os.Getenv("MEDSTUDY_CONFIG"); v != "" {
		path = v
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("MEDSTUDY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("MEDSTUDY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MEDSTUDY_SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLHours = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("MEDSTUDY_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("MEDSTUDY_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("MEDSTUDY_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("MEDSTUDY_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("MEDSTUDY_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("MEDSTUDY_TASK_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TaskTTLHours = n
		}
	}
	if v := os.Getenv("MEDSTUDY_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("MEDSTUDY_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("MEDSTUDY_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("MEDSTUDY_LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLMTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MEDSTUDY_OCR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.OCREnabled = b
		}
	}
	if v := os.Getenv("MEDSTUDY_OCR_COMMAND"); v != "" {
		cfg.OCRCommand = v
	}
	if v := os.Getenv("MEDSTUDY_OCR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OCRTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MEDSTUDY_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("MEDSTUDY_SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SecureCookies = b
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.LLMBaseURL == "" {
		return errors.New("config: llmBaseURL is required (set in config.yaml or MEDSTUDY_LLM_BASE_URL)")
	}
	if cfg.LLMModel == "" {
		return errors.New("config: llmModel is required (set in config.yaml or MEDSTUDY_LLM_MODEL)")
	}
	if cfg.SessionTTLHours < 0 {
		return errors.New("config: sessionTTLHours must be >= 0")
	}
	if cfg.QueueMaxRetries < 0 {
		return errors.New("config: queueMaxRetries must be >= 0")
	}
	if cfg.QuizRetryAttempts < 0 {
		return errors.New("config: quizRetryAttempts must be >= 0")
	}
	if cfg.OCREnabled && strings.TrimSpace(cfg.OCRCommand) == "" {
		return errors.New("config: ocrCommand is required when ocrEnabled=true")
	}
	if cfg.OCRTimeoutSeconds < 0 {
		return errors.New("config: ocrTimeoutSeconds must be >= 0")
	}
	if cfg.PDFMinPageRunes < 0 {
		return errors.New("config: pdfMinPageRunes must be >= 0")
	}
	if cfg.MaxUploadMB < 0 {
		return errors.New("config: maxUploadMB must be >= 0")
	}
	return nil
}
