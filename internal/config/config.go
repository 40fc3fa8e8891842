package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sharedvolume/drift-detector/internal/logging"
)

type Config struct {
	Server   ServerConfig
	Detector DetectorConfig
	Report   ReportConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DetectorConfig struct {
	// RunTimeout bounds one whole drift check
	RunTimeout     time.Duration
	CacheDir       string
	GitBackend     string
	CloneTimeout   time.Duration
	ConnectTimeout time.Duration
	ExecTimeout    time.Duration
	Concurrency    int
	// DialRate is new SSH connections per second, 0 for unlimited
	DialRate       float64
	MaxRemoteFiles int
	KnownHostsFile string
}

// ReportConfig selects where finished reports are published
type ReportConfig struct {
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	WebhookURL     string
	WebhookTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 10*time.Minute),
			IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 120*time.Second),
		},
		Detector: DetectorConfig{
			RunTimeout:     getDurationEnv("RUN_TIMEOUT", 10*time.Minute),
			CacheDir:       getEnv("CACHE_DIR", filepath.Join(os.TempDir(), "drift-detector")),
			GitBackend:     getEnv("GIT_BACKEND", "shell"),
			CloneTimeout:   getDurationEnv("CLONE_TIMEOUT", 120*time.Second),
			ConnectTimeout: getDurationEnv("CONNECT_TIMEOUT", 15*time.Second),
			ExecTimeout:    getDurationEnv("EXEC_TIMEOUT", 30*time.Second),
			Concurrency:    getIntEnv("CONCURRENCY", 4),
			DialRate:       getFloatEnv("DIAL_RATE", 0),
			MaxRemoteFiles: getIntEnv("MAX_REMOTE_FILES", 5000),
			KnownHostsFile: getEnv("SSH_KNOWN_HOSTS", ""),
		},
		Report: ReportConfig{
			S3Bucket:       getEnv("REPORT_S3_BUCKET", ""),
			S3Prefix:       getEnv("REPORT_S3_PREFIX", "drift-reports"),
			S3Region:       getEnv("REPORT_S3_REGION", "us-east-1"),
			S3Endpoint:     getEnv("REPORT_S3_ENDPOINT", ""),
			WebhookURL:     getEnv("REPORT_WEBHOOK_URL", ""),
			WebhookTimeout: getDurationEnv("REPORT_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

// Logging converts the log settings for the logging package
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	switch strings.ToLower(c.Log.Format) {
	case "json":
		cfg.JSON = true
	case "dev", "development":
		cfg.Development = true
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f >= 0 {
		return f
	}
	return defaultValue
}
