package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for M31.
type Config struct {
	ServiceID  string
	AppVersion string

	HTTPPort int
	GRPCPort int

	SessionDir string

	// DatabaseURL and RedisURL are optional. Without them the service keeps no
	// history, enqueues no events and applies no submission lockout.
	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	TdlibBridgeURL     string
	TdlibDialTimeout   time.Duration
	UseTestDC          bool
	SystemLanguageCode string
	DeviceModel        string
	SystemVersion      string
	ApplicationVersion string

	InitialProbeTimeout time.Duration
	StepWaitTimeout     time.Duration
	ResumeWaitTimeout   time.Duration
	ProbeTimeout        time.Duration
	OperationTimeout    time.Duration

	FailedThreshold int
	LockoutDuration time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	ShutdownTimeout time.Duration
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID         string `yaml:"id"`
		Version    string `yaml:"version"`
		HTTPPort   int    `yaml:"http_port"`
		GRPCPort   int    `yaml:"grpc_port"`
		SessionDir string `yaml:"session_dir"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL    string   `yaml:"postgres_url"`
		RedisURL       string   `yaml:"redis_url"`
		TdlibBridgeURL string   `yaml:"tdlib_bridge_url"`
		KafkaBrokers   []string `yaml:"kafka_brokers"`
		KafkaTopic     string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Tdlib struct {
		UseTestDC          *bool  `yaml:"use_test_dc"`
		SystemLanguageCode string `yaml:"system_language_code"`
		DeviceModel        string `yaml:"device_model"`
		SystemVersion      string `yaml:"system_version"`
		ApplicationVersion string `yaml:"application_version"`
	} `yaml:"tdlib"`
	HTTP struct {
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
		RateLimitBurst     int      `yaml:"rate_limit_burst"`
	} `yaml:"http"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:           "M31-Telegram-Login-Service",
		AppVersion:          "1.0.0",
		HTTPPort:            8000,
		GRPCPort:            9090,
		SessionDir:          "./sessions",
		MaxDBConns:          10,
		TdlibBridgeURL:      "ws://127.0.0.1:8765/td",
		TdlibDialTimeout:    10 * time.Second,
		SystemLanguageCode:  "en",
		DeviceModel:         "Desktop",
		SystemVersion:       "Linux",
		ApplicationVersion:  "1.0.0",
		InitialProbeTimeout: 5 * time.Second,
		StepWaitTimeout:     10 * time.Second,
		ResumeWaitTimeout:   10 * time.Second,
		ProbeTimeout:        5 * time.Second,
		OperationTimeout:    2 * time.Minute,
		FailedThreshold:     5,
		LockoutDuration:     15 * time.Minute,
		RateLimitPerSecond:  2,
		RateLimitBurst:      10,
		CORSAllowedOrigins:  []string{"*"},
		KafkaTopic:          "telegram.session.events",
		OutboxPollInterval:  2 * time.Second,
		OutboxBatchSize:     100,
		OutboxClaimTTL:      30 * time.Second,
		OutboxMaxRetries:    5,
		ShutdownTimeout:     10 * time.Second,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.AppVersion = envOrDefault("API_VERSION", cfg.AppVersion)
	cfg.SessionDir = envOrDefault("SESSION_DIR", cfg.SessionDir)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.TdlibBridgeURL = envOrDefault("TDLIB_BRIDGE_URL", cfg.TdlibBridgeURL)
	cfg.UseTestDC = envBool("TDLIB_USE_TEST_DC", cfg.UseTestDC)
	cfg.SystemLanguageCode = envOrDefault("TDLIB_SYSTEM_LANGUAGE_CODE", cfg.SystemLanguageCode)
	cfg.DeviceModel = envOrDefault("TDLIB_DEVICE_MODEL", cfg.DeviceModel)
	cfg.SystemVersion = envOrDefault("TDLIB_SYSTEM_VERSION", cfg.SystemVersion)
	cfg.ApplicationVersion = envOrDefault("TDLIB_APPLICATION_VERSION", cfg.ApplicationVersion)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.CORSAllowedOrigins = envCSV("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)

	cfg.HTTPPort = envInt("HTTP_PORT", envInt("PORT", cfg.HTTPPort))
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.FailedThreshold = envInt("FAILED_SUBMIT_THRESHOLD", cfg.FailedThreshold)
	cfg.RateLimitPerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	cfg.TdlibDialTimeout = envSeconds("TDLIB_DIAL_TIMEOUT_SECONDS", cfg.TdlibDialTimeout)
	cfg.InitialProbeTimeout = envSeconds("INITIAL_PROBE_TIMEOUT_SECONDS", cfg.InitialProbeTimeout)
	cfg.StepWaitTimeout = envSeconds("STEP_WAIT_TIMEOUT_SECONDS", cfg.StepWaitTimeout)
	cfg.ResumeWaitTimeout = envSeconds("RESUME_WAIT_TIMEOUT_SECONDS", cfg.ResumeWaitTimeout)
	cfg.ProbeTimeout = envSeconds("PROBE_TIMEOUT_SECONDS", cfg.ProbeTimeout)
	cfg.OperationTimeout = envSeconds("OPERATION_TIMEOUT_SECONDS", cfg.OperationTimeout)
	cfg.LockoutDuration = time.Duration(envInt("SUBMIT_LOCKOUT_MINUTES", int(cfg.LockoutDuration.Minutes()))) * time.Minute
	cfg.OutboxPollInterval = envSeconds("OUTBOX_POLL_SECONDS", cfg.OutboxPollInterval)
	cfg.OutboxClaimTTL = envSeconds("OUTBOX_CLAIM_TTL_SECONDS", cfg.OutboxClaimTTL)
	cfg.ShutdownTimeout = envSeconds("SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeout)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.Version != "" {
		cfg.AppVersion = f.Service.Version
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.SessionDir != "" {
		cfg.SessionDir = f.Service.SessionDir
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if f.Dependencies.TdlibBridgeURL != "" {
		cfg.TdlibBridgeURL = f.Dependencies.TdlibBridgeURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}
	if f.Tdlib.UseTestDC != nil {
		cfg.UseTestDC = *f.Tdlib.UseTestDC
	}
	if f.Tdlib.SystemLanguageCode != "" {
		cfg.SystemLanguageCode = f.Tdlib.SystemLanguageCode
	}
	if f.Tdlib.DeviceModel != "" {
		cfg.DeviceModel = f.Tdlib.DeviceModel
	}
	if f.Tdlib.SystemVersion != "" {
		cfg.SystemVersion = f.Tdlib.SystemVersion
	}
	if f.Tdlib.ApplicationVersion != "" {
		cfg.ApplicationVersion = f.Tdlib.ApplicationVersion
	}
	if len(f.HTTP.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = f.HTTP.CORSAllowedOrigins
	}
	if f.HTTP.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = f.HTTP.RateLimitPerSecond
	}
	if f.HTTP.RateLimitBurst > 0 {
		cfg.RateLimitBurst = f.HTTP.RateLimitBurst
	}
}

func (c Config) validate() error {
	switch {
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	case c.GRPCPort <= 0 || c.GRPCPort > 65535:
		return fmt.Errorf("invalid GRPC_PORT %d", c.GRPCPort)
	case strings.TrimSpace(c.SessionDir) == "":
		return fmt.Errorf("missing SESSION_DIR")
	case strings.TrimSpace(c.TdlibBridgeURL) == "":
		return fmt.Errorf("missing TDLIB_BRIDGE_URL")
	case c.InitialProbeTimeout <= 0 || c.StepWaitTimeout <= 0 || c.ResumeWaitTimeout <= 0 || c.ProbeTimeout <= 0:
		return fmt.Errorf("protocol timeouts must be positive")
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envSeconds reads a duration expressed in whole seconds.
func envSeconds(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Seconds()))) * time.Second
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
