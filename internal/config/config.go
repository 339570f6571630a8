// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/honeypot/internal/agent"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	APIKey         string
	AllowedOrigins []string
	DBPath         string // empty disables the report ledger
	SessionIdleTTL time.Duration
	SweepInterval  time.Duration
	MinReportTurns int
	RulesPath      string

	Agent                 agent.Config
	MaxConcurrentLLMCalls int64

	Report          ReportConfig
	RateLimit       RateLimitConfig
	MaxRequestBytes int64
	ConversationLog agent.ConversationLogConfig
}

// ReportConfig controls final-report delivery.
type ReportConfig struct {
	CallbackURL string
	APIKey      string
	Timeout     time.Duration
	Workers     int
	QueueSize   int
}

// RateLimitConfig controls per-key request limiting on /api routes.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	agentCfg := agent.DefaultConfig()
	agentCfg.Provider = strings.ToLower(getEnv("CLASSIFIER_PROVIDER", defaultProvider()))
	agentCfg.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", "")
	agentCfg.OpenRouterModel = getEnv("OPENROUTER_MODEL", agentCfg.OpenRouterModel)
	agentCfg.OpenRouterBaseURL = getEnv("OPENROUTER_BASE_URL", agentCfg.OpenRouterBaseURL)
	agentCfg.GrpcAddress = getEnv("AGENT_GRPC_ADDR", "localhost:50051")
	agentCfg.ClassifierTimeout = getEnvDuration("CLASSIFIER_TIMEOUT", agentCfg.ClassifierTimeout)
	agentCfg.ResponderTimeout = getEnvDuration("RESPONDER_TIMEOUT", agentCfg.ResponderTimeout)

	fallback, err := agent.ParseFallbackPolicy(getEnv("CLASSIFIER_FALLBACK", string(agent.FallbackUndecided)))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	agentCfg.Fallback = fallback

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		APIKey:                getEnv("API_KEY", ""),
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "*")),
		DBPath:                getEnv("DB_PATH", "./data/honeypot.db"),
		SessionIdleTTL:        getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		SweepInterval:         getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		MinReportTurns:        getEnvInt("MIN_REPORT_TURNS", 4),
		RulesPath:             getEnv("EXTRACTOR_RULES_PATH", ""),
		Agent:                 agentCfg,
		MaxConcurrentLLMCalls: int64(getEnvInt("MAX_CONCURRENT_LLM_CALLS", 16)),
		Report: ReportConfig{
			CallbackURL: getEnv("REPORT_CALLBACK_URL", ""),
			APIKey:      getEnv("REPORT_CALLBACK_API_KEY", ""),
			Timeout:     getEnvDuration("REPORT_TIMEOUT", 5*time.Second),
			Workers:     getEnvInt("REPORT_WORKERS", 2),
			QueueSize:   getEnvInt("REPORT_QUEUE_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64*1024)),
		ConversationLog: agent.ConversationLogConfig{
			Enabled:    getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:        getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize:  getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000),
			GlobalFile: globalLogPath(),
			MaxSizeMB:  getEnvInt("CONVERSATION_LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("CONVERSATION_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("CONVERSATION_LOG_MAX_AGE_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.MinReportTurns < 1 {
		return fmt.Errorf("MIN_REPORT_TURNS must be >= 1")
	}
	switch c.Agent.Provider {
	case agent.ProviderOpenRouter:
		if c.Agent.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required when CLASSIFIER_PROVIDER=openrouter")
		}
	case agent.ProviderGrpc:
		if c.Agent.GrpcAddress == "" {
			return fmt.Errorf("AGENT_GRPC_ADDR is required when CLASSIFIER_PROVIDER=grpc")
		}
	case agent.ProviderNone:
	default:
		return fmt.Errorf("CLASSIFIER_PROVIDER %q is not one of openrouter, grpc, none", c.Agent.Provider)
	}
	if c.Agent.ClassifierTimeout <= 0 || c.Agent.ResponderTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT and RESPONDER_TIMEOUT must be > 0")
	}
	if c.MaxConcurrentLLMCalls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_LLM_CALLS must be > 0")
	}
	if c.Report.Timeout <= 0 {
		return fmt.Errorf("REPORT_TIMEOUT must be > 0")
	}
	if c.Report.Workers <= 0 || c.Report.QueueSize <= 0 {
		return fmt.Errorf("REPORT_WORKERS and REPORT_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Enabled {
		if c.ConversationLog.Dir == "" {
			return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
		}
		if c.ConversationLog.QueueSize <= 0 {
			return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true when no API key protects the API.
func (c *Config) IsDevelopment() bool {
	return c.APIKey == ""
}

// defaultProvider picks openrouter when a key is present so a bare .env with
// only OPENROUTER_API_KEY works.
func defaultProvider() string {
	if os.Getenv("OPENROUTER_API_KEY") != "" {
		return agent.ProviderOpenRouter
	}
	return agent.ProviderNone
}

func globalLogPath() string {
	if !getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false) {
		return ""
	}
	return getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
