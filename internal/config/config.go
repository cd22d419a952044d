package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// Envelope encryption. The master key wraps per-conversation data keys and
	// is never generated by the process; it must be injected as base64.
	MessageMasterKey string

	// WhatsApp channel provider.
	WhatsAppAPIURL        string
	WhatsAppAPIToken      string
	WhatsAppWebhookSecret string

	// LLM provider selection: "bedrock" (default) or "gemini".
	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	InboundQueueURL  string
	AIReplyQueueURL  string
	OutboundQueueURL string
	JobMaxAttempts   int

	AttachmentBucket string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	OperatorJWTSecret string

	AlertsEnabled   bool
	AlertsFromEmail string
	AlertsFromName  string

	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	PromptSnapshotTTL time.Duration
	ContextWindow     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		MessageMasterKey: getEnv("MESSAGE_MASTER_KEY", ""),

		WhatsAppAPIURL:        getEnv("WHATSAPP_API_URL", ""),
		WhatsAppAPIToken:      getEnv("WHATSAPP_API_TOKEN", ""),
		WhatsAppWebhookSecret: getEnv("WHATSAPP_WEBHOOK_SECRET", ""),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		InboundQueueURL:  getEnv("INBOUND_QUEUE_URL", ""),
		AIReplyQueueURL:  getEnv("AI_REPLY_QUEUE_URL", ""),
		OutboundQueueURL: getEnv("OUTBOUND_QUEUE_URL", ""),
		JobMaxAttempts:   getEnvAsInt("JOB_MAX_ATTEMPTS", 5),

		AttachmentBucket: getEnv("ATTACHMENT_BUCKET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),

		AlertsEnabled:   getEnvAsBool("ALERTS_ENABLED", false),
		AlertsFromEmail: getEnv("ALERTS_FROM_EMAIL", ""),
		AlertsFromName:  getEnv("ALERTS_FROM_NAME", "Sanamente"),

		WebhookRateLimit:  getEnvAsInt("WEBHOOK_RATE_LIMIT", 60),
		WebhookRateWindow: getEnvAsDuration("WEBHOOK_RATE_WINDOW", time.Minute),

		PromptSnapshotTTL: getEnvAsDuration("PROMPT_SNAPSHOT_TTL", time.Hour),
		ContextWindow:     getEnvAsInt("CONTEXT_WINDOW", 20),
	}
}

// IsProduction reports whether the process runs with production hardening
// (e.g. unauthenticated webhook calls are rejected).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
