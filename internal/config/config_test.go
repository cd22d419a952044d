package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("expected default worker count 2, got %d", cfg.WorkerCount)
	}
	if cfg.LLMProvider != "bedrock" {
		t.Errorf("expected default llm provider bedrock, got %s", cfg.LLMProvider)
	}
	if cfg.PromptSnapshotTTL != time.Hour {
		t.Errorf("expected snapshot ttl 1h, got %s", cfg.PromptSnapshotTTL)
	}
	if cfg.ContextWindow != 20 {
		t.Errorf("expected context window 20, got %d", cfg.ContextWindow)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("JOB_MAX_ATTEMPTS", "3")
	t.Setenv("WEBHOOK_RATE_WINDOW", "30s")
	t.Setenv("LLM_PROVIDER", " Gemini ")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if !cfg.UseMemoryQueue {
		t.Error("expected memory queue override")
	}
	if cfg.JobMaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", cfg.JobMaxAttempts)
	}
	if cfg.WebhookRateWindow != 30*time.Second {
		t.Errorf("expected 30s window, got %s", cfg.WebhookRateWindow)
	}
	if cfg.LLMProvider != "gemini" {
		t.Errorf("expected trimmed lowercase provider, got %q", cfg.LLMProvider)
	}
}

func TestIsProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	if !Load().IsProduction() {
		t.Error("expected production env")
	}
	t.Setenv("ENV", "development")
	if Load().IsProduction() {
		t.Error("did not expect production env")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("REDIS_TLS", "not-a-bool")
	t.Setenv("PROMPT_SNAPSHOT_TTL", "soon")

	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Errorf("expected fallback worker count, got %d", cfg.WorkerCount)
	}
	if cfg.RedisTLS {
		t.Error("expected fallback redis tls false")
	}
	if cfg.PromptSnapshotTTL != time.Hour {
		t.Errorf("expected fallback ttl, got %s", cfg.PromptSnapshotTTL)
	}
}
