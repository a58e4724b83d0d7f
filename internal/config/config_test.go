package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(mapEnv(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Scoring.Mode != domain.ModeBlended {
		t.Errorf("expected blended mode, got %s", cfg.Scoring.Mode)
	}
	if cfg.Scoring.Weights != domain.DefaultWeights() {
		t.Errorf("expected default weights, got %+v", cfg.Scoring.Weights)
	}
	if cfg.Scoring.GeoTimeout != 10*time.Second {
		t.Errorf("expected 10s geo timeout, got %v", cfg.Scoring.GeoTimeout)
	}
	if cfg.LLM.TokenTTL != 30*time.Minute || cfg.LLM.RefreshBuffer != time.Minute {
		t.Errorf("unexpected token settings %v / %v", cfg.LLM.TokenTTL, cfg.LLM.RefreshBuffer)
	}
	if cfg.Agent.RecursionLimit != 10 {
		t.Errorf("expected recursion limit 10, got %d", cfg.Agent.RecursionLimit)
	}
	if cfg.DebugEndpoints || cfg.Auth.Enabled() || cfg.LLM.Enabled() {
		t.Error("expected debug endpoints, auth and gateway to be off by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"HARRIER_TIER":            "pro",
		"HARRIER_PORT":            "9090",
		"HARRIER_SCORING_MODE":    "model_mean",
		"HARRIER_WEIGHT_MODEL":    "0.5",
		"HARRIER_WEIGHT_SPIKE":    "0.25",
		"HARRIER_WEIGHT_LOCATION": "0.25",
		"HARRIER_GEO_TIMEOUT":     "3",
		"HARRIER_LLM_TOKEN_TTL":   "45m",
		"HARRIER_LLM_API_URL":     "https://llm.example/generate",
		"HARRIER_LLM_TOKEN_URL":   "https://llm.example/token",
		"HARRIER_BUS":             "kafka",
		"HARRIER_KAFKA_BROKERS":   "localhost:9092",
		"HARRIER_JWT_SECRET":      "s3cret",
		"HARRIER_DEBUG":           "true",
		"HARRIER_DEBUG_ENDPOINTS": "true",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
		t.Errorf("expected pro defaults, got tier %s driver %s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.Mode != domain.ModeModelMean {
		t.Errorf("expected model_mean, got %s", cfg.Scoring.Mode)
	}
	if cfg.Scoring.Weights.Model != 0.5 {
		t.Errorf("expected model weight 0.5, got %v", cfg.Scoring.Weights.Model)
	}
	if cfg.Scoring.GeoTimeout != 3*time.Second {
		t.Errorf("expected bare seconds to parse, got %v", cfg.Scoring.GeoTimeout)
	}
	if cfg.LLM.TokenTTL != 45*time.Minute {
		t.Errorf("expected 45m, got %v", cfg.LLM.TokenTTL)
	}
	if !cfg.LLM.Enabled() || !cfg.Auth.Enabled() {
		t.Error("expected gateway and auth to be enabled")
	}
	if cfg.EventBus.Type != "kafka" || cfg.EventBus.KafkaBrokers != "localhost:9092" {
		t.Errorf("unexpected bus settings %+v", cfg.EventBus)
	}
	if cfg.Logging.Level != "debug" || !cfg.DebugEndpoints {
		t.Error("expected debug logging and debug endpoints")
	}
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"BadInt", map[string]string{"HARRIER_PORT": "eighty"}, "HARRIER_PORT"},
		{"BadDuration", map[string]string{"HARRIER_GEO_TIMEOUT": "soon"}, "HARRIER_GEO_TIMEOUT"},
		{"BadBool", map[string]string{"HARRIER_DEBUG_ENDPOINTS": "yes please"}, "HARRIER_DEBUG_ENDPOINTS"},
		{"WeightsNotOne", map[string]string{"HARRIER_WEIGHT_MODEL": "0.9"}, "sum to 1.0"},
		{"WeightNaN", map[string]string{"HARRIER_WEIGHT_MODEL": "NaN"}, "finite"},
		{"UnknownMode", map[string]string{"HARRIER_SCORING_MODE": "max"}, "unknown scoring mode"},
		{"BufferTooLong", map[string]string{"HARRIER_LLM_REFRESH_BUFFER": "2h"}, "refresh buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(mapEnv(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "HARRIER_AGENT_BASE_URL=http://backoffice:8000\nHARRIER_MAX_BATCH_SIZE=25\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("HARRIER_MAX_BATCH_SIZE", "40")
	t.Cleanup(func() { os.Unsetenv("HARRIER_AGENT_BASE_URL") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.BaseURL != "http://backoffice:8000" {
		t.Errorf("expected base url from env file, got %q", cfg.Agent.BaseURL)
	}
	if cfg.Scoring.MaxBatchSize != 40 {
		t.Errorf("expected environment to win over env file, got %d", cfg.Scoring.MaxBatchSize)
	}
}

func TestLoadWithoutEnvFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	if _, err := Load(); err != nil {
		t.Errorf("expected missing .env to be ignored, got %v", err)
	}
}
