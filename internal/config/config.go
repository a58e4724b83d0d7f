// Package config builds the runtime configuration from defaults, an
// optional .env file and HARRIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Load reads .env files if present, then the environment.
// Variables already set in the environment win over .env entries.
func Load(envFiles ...string) (*domain.Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a configuration from getenv. The tier picks the defaults
// that individual variables then override.
func FromEnv(getenv func(string) string) (*domain.Config, error) {
	e := &env{get: getenv}

	cfg := domain.DefaultConfig()
	if domain.Tier(e.str("HARRIER_TIER", "")) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	// Server
	cfg.Server.Host = e.str("HARRIER_HOST", cfg.Server.Host)
	cfg.Server.Port = e.int("HARRIER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = e.int("HARRIER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.int("HARRIER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.MaxBodyBytes = int64(e.int("HARRIER_MAX_BODY_BYTES", int(cfg.Server.MaxBodyBytes)))

	// Scoring
	cfg.Scoring.Mode = domain.ScoringMode(e.str("HARRIER_SCORING_MODE", string(cfg.Scoring.Mode)))
	cfg.Scoring.Weights.Model = e.float("HARRIER_WEIGHT_MODEL", cfg.Scoring.Weights.Model)
	cfg.Scoring.Weights.Spike = e.float("HARRIER_WEIGHT_SPIKE", cfg.Scoring.Weights.Spike)
	cfg.Scoring.Weights.Location = e.float("HARRIER_WEIGHT_LOCATION", cfg.Scoring.Weights.Location)
	cfg.Scoring.GeoTimeout = e.duration("HARRIER_GEO_TIMEOUT", cfg.Scoring.GeoTimeout)
	cfg.Scoring.GeoHistoryLimit = e.int("HARRIER_GEO_HISTORY_LIMIT", cfg.Scoring.GeoHistoryLimit)
	cfg.Scoring.GeoVerdictTTL = e.duration("HARRIER_GEO_VERDICT_TTL", cfg.Scoring.GeoVerdictTTL)
	cfg.Scoring.HistoryLimit = e.int("HARRIER_HISTORY_LIMIT", cfg.Scoring.HistoryLimit)
	cfg.Scoring.MaxBatchSize = e.int("HARRIER_MAX_BATCH_SIZE", cfg.Scoring.MaxBatchSize)

	// Models
	cfg.Models.ArtifactDir = e.str("HARRIER_ARTIFACT_DIR", cfg.Models.ArtifactDir)
	cfg.Models.Manifest = e.str("HARRIER_ARTIFACT_MANIFEST", cfg.Models.Manifest)

	// LLM gateway
	cfg.LLM.TokenURL = e.str("HARRIER_LLM_TOKEN_URL", cfg.LLM.TokenURL)
	cfg.LLM.APIURL = e.str("HARRIER_LLM_API_URL", cfg.LLM.APIURL)
	cfg.LLM.ClientID = e.str("HARRIER_LLM_CLIENT_ID", cfg.LLM.ClientID)
	cfg.LLM.ClientSecret = e.str("HARRIER_LLM_CLIENT_SECRET", cfg.LLM.ClientSecret)
	cfg.LLM.TokenTTL = e.duration("HARRIER_LLM_TOKEN_TTL", cfg.LLM.TokenTTL)
	cfg.LLM.RefreshBuffer = e.duration("HARRIER_LLM_REFRESH_BUFFER", cfg.LLM.RefreshBuffer)
	cfg.LLM.RequestTimeout = e.duration("HARRIER_LLM_REQUEST_TIMEOUT", cfg.LLM.RequestTimeout)

	// Agent
	cfg.Agent.BaseURL = e.str("HARRIER_AGENT_BASE_URL", cfg.Agent.BaseURL)
	cfg.Agent.RecursionLimit = e.int("HARRIER_AGENT_RECURSION_LIMIT", cfg.Agent.RecursionLimit)
	cfg.Agent.SessionTTL = e.duration("HARRIER_AGENT_SESSION_TTL", cfg.Agent.SessionTTL)
	cfg.Agent.ToolTimeout = e.duration("HARRIER_AGENT_TOOL_TIMEOUT", cfg.Agent.ToolTimeout)

	// Policy and auth
	cfg.Policy.AlertExpression = e.str("HARRIER_ALERT_POLICY", cfg.Policy.AlertExpression)
	cfg.Auth.JWTSecret = e.str("HARRIER_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTIssuer = e.str("HARRIER_JWT_ISSUER", cfg.Auth.JWTIssuer)

	// Repository
	cfg.Repository.Driver = e.str("HARRIER_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = e.str("HARRIER_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = e.str("HARRIER_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = e.int("HARRIER_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = e.str("HARRIER_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = e.str("HARRIER_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = e.str("HARRIER_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = e.str("HARRIER_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	// Cache
	cfg.Cache.Type = e.str("HARRIER_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = e.str("HARRIER_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = e.str("HARRIER_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = e.int("HARRIER_REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.EnableTwoPhase = e.bool("HARRIER_CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)

	// Event bus
	cfg.EventBus.Type = e.str("HARRIER_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = e.str("HARRIER_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = e.str("HARRIER_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.KafkaBrokers = e.str("HARRIER_KAFKA_BROKERS", cfg.EventBus.KafkaBrokers)
	cfg.EventBus.KafkaGroupID = e.str("HARRIER_KAFKA_GROUP_ID", cfg.EventBus.KafkaGroupID)

	// Observability
	if e.bool("HARRIER_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Level = e.str("HARRIER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Tracing.Enabled = e.bool("HARRIER_TRACING", cfg.Tracing.Enabled)
	cfg.DebugEndpoints = e.bool("HARRIER_DEBUG_ENDPOINTS", cfg.DebugEndpoints)

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// duration accepts Go durations ("90s") or bare seconds ("90").
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
