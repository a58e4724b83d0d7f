package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backend defaults
	Tier Tier `json:"tier"`

	// Scoring core
	Scoring ScoringConfig `json:"scoring"`
	Models  ModelsConfig  `json:"models"`

	// Collaborators
	LLM   LLMConfig   `json:"llm"`
	Agent AgentConfig `json:"agent"`

	// Outer layer
	Policy PolicyConfig `json:"policy"`
	Auth   AuthConfig   `json:"auth"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// DebugEndpoints exposes /debug/preprocess.
	DebugEndpoints bool `json:"debugEndpoints"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
	MaxBodyBytes int64  `json:"maxBodyBytes"`
}

// Weights are the Risk Combiner coefficients. They must sum to 1.
type Weights struct {
	Model    float64 `json:"model"`
	Spike    float64 `json:"spike"`
	Location float64 `json:"location"`
}

// DefaultWeights returns the 0.3/0.3/0.4 blend.
func DefaultWeights() Weights {
	return Weights{Model: 0.3, Spike: 0.3, Location: 0.4}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Model + w.Spike + w.Location
}

// weightTolerance absorbs binary rounding of decimal literals such as 0.1.
const weightTolerance = 1e-9

// Validate checks that every weight is finite and non-negative and that
// they sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Model, w.Spike, w.Location} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weights must be finite: %+v", w)
		}
	}
	if w.Model < 0 || w.Spike < 0 || w.Location < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %v", w.Sum())
	}
	return nil
}

// ScoringConfig holds Risk Combiner and enrichment settings.
type ScoringConfig struct {
	Mode    ScoringMode `json:"mode"`
	Weights Weights     `json:"weights"`

	// Geofeasibility
	GeoTimeout      time.Duration `json:"geoTimeout"`
	GeoHistoryLimit int           `json:"geoHistoryLimit"`
	GeoVerdictTTL   time.Duration `json:"geoVerdictTtl"` // 0 disables the memo

	// HistoryLimit caps ledger rows loaded when a request carries no history.
	HistoryLimit int `json:"historyLimit"`

	// MaxBatchSize caps /predict/batch.
	MaxBatchSize int `json:"maxBatchSize"`
}

// ModelsConfig locates the Model Artifact Store.
type ModelsConfig struct {
	ArtifactDir string `json:"artifactDir"`
	Manifest    string `json:"manifest"`
}

// LLMConfig holds the Authentication/LLM Gateway settings.
type LLMConfig struct {
	TokenURL       string        `json:"tokenUrl"`
	APIURL         string        `json:"apiUrl"`
	ClientID       string        `json:"clientId"`
	ClientSecret   string        `json:"-"`
	TokenTTL       time.Duration `json:"tokenTtl"`
	RefreshBuffer  time.Duration `json:"refreshBuffer"`
	RequestTimeout time.Duration `json:"requestTimeout"`
}

// Enabled reports whether the gateway is configured.
func (c LLMConfig) Enabled() bool {
	return c.APIURL != "" && c.TokenURL != ""
}

// AgentConfig holds support agent settings.
type AgentConfig struct {
	BaseURL        string        `json:"baseUrl"`
	RecursionLimit int           `json:"recursionLimit"`
	SessionTTL     time.Duration `json:"sessionTtl"`
	ToolTimeout    time.Duration `json:"toolTimeout"`
}

// PolicyConfig holds the async alert policy.
type PolicyConfig struct {
	AlertExpression string `json:"alertExpression"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	JWTSecret string `json:"-"`
	JWTIssuer string `json:"jwtIssuer"`
}

// Enabled reports whether bearer authentication is required.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS/Kafka + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 1 << 20,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			Mode:            ModeBlended,
			Weights:         DefaultWeights(),
			GeoTimeout:      10 * time.Second,
			GeoHistoryLimit: 10,
			GeoVerdictTTL:   10 * time.Minute,
			HistoryLimit:    50,
			MaxBatchSize:    500,
		},
		Models: ModelsConfig{
			ArtifactDir: "./artifacts",
			Manifest:    "manifest.yaml",
		},
		LLM: LLMConfig{
			TokenTTL:       30 * time.Minute,
			RefreshBuffer:  60 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			RecursionLimit: 10,
			SessionTTL:     time.Hour,
			ToolTimeout:    10 * time.Second,
		},
		Policy: PolicyConfig{
			AlertExpression: "fraud_percentage >= 0.7",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	var errs []error
	switch c.Scoring.Mode {
	case ModeBlended, ModeModelMean:
	default:
		errs = append(errs, fmt.Errorf("unknown scoring mode %q", c.Scoring.Mode))
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Scoring.GeoTimeout <= 0 {
		errs = append(errs, errors.New("geo timeout must be positive"))
	}
	if c.Scoring.GeoHistoryLimit <= 0 {
		errs = append(errs, errors.New("geo history limit must be positive"))
	}
	if c.Scoring.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max batch size must be positive"))
	}
	if c.Agent.RecursionLimit <= 0 {
		errs = append(errs, errors.New("agent recursion limit must be positive"))
	}
	if c.LLM.RefreshBuffer >= c.LLM.TokenTTL {
		errs = append(errs, errors.New("token refresh buffer must be shorter than token TTL"))
	}
	return errors.Join(errs...)
}
