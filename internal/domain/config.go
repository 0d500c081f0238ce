package domain

import "time"

// Config holds the complete Kestrel configuration. It is built explicitly in
// main and passed to constructors; no component reads the environment itself.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backend selection (sqlite/memory/channel vs
	// postgres/redis/nats)
	Tier Tier `json:"tier"`

	// Scoring pipeline settings
	Scoring ScoringConfig `json:"scoring"`

	// Alerting settings
	Alerting AlertingConfig `json:"alerting"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig is the configuration surface the scoring core consumes.
type ScoringConfig struct {
	// Decision threshold in [0, 1]; probability >= threshold is fraud.
	Threshold float64 `json:"threshold"`

	// Bound on the prediction cache. Default 10000.
	CacheCapacity int `json:"cacheCapacity"`

	// Per-call timeout for the classifier invocation.
	ClassifierTimeout time.Duration `json:"classifierTimeout"`

	// Locations mapped to the high-risk flag during feature extraction.
	HighRiskLocations []string `json:"highRiskLocations"`

	// Transaction type risk codes. Types absent from the map encode to 0.
	TypeCodes map[string]float64 `json:"typeCodes"`

	// Paths to the fitted normalization model and classifier weights.
	NormalizationModelPath string `json:"normalizationModelPath"`
	ClassifierModelPath    string `json:"classifierModelPath"`

	// Optional CEL screening rules applied alongside the model verdict.
	ScreeningRules []ScreeningRule `json:"screeningRules,omitempty"`

	// Concurrency bound for batch scoring.
	BatchWorkers int `json:"batchWorkers"`
}

// ScreeningRule is an operator-defined CEL expression evaluated against
// transaction fields. A rule that evaluates to true attaches its reason to
// the prediction result; it never changes the verdict.
type ScreeningRule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
	Enabled    bool   `json:"enabled"`
}

// AlertingConfig holds detection-rate alerting settings.
type AlertingConfig struct {
	// Fraud detection rate (percent) above which an alert is raised.
	FraudRateThreshold float64 `json:"fraudRateThreshold"`

	// How often the worker checks the metrics snapshot.
	CheckInterval time.Duration `json:"checkInterval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultTypeCodes is the fixed transaction-type enumeration the model was
// trained against. Lookup is case-insensitive; unknown types encode to 0.
func DefaultTypeCodes() map[string]float64 {
	return map[string]float64{
		"online":   1,
		"atm":      2,
		"pos":      3,
		"transfer": 4,
	}
}

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			Threshold:              0.5,
			CacheCapacity:          10000,
			ClassifierTimeout:      200 * time.Millisecond,
			HighRiskLocations:      []string{"high_risk_country", "suspicious_region"},
			TypeCodes:              DefaultTypeCodes(),
			NormalizationModelPath: "./models/scaler.json",
			ClassifierModelPath:    "./models/classifier.json",
			BatchWorkers:           8,
		},
		Alerting: AlertingConfig{
			FraudRateThreshold: 5.0,
			CheckInterval:      30 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
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
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
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
