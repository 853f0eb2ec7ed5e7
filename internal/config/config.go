// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/mbd888/fraudpipeline/internal/rules"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string
	LogJSON  bool

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory stores if not set)

	// OpenTelemetry
	OTLPEndpoint string

	// Model service
	ModelServiceURL     string
	ModelTimeoutMs      int
	ModelWeight         float64 // spec.md §4.5 ml.weight, 0 disables ML entirely
	RuleWeight          float64 // spec.md §4.5 rules.weight; independent of ModelWeight, need not sum to 1
	ModelHighRiskProb   float64 // probability threshold for the ml_high_risk tag
	ModelBreakerFailN   int
	ModelBreakerCooldownMs int

	// Rule tunables, spec.md §6.5. Zero values fall back to rules.Defaults().
	RuleOverridesPath string // optional YAML file overriding individual rule tunables

	// Decision thresholds, spec.md §4.5
	ReviewThreshold float64
	BlockThreshold  float64

	// Stream processor
	BusBufferSize    int
	DeadLetterPath   string
	OrderingFallback bool // use per-user sharded mutex when the source can't guarantee partitioning
	MaxRedeliveries  int  // requeue attempts for a message whose sink emit failed before dead-lettering it

	// Sink
	SinkRetryMaxAttempts int
	SinkRetryBaseDelayMs int

	// Security
	AdminSecret string
}

// Defaults for every knob above.
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultModelTimeoutMs     = 2000
	DefaultModelWeight        = 0.5
	DefaultRuleWeight         = 0.5
	DefaultModelHighRiskProb  = 0.7
	DefaultModelBreakerFailN  = 5
	DefaultModelBreakerCooldownMs = 30000
	DefaultReviewThreshold    = 30.0
	DefaultBlockThreshold     = 60.0
	DefaultBusBufferSize      = 256
	DefaultSinkRetryAttempts  = 5
	DefaultSinkRetryBaseDelayMs = 200
	DefaultMaxRedeliveries    = 3
)

// ruleOverridesFile is the shape of the optional YAML file named by
// RuleOverridesPath, mirroring the tunables in rules.Config. Any field
// left at its zero value keeps the compiled-in default.
type ruleOverridesFile struct {
	BurstWindowSec      int     `yaml:"burstWindowSec"`
	BurstCount          int     `yaml:"burstCount"`
	BurstScore          float64 `yaml:"burstScore"`
	GeoMaxSpeedKmph     float64 `yaml:"geoMaxSpeedKmph"`
	GeoScore            float64 `yaml:"geoScore"`
	DeviceNewWithinDays int     `yaml:"deviceNewWithinDays"`
	DeviceScore         float64 `yaml:"deviceScore"`
	IPNewWithinDays     int     `yaml:"ipNewWithinDays"`
	IPScore             float64 `yaml:"ipScore"`
	SpendMultiplier     float64 `yaml:"spendMultiplier"`
	SpendScore          float64 `yaml:"spendScore"`
	SpendHistorySize    int     `yaml:"spendHistorySize"`
	HighAmountThreshold float64 `yaml:"highAmountThreshold"`
	HighAmountScore     float64 `yaml:"highAmountScore"`
	BadCurrencyScore    float64 `yaml:"badCurrencyScore"`
	NightTimeScore      float64 `yaml:"nightTimeScore"`
	InvalidAmountScore  float64 `yaml:"invalidAmountScore"`
}

// LoadRuleOverrides reads and parses the optional YAML overrides file. A
// missing RuleOverridesPath is not an error; callers get a zero-value
// struct which applies no overrides.
func LoadRuleOverrides(path string) (*ruleOverridesFile, error) {
	if path == "" {
		return &ruleOverridesFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read rule overrides: %w", err)
	}
	var out ruleOverridesFile
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("config: parse rule overrides: %w", err)
	}
	return &out, nil
}

// ApplyTo copies every non-zero field of o onto rc, leaving rc's existing
// value (normally a compiled-in default) wherever the operator didn't
// set an override.
func (o *ruleOverridesFile) ApplyTo(rc *rules.Config) {
	if o.BurstWindowSec != 0 {
		rc.BurstWindowSec = o.BurstWindowSec
	}
	if o.BurstCount != 0 {
		rc.BurstCount = o.BurstCount
	}
	if o.BurstScore != 0 {
		rc.BurstScore = o.BurstScore
	}
	if o.GeoMaxSpeedKmph != 0 {
		rc.GeoMaxSpeedKmph = o.GeoMaxSpeedKmph
	}
	if o.GeoScore != 0 {
		rc.GeoScore = o.GeoScore
	}
	if o.DeviceNewWithinDays != 0 {
		rc.DeviceNewWithinDays = o.DeviceNewWithinDays
	}
	if o.DeviceScore != 0 {
		rc.DeviceScore = o.DeviceScore
	}
	if o.IPNewWithinDays != 0 {
		rc.IPNewWithinDays = o.IPNewWithinDays
	}
	if o.IPScore != 0 {
		rc.IPScore = o.IPScore
	}
	if o.SpendMultiplier != 0 {
		rc.SpendMultiplier = o.SpendMultiplier
	}
	if o.SpendScore != 0 {
		rc.SpendScore = o.SpendScore
	}
	if o.SpendHistorySize != 0 {
		rc.SpendHistorySize = o.SpendHistorySize
	}
	if o.HighAmountThreshold != 0 {
		rc.HighAmountThreshold = o.HighAmountThreshold
	}
	if o.HighAmountScore != 0 {
		rc.HighAmountScore = o.HighAmountScore
	}
	if o.BadCurrencyScore != 0 {
		rc.BadCurrencyScore = o.BadCurrencyScore
	}
	if o.NightTimeScore != 0 {
		rc.NightTimeScore = o.NightTimeScore
	}
	if o.InvalidAmountScore != 0 {
		rc.InvalidAmountScore = o.InvalidAmountScore
	}
}

// RulesConfig builds the rule engine configuration for cfg: compiled-in
// defaults with any YAML overrides from RuleOverridesPath applied on top.
func RulesConfig(cfg *Config) (rules.Config, error) {
	rc := rules.Defaults()
	overrides, err := LoadRuleOverrides(cfg.RuleOverridesPath)
	if err != nil {
		return rc, err
	}
	overrides.ApplyTo(&rc)
	return rc, nil
}

// Load reads configuration from environment variables. It loads a .env
// file if present, for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogJSON:                getEnvBool("LOG_JSON", true),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ModelServiceURL:        os.Getenv("MODEL_SERVICE_URL"),
		ModelTimeoutMs:         int(getEnvInt64("MODEL_TIMEOUT_MS", DefaultModelTimeoutMs)),
		ModelWeight:            getEnvFloat("MODEL_WEIGHT", DefaultModelWeight),
		RuleWeight:             getEnvFloat("RULE_WEIGHT", DefaultRuleWeight),
		ModelHighRiskProb:      getEnvFloat("MODEL_HIGH_RISK_PROB", DefaultModelHighRiskProb),
		ModelBreakerFailN:      int(getEnvInt64("MODEL_BREAKER_FAIL_N", int64(DefaultModelBreakerFailN))),
		ModelBreakerCooldownMs: int(getEnvInt64("MODEL_BREAKER_COOLDOWN_MS", DefaultModelBreakerCooldownMs)),
		RuleOverridesPath:      os.Getenv("RULE_OVERRIDES_PATH"),
		ReviewThreshold:        getEnvFloat("REVIEW_THRESHOLD", DefaultReviewThreshold),
		BlockThreshold:         getEnvFloat("BLOCK_THRESHOLD", DefaultBlockThreshold),
		BusBufferSize:          int(getEnvInt64("BUS_BUFFER_SIZE", int64(DefaultBusBufferSize))),
		DeadLetterPath:         getEnv("DEAD_LETTER_PATH", "dead-letters.jsonl"),
		OrderingFallback:       getEnvBool("ORDERING_FALLBACK", false),
		MaxRedeliveries:        int(getEnvInt64("MAX_REDELIVERIES", int64(DefaultMaxRedeliveries))),
		SinkRetryMaxAttempts:   int(getEnvInt64("SINK_RETRY_MAX_ATTEMPTS", int64(DefaultSinkRetryAttempts))),
		SinkRetryBaseDelayMs:   int(getEnvInt64("SINK_RETRY_BASE_DELAY_MS", DefaultSinkRetryBaseDelayMs)),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and internally
// consistent.
func (c *Config) Validate() error {
	if c.ReviewThreshold < 0 || c.BlockThreshold > 100 {
		return fmt.Errorf("REVIEW_THRESHOLD and BLOCK_THRESHOLD must fall within [0,100]")
	}
	if c.ReviewThreshold >= c.BlockThreshold {
		return fmt.Errorf("REVIEW_THRESHOLD must be less than BLOCK_THRESHOLD")
	}
	if c.ModelWeight < 0 {
		return fmt.Errorf("MODEL_WEIGHT must be non-negative")
	}
	if c.RuleWeight < 0 {
		return fmt.Errorf("RULE_WEIGHT must be non-negative")
	}
	if c.ModelWeight > 0 && c.ModelServiceURL == "" {
		return fmt.Errorf("MODEL_SERVICE_URL is required when MODEL_WEIGHT > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MLEnabled reports whether the score combiner should call the model
// service at all.
func (c *Config) MLEnabled() bool {
	return c.ModelWeight > 0 && c.ModelServiceURL != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
