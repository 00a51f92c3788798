package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Sources     SourcesConfig     `yaml:"sources" mapstructure:"sources"`
	Health      HealthConfig      `yaml:"health" mapstructure:"health"`
	Fusion      FusionConfig      `yaml:"fusion" mapstructure:"fusion"`
	Decay       DecayConfig       `yaml:"decay" mapstructure:"decay"`
	Validation  ValidationConfig  `yaml:"validation" mapstructure:"validation"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" mapstructure:"scheduler"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourceEndpoint configures one telemetry backend adapter.
type SourceEndpoint struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SourcesConfig holds the endpoint configuration for each evidence backend.
type SourcesConfig struct {
	Infrastructure SourceEndpoint `yaml:"infrastructure" mapstructure:"infrastructure"`
	PipelineConfig SourceEndpoint `yaml:"pipeline_config" mapstructure:"pipeline_config"`
	Trace          SourceEndpoint `yaml:"trace" mapstructure:"trace"`
	Metrics        SourceEndpoint `yaml:"metrics" mapstructure:"metrics"`
}

// HealthConfig configures the resource health source used by the validation
// sweep.
type HealthConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// FusionConfig holds the evidence fusion policy: per-source weights,
// corroboration multipliers, and classification thresholds. All tunable.
type FusionConfig struct {
	Weights             WeightConfig `yaml:"weights" mapstructure:"weights"`
	CountMultipliers    []float64    `yaml:"count_multipliers" mapstructure:"count_multipliers"`
	VerifiedThreshold   float64      `yaml:"verified_threshold" mapstructure:"verified_threshold"`
	ReviewThreshold     float64      `yaml:"review_threshold" mapstructure:"review_threshold"`
	VerifyTimeoutSecs   int          `yaml:"verify_timeout_secs" mapstructure:"verify_timeout_secs"`
	EvidenceWindowHours int          `yaml:"evidence_window_hours" mapstructure:"evidence_window_hours"`
}

// WeightConfig holds the fixed base weight per evidence source kind.
type WeightConfig struct {
	Infrastructure float64 `yaml:"infrastructure" mapstructure:"infrastructure"`
	PipelineConfig float64 `yaml:"pipeline_config" mapstructure:"pipeline_config"`
	Trace          float64 `yaml:"trace" mapstructure:"trace"`
	Metrics        float64 `yaml:"metrics" mapstructure:"metrics"`
}

// DecayConfig configures time-based confidence erosion.
type DecayConfig struct {
	Rate           float64 `yaml:"rate" mapstructure:"rate"`
	DaysThreshold  int     `yaml:"days_threshold" mapstructure:"days_threshold"`
	StaleAfterDays int     `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// ValidationConfig configures prediction validation.
type ValidationConfig struct {
	DecisionThreshold float64 `yaml:"decision_threshold" mapstructure:"decision_threshold"`
	MinAgeHours       int     `yaml:"min_age_hours" mapstructure:"min_age_hours"`
	BatchSize         int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// CalibrationConfig configures the calibration analysis pass.
type CalibrationConfig struct {
	WindowDays         int     `yaml:"window_days" mapstructure:"window_days"`
	PrecisionThreshold float64 `yaml:"precision_threshold" mapstructure:"precision_threshold"`
	RecallFloor        float64 `yaml:"recall_floor" mapstructure:"recall_floor"`
	MinSample          int     `yaml:"min_sample" mapstructure:"min_sample"`
}

// SchedulerConfig configures the maintenance job cadences.
type SchedulerConfig struct {
	ValidationIntervalMins int `yaml:"validation_interval_mins" mapstructure:"validation_interval_mins"`
	DecayHourUTC           int `yaml:"decay_hour_utc" mapstructure:"decay_hour_utc"`
	CalibrationWeekday     int `yaml:"calibration_weekday" mapstructure:"calibration_weekday"`
	CalibrationHourUTC     int `yaml:"calibration_hour_utc" mapstructure:"calibration_hour_utc"`
	MaxRuntimeMins         int `yaml:"max_runtime_mins" mapstructure:"max_runtime_mins"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Weight returns the configured base weight for the given source kind name.
func (w WeightConfig) Weight(kind string) float64 {
	switch kind {
	case "infrastructure":
		return w.Infrastructure
	case "pipeline_config":
		return w.PipelineConfig
	case "trace":
		return w.Trace
	case "metrics":
		return w.Metrics
	}
	return 0
}

// VerifyTimeout returns the per-verification adapter timeout.
func (f FusionConfig) VerifyTimeout() time.Duration {
	if f.VerifyTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(f.VerifyTimeoutSecs) * time.Second
}

// EvidenceWindow returns the lookback window passed to adapters.
func (f FusionConfig) EvidenceWindow() time.Duration {
	if f.EvidenceWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(f.EvidenceWindowHours) * time.Hour
}

// Multiplier returns the corroboration multiplier for the given number of
// sources that returned evidence. CountMultipliers[i] applies to i+1 sources;
// counts beyond the table use the last entry.
func (f FusionConfig) Multiplier(sources int) float64 {
	if sources <= 0 {
		return 0
	}
	if len(f.CountMultipliers) == 0 {
		return 1
	}
	if sources > len(f.CountMultipliers) {
		return f.CountMultipliers[len(f.CountMultipliers)-1]
	}
	return f.CountMultipliers[sources-1]
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "verity.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("sources.infrastructure.timeout_secs", 10)
	v.SetDefault("sources.infrastructure.rate_limit", 20)
	v.SetDefault("sources.pipeline_config.timeout_secs", 10)
	v.SetDefault("sources.pipeline_config.rate_limit", 20)
	v.SetDefault("sources.trace.timeout_secs", 10)
	v.SetDefault("sources.trace.rate_limit", 20)
	v.SetDefault("sources.metrics.timeout_secs", 10)
	v.SetDefault("sources.metrics.rate_limit", 20)
	v.SetDefault("health.timeout_secs", 10)
	v.SetDefault("health.rate_limit", 20)

	v.SetDefault("fusion.weights.infrastructure", 0.90)
	v.SetDefault("fusion.weights.pipeline_config", 0.80)
	v.SetDefault("fusion.weights.trace", 0.85)
	v.SetDefault("fusion.weights.metrics", 0.75)
	v.SetDefault("fusion.count_multipliers", []float64{0.75, 0.90, 0.97, 1.0})
	v.SetDefault("fusion.verified_threshold", 0.60)
	v.SetDefault("fusion.review_threshold", 0.40)
	v.SetDefault("fusion.verify_timeout_secs", 30)
	v.SetDefault("fusion.evidence_window_hours", 24)

	v.SetDefault("decay.rate", 0.10)
	v.SetDefault("decay.days_threshold", 3)
	v.SetDefault("decay.stale_after_days", 30)
	v.SetDefault("decay.batch_size", 1000)

	v.SetDefault("validation.decision_threshold", 0.5)
	v.SetDefault("validation.min_age_hours", 24)
	v.SetDefault("validation.batch_size", 500)

	v.SetDefault("calibration.window_days", 30)
	v.SetDefault("calibration.precision_threshold", 0.85)
	v.SetDefault("calibration.recall_floor", 0.70)
	v.SetDefault("calibration.min_sample", 20)

	v.SetDefault("scheduler.validation_interval_mins", 60)
	v.SetDefault("scheduler.decay_hour_utc", 3)
	v.SetDefault("scheduler.calibration_weekday", 1)
	v.SetDefault("scheduler.calibration_hour_utc", 4)
	v.SetDefault("scheduler.max_runtime_mins", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// silent scoring bugs.
func (c *Config) Validate() error {
	weights := map[string]float64{
		"infrastructure":  c.Fusion.Weights.Infrastructure,
		"pipeline_config": c.Fusion.Weights.PipelineConfig,
		"trace":           c.Fusion.Weights.Trace,
		"metrics":         c.Fusion.Weights.Metrics,
	}
	for name, v := range weights {
		if v <= 0 || v > 1 {
			return eris.Errorf("config: fusion weight %s must be in (0,1], got %v", name, v)
		}
	}
	for i := 1; i < len(c.Fusion.CountMultipliers); i++ {
		if c.Fusion.CountMultipliers[i] < c.Fusion.CountMultipliers[i-1] {
			return eris.New("config: fusion count_multipliers must be non-decreasing")
		}
	}
	if c.Fusion.ReviewThreshold >= c.Fusion.VerifiedThreshold {
		return eris.New("config: fusion review_threshold must be below verified_threshold")
	}
	if c.Decay.Rate <= 0 || c.Decay.Rate >= 1 {
		return eris.Errorf("config: decay rate must be in (0,1), got %v", c.Decay.Rate)
	}
	if c.Validation.DecisionThreshold < 0 || c.Validation.DecisionThreshold > 1 {
		return eris.Errorf("config: decision threshold must be in [0,1], got %v", c.Validation.DecisionThreshold)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
