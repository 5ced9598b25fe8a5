package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Artifacts   ArtifactConfig    `yaml:"artifacts" mapstructure:"artifacts"`
	Engine      EngineConfig      `yaml:"engine" mapstructure:"engine"`
	Orchestrate OrchestrateConfig `yaml:"orchestrate" mapstructure:"orchestrate"`
	Candidates  CandidateConfig   `yaml:"candidates" mapstructure:"candidates"`
	Resolver    ResolverConfig    `yaml:"resolver" mapstructure:"resolver"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Rules       RulesConfig       `yaml:"rules" mapstructure:"rules"`
	Gate        GateConfig        `yaml:"gate" mapstructure:"gate"`
	Profiles    ProfilesConfig    `yaml:"profiles" mapstructure:"profiles"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Export      ExportConfig      `yaml:"export" mapstructure:"export"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. The pool settings only apply
// to the postgres driver.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ArtifactConfig configures the content-addressed artifact store.
type ArtifactConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// EngineConfig configures the recognition engine adapter.
type EngineConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	TessData    string  `yaml:"tessdata" mapstructure:"tessdata"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OrchestrateConfig bounds the recognition pass matrix for one document.
type OrchestrateConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	BudgetSecs      int `yaml:"budget_secs" mapstructure:"budget_secs"`
	PassTimeoutSecs int `yaml:"pass_timeout_secs" mapstructure:"pass_timeout_secs"`
}

// CandidateConfig configures candidate generation strategies.
type CandidateConfig struct {
	GlobalDictPath  string  `yaml:"global_dict_path" mapstructure:"global_dict_path"`
	VendorDictDir   string  `yaml:"vendor_dict_dir" mapstructure:"vendor_dict_dir"`
	FuzzyMinScore   float64 `yaml:"fuzzy_min_score" mapstructure:"fuzzy_min_score"`
	SpatialMaxGapPx int     `yaml:"spatial_max_gap_px" mapstructure:"spatial_max_gap_px"`
}

// ResolverConfig holds the consensus-boost and validation constants. These
// are tunable defaults, not fixed contracts.
type ResolverConfig struct {
	BoostPerSource       float64 `yaml:"boost_per_source" mapstructure:"boost_per_source"`
	BoostCap             float64 `yaml:"boost_cap" mapstructure:"boost_cap"`
	RulePenalty          float64 `yaml:"rule_penalty" mapstructure:"rule_penalty"`
	MaxAlternatives      int     `yaml:"max_alternatives" mapstructure:"max_alternatives"`
	TotalsToleranceCents int     `yaml:"totals_tolerance_cents" mapstructure:"totals_tolerance_cents"`
	FutureDateSlackHours int     `yaml:"future_date_slack_hours" mapstructure:"future_date_slack_hours"`
	LowConfidenceBelow   float64 `yaml:"low_confidence_below" mapstructure:"low_confidence_below"`
}

// CalibrationConfig configures the confidence calibrator.
type CalibrationConfig struct {
	MinVendorSamples  int     `yaml:"min_vendor_samples" mapstructure:"min_vendor_samples"`
	DriftThreshold    float64 `yaml:"drift_threshold" mapstructure:"drift_threshold"`
	FlushIntervalSecs int     `yaml:"flush_interval_secs" mapstructure:"flush_interval_secs"`
	FlushBatchSize    int     `yaml:"flush_batch_size" mapstructure:"flush_batch_size"`
}

// RulesConfig configures the hot-reloadable validation rule set.
type RulesConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	HotReload bool   `yaml:"hot_reload" mapstructure:"hot_reload"`
}

// GateConfig configures approval thresholds per mode.
type GateConfig struct {
	Mode       string             `yaml:"mode" mapstructure:"mode"`
	Thresholds map[string]float64 `yaml:"thresholds" mapstructure:"thresholds"`
}

// ProfilesConfig points at the per-document-type profile definitions.
type ProfilesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ExportConfig configures snapshot export.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BILLSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "billscan.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("engine.provider", "tesseract")
	v.SetDefault("engine.rate_per_sec", 8.0)
	v.SetDefault("engine.rate_burst", 4)
	v.SetDefault("engine.timeout_secs", 30)
	v.SetDefault("orchestrate.concurrency", 4)
	v.SetDefault("orchestrate.budget_secs", 120)
	v.SetDefault("orchestrate.pass_timeout_secs", 20)
	v.SetDefault("candidates.fuzzy_min_score", 0.82)
	v.SetDefault("candidates.spatial_max_gap_px", 220)
	v.SetDefault("resolver.boost_per_source", 10)
	v.SetDefault("resolver.boost_cap", 20)
	v.SetDefault("resolver.rule_penalty", 15)
	v.SetDefault("resolver.max_alternatives", 5)
	v.SetDefault("resolver.totals_tolerance_cents", 5)
	v.SetDefault("resolver.future_date_slack_hours", 26)
	v.SetDefault("resolver.low_confidence_below", 40)
	v.SetDefault("calibration.min_vendor_samples", 20)
	v.SetDefault("calibration.drift_threshold", 5.0)
	v.SetDefault("calibration.flush_interval_secs", 15)
	v.SetDefault("calibration.flush_batch_size", 64)
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("rules.hot_reload", true)
	v.SetDefault("gate.mode", "balanced")
	v.SetDefault("gate.thresholds", map[string]float64{
		"fast":     50,
		"balanced": 70,
		"strict":   85,
	})
	v.SetDefault("profiles.path", "profiles.yaml")
	v.SetDefault("batch.max_concurrent_documents", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Threshold returns the gate threshold for the active mode, falling back to
// the balanced default when the mode is unknown.
func (g GateConfig) Threshold() float64 {
	if t, ok := g.Thresholds[g.Mode]; ok {
		return t
	}
	return 70
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
