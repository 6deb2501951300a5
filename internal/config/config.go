package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is built once at
// startup and handed to components by value.
type Config struct {
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Trials     TrialsConfig     `yaml:"trials" mapstructure:"trials"`
	Pool       PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Stats      StatsConfig      `yaml:"stats" mapstructure:"stats"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Baseline   BaselineConfig   `yaml:"baseline" mapstructure:"baseline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// EngineConfig describes how to invoke the detection engine under test.
type EngineConfig struct {
	Command       string   `yaml:"command" mapstructure:"command"`
	Args          []string `yaml:"args" mapstructure:"args"`
	WorkDir       string   `yaml:"work_dir" mapstructure:"work_dir"`
	SeedFlag      string   `yaml:"seed_flag" mapstructure:"seed_flag"`
	DocumentsFlag string   `yaml:"documents_flag" mapstructure:"documents_flag"`
	OutputFlag    string   `yaml:"output_flag" mapstructure:"output_flag"`
	ResultGlob    string   `yaml:"result_glob" mapstructure:"result_glob"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	KeepArtifacts bool     `yaml:"keep_artifacts" mapstructure:"keep_artifacts"`
}

// Timeout returns the per-trial subprocess timeout.
func (e EngineConfig) Timeout() time.Duration {
	if e.TimeoutSecs <= 0 {
		return 300 * time.Second
	}
	return time.Duration(e.TimeoutSecs) * time.Second
}

// TrialsConfig controls how many trials run and with which seeds.
type TrialsConfig struct {
	Count     int     `yaml:"count" mapstructure:"count"`
	Documents int     `yaml:"documents" mapstructure:"documents"`
	BaseSeed  int64   `yaml:"base_seed" mapstructure:"base_seed"`
	Seeds     []int64 `yaml:"seeds" mapstructure:"seeds"`
}

// SeedList returns n seeds: the configured explicit seeds first, then
// consecutive seeds after BaseSeed.
func (t TrialsConfig) SeedList(n int) []int64 {
	seeds := make([]int64, 0, n)
	for _, s := range t.Seeds {
		if len(seeds) == n {
			return seeds
		}
		seeds = append(seeds, s)
	}
	next := t.BaseSeed
	for len(seeds) < n {
		seeds = append(seeds, next)
		next++
	}
	return seeds
}

// PoolConfig configures trial parallelism.
type PoolConfig struct {
	Size             int `yaml:"size" mapstructure:"size"`
	LaunchIntervalMs int `yaml:"launch_interval_ms" mapstructure:"launch_interval_ms"`
}

// StatsConfig configures significance testing and the decision policy.
type StatsConfig struct {
	Confidence           float64 `yaml:"confidence" mapstructure:"confidence"`
	CriticalMode         string  `yaml:"critical_mode" mapstructure:"critical_mode"`
	CriticalValue        float64 `yaml:"critical_value" mapstructure:"critical_value"`
	Epsilon              float64 `yaml:"epsilon" mapstructure:"epsilon"`
	SpecificityTolerance float64 `yaml:"specificity_tolerance" mapstructure:"specificity_tolerance"`
}

// ClassifierConfig configures root-cause classification weights.
type ClassifierConfig struct {
	WeightsFile string  `yaml:"weights_file" mapstructure:"weights_file"`
	OCRBase     float64 `yaml:"ocr_base" mapstructure:"ocr_base"`
	OCRStep     float64 `yaml:"ocr_step" mapstructure:"ocr_step"`
}

// BaselineConfig locates persisted snapshots.
type BaselineConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NotifyConfig configures verdict webhooks.
type NotifyConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	TimeoutSecs          int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts          int     `yaml:"max_attempts" mapstructure:"max_attempts"`
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
	v.SetConfigName("phi-regress")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PHIREGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("engine.command", "node")
	v.SetDefault("engine.args", []string{"tests/master-suite/run.js", "--json"})
	v.SetDefault("engine.seed_flag", "--seed")
	v.SetDefault("engine.documents_flag", "--documents")
	v.SetDefault("engine.output_flag", "--output")
	v.SetDefault("engine.result_glob", "*.json")
	v.SetDefault("engine.timeout_secs", 300)
	v.SetDefault("trials.count", 5)
	v.SetDefault("trials.documents", 200)
	v.SetDefault("trials.base_seed", 1000)
	v.SetDefault("pool.size", 0)
	v.SetDefault("pool.launch_interval_ms", 0)
	v.SetDefault("stats.confidence", 0.95)
	v.SetDefault("stats.critical_mode", "fixed")
	v.SetDefault("stats.critical_value", 2.78)
	v.SetDefault("stats.epsilon", 0.01)
	v.SetDefault("stats.specificity_tolerance", 2.0)
	v.SetDefault("classifier.ocr_base", 0.7)
	v.SetDefault("classifier.ocr_step", 0.1)
	v.SetDefault("baseline.dir", ".phi-regress")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", ".phi-regress/runs.db")
	v.SetDefault("notify.failure_rate_threshold", 0.2)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

// Validate rejects settings the statistics and orchestration layers cannot use.
func (c Config) Validate() error {
	if c.Trials.Count < 1 {
		return eris.Errorf("config: trials.count must be >= 1, got %d", c.Trials.Count)
	}
	if c.Trials.Documents < 1 {
		return eris.Errorf("config: trials.documents must be >= 1, got %d", c.Trials.Documents)
	}
	if c.Stats.Confidence <= 0 || c.Stats.Confidence >= 1 {
		return eris.Errorf("config: stats.confidence must be in (0,1), got %g", c.Stats.Confidence)
	}
	switch c.Stats.CriticalMode {
	case "fixed", "student_t":
	default:
		return eris.Errorf("config: unknown stats.critical_mode %q", c.Stats.CriticalMode)
	}
	if c.Classifier.OCRBase <= 0 || c.Classifier.OCRBase > 1 {
		return eris.Errorf("config: classifier.ocr_base must be in (0,1], got %g", c.Classifier.OCRBase)
	}
	if c.Classifier.OCRStep < 0 {
		return eris.Errorf("config: classifier.ocr_step must be >= 0, got %g", c.Classifier.OCRStep)
	}
	if c.Engine.Command == "" {
		return eris.New("config: engine.command is required")
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
