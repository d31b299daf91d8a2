package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outreach-engine/internal/executor"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig              `yaml:"store" mapstructure:"store"`
	Scheduler SchedulerConfig          `yaml:"scheduler" mapstructure:"scheduler"`
	Backoff   BackoffConfig            `yaml:"backoff" mapstructure:"backoff"`
	Circuit   CircuitConfig            `yaml:"circuit" mapstructure:"circuit"`
	Score     ScoreConfig              `yaml:"score" mapstructure:"score"`
	Sources   SourcesConfig            `yaml:"sources" mapstructure:"sources"`
	Channels  map[string]ChannelConfig `yaml:"channels" mapstructure:"channels"`
	SMTP      SMTPConfig               `yaml:"smtp" mapstructure:"smtp"`
	Hunter    HunterConfig             `yaml:"hunter" mapstructure:"hunter"`
	Server    ServerConfig             `yaml:"server" mapstructure:"server"`
	Log       LogConfig                `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SchedulerConfig configures the polling loop.
type SchedulerConfig struct {
	PollIntervalSecs int      `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	BatchSize        int      `yaml:"batch_size" mapstructure:"batch_size"`
	Workers          int      `yaml:"workers" mapstructure:"workers"`
	StopFields       []string `yaml:"stop_fields" mapstructure:"stop_fields"`
	StepTimeoutSecs  int      `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
	ClaimLeaseSecs   int      `yaml:"claim_lease_secs" mapstructure:"claim_lease_secs"`
}

// BackoffConfig configures step retry scheduling.
type BackoffConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs int     `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-channel circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScoreConfig configures lead scoring.
type ScoreConfig struct {
	HalfLifeDays int     `yaml:"half_life_days" mapstructure:"half_life_days"`
	DecayFloor   float64 `yaml:"decay_floor" mapstructure:"decay_floor"`
}

// SourcesConfig sets source priority for reconciliation tie-breaks,
// highest priority first.
type SourcesConfig struct {
	Priority []string `yaml:"priority" mapstructure:"priority"`
}

// ChannelConfig sets per-channel dispatch limits.
type ChannelConfig struct {
	PerMinute float64 `yaml:"per_minute" mapstructure:"per_minute"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// SMTPConfig holds outbound email transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
	FromName string `yaml:"from_name" mapstructure:"from_name"`
}

// HunterConfig holds Hunter.io enrichment API settings.
type HunterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the operator HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RateConfigs converts the channels section into executor rate configs.
func (c *Config) RateConfigs() map[string]executor.RateConfig {
	out := make(map[string]executor.RateConfig, len(c.Channels))
	for name, ch := range c.Channels {
		out[name] = executor.RateConfig{PerMinute: ch.PerMinute, Burst: ch.Burst}
	}
	return out
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.poll_interval_secs", 15)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.stop_fields", []string{"replied", "unsubscribed"})
	v.SetDefault("scheduler.step_timeout_secs", 30)
	v.SetDefault("scheduler.claim_lease_secs", 600)
	v.SetDefault("backoff.max_attempts", 5)
	v.SetDefault("backoff.initial_backoff_secs", 60)
	v.SetDefault("backoff.max_backoff_secs", 21600)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("backoff.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 120)
	v.SetDefault("score.half_life_days", 180)
	v.SetDefault("score.decay_floor", 0.1)
	v.SetDefault("sources.priority", []string{"manual", "import", "hunter", "scrape"})
	v.SetDefault("smtp.port", 587)
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")

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

// InitLogger builds the global zap logger from config.
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
