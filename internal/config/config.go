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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Intake    IntakeConfig    `yaml:"intake" mapstructure:"intake"`
	Dispatch  DispatchConfig  `yaml:"dispatch" mapstructure:"dispatch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NotionConfig holds Notion API credentials and the field-registry database ID.
// When FieldDB is empty the embedded field fixture is used instead.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	FieldDB string `yaml:"field_db" mapstructure:"field_db"`
}

// AnthropicConfig holds Anthropic API settings. The haiku tier handles
// extraction, sonnet handles question generation, opus handles artifact builds.
type AnthropicConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	HaikuModel   string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel  string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	OpusModel    string  `yaml:"opus_model" mapstructure:"opus_model"`
	RequestsPerS float64 `yaml:"requests_per_s" mapstructure:"requests_per_s"`
}

// IntakeConfig configures conversation behavior and history windowing.
type IntakeConfig struct {
	WindowThreshold int `yaml:"window_threshold" mapstructure:"window_threshold"`
	WindowHeadKeep  int `yaml:"window_head_keep" mapstructure:"window_head_keep"`
	WindowTail      int `yaml:"window_tail" mapstructure:"window_tail"`
	WindowStep      int `yaml:"window_step" mapstructure:"window_step"`
}

// DispatchConfig configures how artifact builds are dispatched. Mode "local"
// runs builds in-process; "webhook" POSTs build requests to WebhookURL.
type DispatchConfig struct {
	Mode          string `yaml:"mode" mapstructure:"mode"`
	WebhookURL    string `yaml:"webhook_url" mapstructure:"webhook_url"`
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "coach-intake.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.opus_model", "claude-opus-4-6")
	v.SetDefault("anthropic.requests_per_s", 5.0)
	v.SetDefault("intake.window_threshold", 16)
	v.SetDefault("intake.window_head_keep", 4)
	v.SetDefault("intake.window_tail", 6)
	v.SetDefault("intake.window_step", 8)
	v.SetDefault("dispatch.mode", "local")
	v.SetDefault("dispatch.max_concurrent", 4)

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

// Validate checks the configuration for the given run mode ("serve",
// "intake", or "generate"), collecting every problem into one error.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "serve", "intake", "generate":
	default:
		return eris.Errorf("config: unknown mode %s", mode)
	}

	var problems []string

	if c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required (COACH_ANTHROPIC_KEY)")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required with the postgres driver")
	}
	if c.Dispatch.Mode == "webhook" && c.Dispatch.WebhookURL == "" {
		problems = append(problems, "dispatch.webhook_url is required in webhook mode")
	}
	if c.Dispatch.MaxConcurrent < 1 || c.Dispatch.MaxConcurrent > 50 {
		problems = append(problems, "dispatch.max_concurrent must be between 1 and 50")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}
	if c.Intake.WindowThreshold > 0 {
		if c.Intake.WindowHeadKeep+c.Intake.WindowTail > c.Intake.WindowThreshold {
			problems = append(problems, "intake window head_keep + tail must not exceed window_threshold")
		}
		if c.Intake.WindowStep < 1 {
			problems = append(problems, "intake.window_step must be >= 1")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
