// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/autograder/internal/cost"
	"github.com/sells-group/autograder/internal/ocr"
	"github.com/sells-group/autograder/internal/rategate"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" mapstructure:"embeddings"`
	OCR        ocr.Config       `yaml:"ocr" mapstructure:"ocr"`
	RateLimit  rategate.Config  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingsConfig holds the embeddings endpoint used for page
// localization. Leaving Endpoint empty disables the locate stage.
type EmbeddingsConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Key      string `yaml:"key" mapstructure:"key"`
	Model    string `yaml:"model" mapstructure:"model"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	// Concurrency bounds workers per stage.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// KeyAttempts is how many times each question is solved when
	// generating an answer key.
	KeyAttempts int `yaml:"key_attempts" mapstructure:"key_attempts"`
	// SampleSize is how many student answers are shown to the rubric
	// generator per question.
	SampleSize int `yaml:"sample_size" mapstructure:"sample_size"`
	// TopKPages is how many pages the locate stage keeps per question.
	TopKPages int `yaml:"top_k_pages" mapstructure:"top_k_pages"`
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
	v.SetEnvPrefix("AUTOGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("embeddings.model", "text-embedding-3-large")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("rate_limit.max_in_flight", 10)
	v.SetDefault("rate_limit.requests_per_minute", 100)
	v.SetDefault("rate_limit.tokens_per_minute", 100000)
	v.SetDefault("pipeline.concurrency", 10)
	v.SetDefault("pipeline.key_attempts", 3)
	v.SetDefault("pipeline.sample_size", 10)
	v.SetDefault("pipeline.top_k_pages", 3)

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

	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
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
