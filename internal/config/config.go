// Package config loads the process configuration.
//
// Precedence: explicit file > environment > defaults. Environment variables
// use the CALLSIGHT_ prefix with underscores for nesting
// (CALLSIGHT_SERVER_PORT, CALLSIGHT_LLM_API_KEY). The upstream credential
// variables GONG_ACCESS_KEY, GONG_ACCESS_SECRET, and ANTHROPIC_API_KEY are
// honored as aliases so existing deployments keep working.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/fathomtel/callsight/pkg/batch"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/llm"
	"github.com/fathomtel/callsight/pkg/pipeline"
	"github.com/fathomtel/callsight/pkg/routing"
)

// EnvPrefix is the environment variable prefix for all settings.
const EnvPrefix = "CALLSIGHT"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Source   callsource.Config `mapstructure:"source"`
	LLM      llm.Config        `mapstructure:"llm"`
	Analysis AnalysisConfig    `mapstructure:"analysis"`
	Jobs     JobsConfig        `mapstructure:"jobs"`
	Log      LogConfig         `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AnalysisConfig holds routing and batching knobs.
type AnalysisConfig struct {
	// DirectTokenLimitK is the direct-mode threshold in thousands of
	// tokens; <= 0 disables deferral entirely.
	DirectTokenLimitK    int           `mapstructure:"direct_token_limit_k"`
	BatchMaxCalls        int           `mapstructure:"batch_max_calls"`
	BatchMaxTokens       int           `mapstructure:"batch_max_tokens"`
	PromptOverheadTokens int           `mapstructure:"prompt_overhead_tokens"`
	BatchDelay           time.Duration `mapstructure:"batch_delay"`
	SecondsPerBatch      int           `mapstructure:"seconds_per_batch"`
}

// JobsConfig holds job store settings.
type JobsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("source.base_url", "https://api.gong.io")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.requests_per_second", 3)

	v.SetDefault("llm.api_url", llm.DefaultAPIURL)
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_output_tokens", 16000)
	v.SetDefault("llm.request_timeout", "180s")
	v.SetDefault("llm.max_attempts", 3)

	v.SetDefault("analysis.direct_token_limit_k", 150)
	v.SetDefault("analysis.batch_max_calls", 20)
	v.SetDefault("analysis.batch_max_tokens", 24000)
	v.SetDefault("analysis.prompt_overhead_tokens", 3500)
	v.SetDefault("analysis.batch_delay", "65s")
	v.SetDefault("analysis.seconds_per_batch", 90)

	v.SetDefault("jobs.dir", "./jobs")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from an optional file plus the environment.
// path may be empty, in which case only well-known locations are searched
// and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Deployments predating the rename keep their credential env vars.
	_ = v.BindEnv("source.access_key", "CALLSIGHT_SOURCE_ACCESS_KEY", "GONG_ACCESS_KEY")
	_ = v.BindEnv("source.access_secret", "CALLSIGHT_SOURCE_ACCESS_SECRET", "GONG_ACCESS_SECRET")
	_ = v.BindEnv("llm.api_key", "CALLSIGHT_LLM_API_KEY", "ANTHROPIC_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("callsight")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/callsight")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Source.ApplyDefaults()
	cfg.LLM.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Jobs.Dir) == "" {
		return fmt.Errorf("jobs.dir must not be empty")
	}
	if c.Analysis.BatchMaxCalls <= 0 {
		return fmt.Errorf("analysis.batch_max_calls must be positive")
	}
	if c.Analysis.BatchMaxTokens <= 0 {
		return fmt.Errorf("analysis.batch_max_tokens must be positive")
	}
	if c.Analysis.SecondsPerBatch <= 0 {
		return fmt.Errorf("analysis.seconds_per_batch must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q invalid (debug|info|warn|error)", c.Log.Level)
	}
	return nil
}

// BatchConfig maps the analysis settings onto the planner.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		MaxCalls:             c.Analysis.BatchMaxCalls,
		MaxTokens:            c.Analysis.BatchMaxTokens,
		PromptOverheadTokens: c.Analysis.PromptOverheadTokens,
	}
}

// Policy maps the analysis settings onto the routing policy. The batch
// token cap mirrors the planner's effective cap so estimates stay honest.
func (c *Config) Policy() routing.Policy {
	return routing.Policy{
		DirectTokenLimitK: c.Analysis.DirectTokenLimitK,
		BatchTokenCap:     int(float64(c.Analysis.BatchMaxTokens)*0.9) - c.Analysis.PromptOverheadTokens,
		SecondsPerBatch:   c.Analysis.SecondsPerBatch,
	}
}

// PipelineConfig maps the analysis settings onto the orchestrator.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Batch:      c.BatchConfig(),
		BatchDelay: c.Analysis.BatchDelay,
	}
}
