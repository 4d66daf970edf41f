// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Provider     ProviderConfig     `mapstructure:"provider" yaml:"provider"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Extractor    ExtractorConfig    `mapstructure:"extractor" yaml:"extractor"`
	Differ       DifferConfig       `mapstructure:"differ" yaml:"differ"`
	Executor     ExecutorConfig     `mapstructure:"executor" yaml:"executor"`
}

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File rotation (lumberjack). Empty LogFile disables file output.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BackendKind names a provider adapter variant.
type BackendKind string

const (
	BackendOpenAI BackendKind = "openai"
	BackendGemini BackendKind = "gemini"
)

// ProviderConfig defines the configuration for the active AI backend.
type ProviderConfig struct {
	Backend    BackendKind   `mapstructure:"backend" yaml:"backend"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`

	Temperature      float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP             float64 `mapstructure:"top_p" yaml:"top_p"`
	TopK             int     `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens        int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	FrequencyPenalty float64 `mapstructure:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float64 `mapstructure:"presence_penalty" yaml:"presence_penalty"`

	// SafetyFilters maps Gemini safety categories to thresholds.
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`

	// MaxRetryElapsed bounds transport-level retries inside SendRequest.
	// HTTP status errors are never retried there.
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// OrchestratorConfig sizes the response cache and request pacing.
type OrchestratorConfig struct {
	CacheCap     int           `mapstructure:"cache_cap" yaml:"cache_cap"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RequestDelay time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
}

// ExtractorConfig bounds snapshot capture.
type ExtractorConfig struct {
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`
	// MaxElements is the hard ceiling; the effective cap is
	// max(150, 30% of discovered) bounded by this value.
	MaxElements      int `mapstructure:"max_elements" yaml:"max_elements"`
	TextLimit        int `mapstructure:"text_limit" yaml:"text_limit"`
	HTMLContextLimit int `mapstructure:"html_context_limit" yaml:"html_context_limit"`
}

// DifferConfig bounds diff computation.
type DifferConfig struct {
	// PositionThreshold is the movement in either axis beyond which an
	// element counts as modified.
	PositionThreshold float64 `mapstructure:"position_threshold" yaml:"position_threshold"`
	// UnchangedCeiling is the hard ceiling on retained unchanged elements;
	// the effective cap is max(100, 20% of unchanged) bounded by it.
	UnchangedCeiling int `mapstructure:"unchanged_ceiling" yaml:"unchanged_ceiling"`
	// TextPrefixLen is how much element text participates in the hash.
	TextPrefixLen int `mapstructure:"text_prefix_len" yaml:"text_prefix_len"`
}

// ExecutorConfig tunes tool execution.
type ExecutorConfig struct {
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout" yaml:"default_wait_timeout"`
	WaitPollInterval   time.Duration `mapstructure:"wait_poll_interval" yaml:"wait_poll_interval"`
	MaxAlternatives    int           `mapstructure:"max_alternatives" yaml:"max_alternatives"`
	ScrollStep         float64       `mapstructure:"scroll_step" yaml:"scroll_step"`
}

// SetDefaults initialises default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Provider --
	v.SetDefault("provider.backend", string(BackendOpenAI))
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.api_timeout", 60*time.Second)
	v.SetDefault("provider.temperature", 0.2)
	v.SetDefault("provider.top_p", 0.9)
	v.SetDefault("provider.top_k", 40)
	v.SetDefault("provider.max_tokens", 2048)
	v.SetDefault("provider.frequency_penalty", 0.0)
	v.SetDefault("provider.presence_penalty", 0.0)
	v.SetDefault("provider.max_retry_elapsed", 30*time.Second)

	// -- Orchestrator --
	v.SetDefault("orchestrator.cache_cap", 50)
	v.SetDefault("orchestrator.cache_ttl", 5*time.Minute)
	v.SetDefault("orchestrator.request_delay", 500*time.Millisecond)

	// -- Extractor --
	v.SetDefault("extractor.max_depth", 25)
	v.SetDefault("extractor.max_elements", 500)
	v.SetDefault("extractor.text_limit", 100)
	v.SetDefault("extractor.html_context_limit", 4000)

	// -- Differ --
	v.SetDefault("differ.position_threshold", 10.0)
	v.SetDefault("differ.unchanged_ceiling", 300)
	v.SetDefault("differ.text_prefix_len", 50)

	// -- Executor --
	v.SetDefault("executor.default_wait_timeout", 5*time.Second)
	v.SetDefault("executor.wait_poll_interval", 100*time.Millisecond)
	v.SetDefault("executor.max_alternatives", 3)
	v.SetDefault("executor.scroll_step", 576) // 80% of a 720px viewport
}

// Load reads configuration from an optional file and the environment, layered
// over defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("PAGEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	switch c.Provider.Backend {
	case BackendOpenAI, BackendGemini:
	default:
		return fmt.Errorf("provider.backend must be one of %q, %q; got %q",
			BackendOpenAI, BackendGemini, c.Provider.Backend)
	}
	if c.Orchestrator.CacheCap <= 0 {
		return fmt.Errorf("orchestrator.cache_cap must be positive, got %d", c.Orchestrator.CacheCap)
	}
	if c.Orchestrator.CacheTTL <= 0 {
		return fmt.Errorf("orchestrator.cache_ttl must be positive, got %s", c.Orchestrator.CacheTTL)
	}
	if c.Extractor.MaxDepth <= 0 {
		return fmt.Errorf("extractor.max_depth must be positive, got %d", c.Extractor.MaxDepth)
	}
	if c.Extractor.MaxElements < 150 {
		return fmt.Errorf("extractor.max_elements must be at least 150, got %d", c.Extractor.MaxElements)
	}
	if c.Differ.PositionThreshold < 0 {
		return fmt.Errorf("differ.position_threshold must not be negative, got %f", c.Differ.PositionThreshold)
	}
	if c.Executor.MaxAlternatives <= 0 {
		return fmt.Errorf("executor.max_alternatives must be positive, got %d", c.Executor.MaxAlternatives)
	}
	return nil
}
