// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Analyzer() AnalyzerConfig
	Rules() RulesConfig

	// Analyzer setters, driven by CLI flags.
	SetAnalyzerConcurrency(int)
	SetAnalyzerLanguages([]string)
}

// Config holds the entire application configuration. It uses private fields
// to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig
	analyzer AnalyzerConfig
	rules    RulesConfig
}

// rawConfig is the decode target; mapstructure needs exported fields.
type rawConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer" yaml:"analyzer"`
	Rules    RulesConfig    `mapstructure:"rules" yaml:"rules"`
}

// --- Interface Method Implementations ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Analyzer() AnalyzerConfig { return c.analyzer }
func (c *Config) Rules() RulesConfig       { return c.rules }

func (c *Config) SetAnalyzerConcurrency(n int)        { c.analyzer.Concurrency = n }
func (c *Config) SetAnalyzerLanguages(langs []string) { c.analyzer.Languages = langs }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AnalyzerConfig tunes the analysis pipeline.
type AnalyzerConfig struct {
	// Concurrency bounds the parallel per-file phases.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// MaxFixpointRounds caps taint propagation; hitting the cap produces a
	// warning, not an error.
	MaxFixpointRounds int `mapstructure:"max_fixpoint_rounds" yaml:"max_fixpoint_rounds"`
	// MaxCallDepth bounds inter-procedural call chain enumeration.
	MaxCallDepth int      `mapstructure:"max_call_depth" yaml:"max_call_depth"`
	Languages    []string `mapstructure:"languages" yaml:"languages"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg := Config{logger: raw.Logger, analyzer: raw.Analyzer, rules: DefaultRules()}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "vulntrace")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Analyzer --
	v.SetDefault("analyzer.concurrency", 8)
	v.SetDefault("analyzer.max_fixpoint_rounds", 10)
	v.SetDefault("analyzer.max_call_depth", 10)
	v.SetDefault("analyzer.languages", []string{"python", "javascript"})
}

// Load reads configuration from an optional YAML file plus VULNTRACE_*
// environment overrides, falling back to defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("VULNTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %q: %w", path, err)
		}
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := Config{logger: raw.Logger, analyzer: raw.Analyzer, rules: raw.Rules}

	// Rule tables are data, not code: a config file may replace them
	// wholesale, otherwise the built-in tables apply.
	if len(cfg.rules.Sources) == 0 && len(cfg.rules.Sinks) == 0 {
		cfg.rules = DefaultRules()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.analyzer.Concurrency <= 0 {
		return fmt.Errorf("analyzer.concurrency must be a positive integer")
	}
	if c.analyzer.MaxFixpointRounds <= 0 {
		return fmt.Errorf("analyzer.max_fixpoint_rounds must be a positive integer")
	}
	if c.analyzer.MaxCallDepth <= 0 {
		return fmt.Errorf("analyzer.max_call_depth must be a positive integer")
	}
	for _, lang := range c.analyzer.Languages {
		switch lang {
		case "python", "javascript":
		default:
			return fmt.Errorf("analyzer.languages: unsupported language %q", lang)
		}
	}
	return nil
}
