package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/lucid-vigil/aegis/pkg/analyzers/bayes"
	"github.com/lucid-vigil/aegis/pkg/analyzers/mdp"
)

// Config is the top-level configuration struct for the application.
// It holds settings for logging, the API, the analyzers and the responders.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	APIPort     string `mapstructure:"api_port"`
	StoragePath string `mapstructure:"storage_path"`

	Agent      AgentConfig      `mapstructure:"agent"`
	Bayes      BayesConfig      `mapstructure:"bayes"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Responders RespondersConfig `mapstructure:"responders"`
	Sensors    []SensorConfig   `mapstructure:"sensors"`

	// Dependencies seeds the service dependency graph: each entry lists the
	// services that depend on it.
	Dependencies []DependencyConfig `mapstructure:"dependencies"`

	v *viper.Viper
}

// AgentConfig tunes the decision pipeline itself.
type AgentConfig struct {
	QueueSize          int `mapstructure:"queue_size"`
	MaxEventsPerMinute int `mapstructure:"max_events_per_minute"`
	Burst              int `mapstructure:"burst"`
}

// BayesConfig configures the threat scorer: the prior used when nothing
// else is known and the seeded feature likelihoods.
type BayesConfig struct {
	DefaultPrior float64                     `mapstructure:"default_prior"`
	Smoothing    float64                     `mapstructure:"smoothing"`
	Likelihoods  map[string]bayes.Likelihood `mapstructure:"likelihoods"`
}

// PolicyConfig configures the MDP engine. An empty model means the
// built-in one; operators override rewards or transitions wholesale.
type PolicyConfig struct {
	Params     mdp.Params     `mapstructure:"params"`
	Thresholds mdp.Thresholds `mapstructure:"thresholds"`
}

// RespondersConfig holds the global configuration for action dispatch.
type RespondersConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SensorConfig defines the configuration for a single sensor: its name,
// whether it's enabled, and its sampling interval.
type SensorConfig struct {
	Name     string `mapstructure:"name"`
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// DependencyConfig is one node of the service dependency graph.
type DependencyConfig struct {
	Service    string   `mapstructure:"service"`
	Dependents []string `mapstructure:"dependents"`
}

// LoadConfig reads the configuration from a YAML file (e.g., config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides. An explicit path
// overrides the search locations.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")           // Search in current directory
		v.AddConfigPath("/etc/aegis/") // Search in /etc/aegis/
	}

	// Set default values
	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")
	v.SetDefault("storage_path", "aegis.db")
	v.SetDefault("agent.queue_size", 256)
	v.SetDefault("agent.max_events_per_minute", 100)
	v.SetDefault("agent.burst", 10)
	v.SetDefault("bayes.default_prior", 0.1)
	v.SetDefault("bayes.smoothing", 0.01)
	v.SetDefault("policy.params.gamma", 0.9)
	v.SetDefault("policy.params.epsilon", 0.01)
	v.SetDefault("policy.params.max_iterations", 100)
	v.SetDefault("policy.thresholds.suspicious", 0.3)
	v.SetDefault("policy.thresholds.under_attack", 0.6)
	v.SetDefault("policy.thresholds.compromised", 0.85)
	v.SetDefault("responders.enabled", false) // Responders disabled by default

	// Read environment variables
	v.SetEnvPrefix("AEGIS")                            // Look for AEGIS_ prefix
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores for nested keys
	v.AutomaticEnv()                                   // Automatically bind environment variables to config keys

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msg("Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v

	return &cfg, nil
}

// Watch re-reads the configuration whenever the file changes and hands the
// fresh copy to onChange. The MDP engine reloads its policy through this.
func (c *Config) Watch(onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("Config file changed, reloading.")
		var fresh Config
		if err := c.v.Unmarshal(&fresh); err != nil {
			log.Error().Err(err).Msg("Failed to reload config, keeping previous settings.")
			return
		}
		fresh.v = c.v
		onChange(&fresh)
	})
	c.v.WatchConfig()
}
