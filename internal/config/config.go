package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for one ttsaccel process.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	NewAPI   NewAPIConfig   `mapstructure:"newapi"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Splitter SplitterConfig `mapstructure:"splitter"`
	LogLevel string         `mapstructure:"log_level"`
}

// ServerConfig controls the listening HTTP server.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout_secs"`
}

// NewAPIConfig points at the upstream OpenAI-compatible chat-completion
// provider.
type NewAPIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout_secs"`
}

// TTSConfig describes the pool of TTS HTTP endpoints and the balancer's
// dispatch policy over them.
type TTSConfig struct {
	Endpoints               []string `mapstructure:"endpoints"`
	DefaultModel            string   `mapstructure:"default_model"`
	MaxConcurrentPerEndpoint int     `mapstructure:"max_concurrent_per_endpoint"`
	RequestTimeout          int      `mapstructure:"request_timeout_secs"`
	RetryCount              int      `mapstructure:"retry_count"`
}

// CacheConfig bounds the synthesis cache's size and lifetime.
type CacheConfig struct {
	MaxSize         int `mapstructure:"max_size"`
	TTL             int `mapstructure:"ttl_secs"`
	CleanupInterval int `mapstructure:"cleanup_interval_secs"`
}

// SplitterConfig bounds the streaming text splitter's segment length.
type SplitterConfig struct {
	MaxLen int `mapstructure:"max_len"`
	MinLen int `mapstructure:"min_len"`
}

// LoadOptions configures Load.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// DefaultConfig returns the configuration defaults named in the
// configuration table: host/port, no upstream credentials (required at
// load time), and the distilled original's numeric defaults for TTS,
// cache, and splitter tuning.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 30,
		},
		NewAPI: NewAPIConfig{
			Timeout: 120,
		},
		TTS: TTSConfig{
			DefaultModel:             "liang",
			MaxConcurrentPerEndpoint: 3,
			RequestTimeout:           60,
			RetryCount:               2,
		},
		Cache: CacheConfig{
			MaxSize:         1000,
			TTL:             3600,
			CleanupInterval: 300,
		},
		Splitter: SplitterConfig{
			MaxLen: 40,
			MinLen: 5,
		},
		LogLevel: "info",
	}
}

// RegisterFlags binds every recognized option to fs, using defaults as the
// flag's displayed default.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("host", defaults.Server.Host, "HTTP listen host")
	fs.Int("port", defaults.Server.Port, "HTTP listen port")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain timeout in seconds")

	fs.String("newapi-base-url", defaults.NewAPI.BaseURL, "Base URL of the upstream chat-completion provider")
	fs.String("newapi-api-key", defaults.NewAPI.APIKey, "API key for the upstream chat-completion provider")
	fs.Int("newapi-timeout", defaults.NewAPI.Timeout, "Upstream chat-completion request timeout in seconds")

	fs.StringSlice("tts-endpoints", defaults.TTS.Endpoints, "Comma-separated TTS endpoint URLs")
	fs.String("tts-default-model", defaults.TTS.DefaultModel, "Default TTS model id")
	fs.Int("tts-max-concurrent-per-endpoint", defaults.TTS.MaxConcurrentPerEndpoint, "Max concurrent requests per TTS endpoint")
	fs.Int("tts-request-timeout", defaults.TTS.RequestTimeout, "Per-request TTS synthesis timeout in seconds")
	fs.Int("tts-retry-count", defaults.TTS.RetryCount, "Retry attempts after the first TTS request failure")

	fs.Int("cache-max-size", defaults.Cache.MaxSize, "Maximum number of cache entries before eviction")
	fs.Int("cache-ttl", defaults.Cache.TTL, "Cache entry time-to-live in seconds")
	fs.Int("cache-cleanup-interval", defaults.Cache.CleanupInterval, "Interval between expired-entry sweeps in seconds")

	fs.Int("splitter-max-len", defaults.Splitter.MaxLen, "Maximum segment length in characters")
	fs.Int("splitter-min-len", defaults.Splitter.MinLen, "Minimum segment length in characters before a strong terminator cuts")

	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// Load resolves configuration from, in ascending priority: built-in
// defaults, an optional config file, environment variables prefixed
// TTSACCEL_, and command-line flags.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("TTSACCEL")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("ttsaccel")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.TTS.Endpoints = trimAll(cfg.TTS.Endpoints)

	return cfg, Validate(cfg)
}

// trimAll trims whitespace from each entry and drops any that become
// empty, matching how the distilled original's tts_endpoint_list property
// cleans up a comma-separated TTS_ENDPOINTS value.
func trimAll(endpoints []string) []string {
	out := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		e = strings.TrimSpace(e)
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Validate rejects a configuration missing required upstream settings.
func Validate(cfg Config) error {
	if cfg.NewAPI.BaseURL == "" {
		return fmt.Errorf("config: newapi.base_url is required")
	}
	if cfg.NewAPI.APIKey == "" {
		return fmt.Errorf("config: newapi.api_key is required")
	}
	if len(cfg.TTS.Endpoints) == 0 {
		return fmt.Errorf("config: tts.endpoints is required")
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.shutdown_timeout_secs", c.Server.ShutdownTimeout)

	v.SetDefault("newapi.base_url", c.NewAPI.BaseURL)
	v.SetDefault("newapi.api_key", c.NewAPI.APIKey)
	v.SetDefault("newapi.timeout_secs", c.NewAPI.Timeout)

	v.SetDefault("tts.endpoints", c.TTS.Endpoints)
	v.SetDefault("tts.default_model", c.TTS.DefaultModel)
	v.SetDefault("tts.max_concurrent_per_endpoint", c.TTS.MaxConcurrentPerEndpoint)
	v.SetDefault("tts.request_timeout_secs", c.TTS.RequestTimeout)
	v.SetDefault("tts.retry_count", c.TTS.RetryCount)

	v.SetDefault("cache.max_size", c.Cache.MaxSize)
	v.SetDefault("cache.ttl_secs", c.Cache.TTL)
	v.SetDefault("cache.cleanup_interval_secs", c.Cache.CleanupInterval)

	v.SetDefault("splitter.max_len", c.Splitter.MaxLen)
	v.SetDefault("splitter.min_len", c.Splitter.MinLen)

	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("server.host", "host")
	v.RegisterAlias("server.port", "port")
	v.RegisterAlias("server.shutdown_timeout_secs", "shutdown-timeout")

	v.RegisterAlias("newapi.base_url", "newapi-base-url")
	v.RegisterAlias("newapi.api_key", "newapi-api-key")
	v.RegisterAlias("newapi.timeout_secs", "newapi-timeout")

	v.RegisterAlias("tts.endpoints", "tts-endpoints")
	v.RegisterAlias("tts.default_model", "tts-default-model")
	v.RegisterAlias("tts.max_concurrent_per_endpoint", "tts-max-concurrent-per-endpoint")
	v.RegisterAlias("tts.request_timeout_secs", "tts-request-timeout")
	v.RegisterAlias("tts.retry_count", "tts-retry-count")

	v.RegisterAlias("cache.max_size", "cache-max-size")
	v.RegisterAlias("cache.ttl_secs", "cache-ttl")
	v.RegisterAlias("cache.cleanup_interval_secs", "cache-cleanup-interval")

	v.RegisterAlias("splitter.max_len", "splitter-max-len")
	v.RegisterAlias("splitter.min_len", "splitter-min-len")

	v.RegisterAlias("log_level", "log-level")
}
