package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	return &fakeBinder{fs: fs}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d; want 8000", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30 {
		t.Errorf("Server.ShutdownTimeout = %d; want 30", cfg.Server.ShutdownTimeout)
	}
	if cfg.NewAPI.Timeout != 120 {
		t.Errorf("NewAPI.Timeout = %d; want 120", cfg.NewAPI.Timeout)
	}
	if cfg.TTS.DefaultModel != "liang" {
		t.Errorf("TTS.DefaultModel = %q; want %q", cfg.TTS.DefaultModel, "liang")
	}
	if cfg.TTS.MaxConcurrentPerEndpoint != 3 {
		t.Errorf("TTS.MaxConcurrentPerEndpoint = %d; want 3", cfg.TTS.MaxConcurrentPerEndpoint)
	}
	if cfg.TTS.RequestTimeout != 60 {
		t.Errorf("TTS.RequestTimeout = %d; want 60", cfg.TTS.RequestTimeout)
	}
	if cfg.TTS.RetryCount != 2 {
		t.Errorf("TTS.RetryCount = %d; want 2", cfg.TTS.RetryCount)
	}
	if cfg.Cache.MaxSize != 1000 {
		t.Errorf("Cache.MaxSize = %d; want 1000", cfg.Cache.MaxSize)
	}
	if cfg.Cache.TTL != 3600 {
		t.Errorf("Cache.TTL = %d; want 3600", cfg.Cache.TTL)
	}
	if cfg.Cache.CleanupInterval != 300 {
		t.Errorf("Cache.CleanupInterval = %d; want 300", cfg.Cache.CleanupInterval)
	}
	if cfg.Splitter.MaxLen != 40 {
		t.Errorf("Splitter.MaxLen = %d; want 40", cfg.Splitter.MaxLen)
	}
	if cfg.Splitter.MinLen != 5 {
		t.Errorf("Splitter.MinLen = %d; want 5", cfg.Splitter.MinLen)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

func TestLoad_MissingConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	binder := newFlagBinder(DefaultConfig())

	_, err := Load(LoadOptions{
		Cmd:        binder,
		ConfigFile: filepath.Join(dir, "missing.yaml"),
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Fatal("Load() with no config file and no flags should error on missing config file")
	}
}

func TestLoad_FromConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ttsaccel.yaml")

	contents := `
server:
  host: "127.0.0.1"
  port: 9000
newapi:
  base_url: "https://api.example.com"
  api_key: "secret-key"
tts:
  endpoints:
    - "http://tts-1:8001"
    - "http://tts-2:8001"
  default_model: "liang"
cache:
  max_size: 500
splitter:
  max_len: 80
  min_len: 10
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	binder := newFlagBinder(DefaultConfig())
	cfg, err := Load(LoadOptions{
		Cmd:        binder,
		ConfigFile: configPath,
		Defaults:   DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q; want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d; want 9000", cfg.Server.Port)
	}
	if cfg.NewAPI.BaseURL != "https://api.example.com" {
		t.Errorf("NewAPI.BaseURL = %q; want https://api.example.com", cfg.NewAPI.BaseURL)
	}
	if len(cfg.TTS.Endpoints) != 2 {
		t.Fatalf("TTS.Endpoints = %v; want 2 entries", cfg.TTS.Endpoints)
	}
	if cfg.Cache.MaxSize != 500 {
		t.Errorf("Cache.MaxSize = %d; want 500", cfg.Cache.MaxSize)
	}
	if cfg.Splitter.MaxLen != 80 {
		t.Errorf("Splitter.MaxLen = %d; want 80", cfg.Splitter.MaxLen)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ttsaccel.yaml")

	contents := `
newapi:
  base_url: "https://api.example.com"
  api_key: "secret-key"
tts:
  endpoints:
    - "http://tts-1:8001"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("TTSACCEL_SERVER_PORT", "7777")

	binder := newFlagBinder(DefaultConfig())
	cfg, err := Load(LoadOptions{
		Cmd:        binder,
		ConfigFile: configPath,
		Defaults:   DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d; want 7777 from env override", cfg.Server.Port)
	}
}

func TestValidate_RejectsMissingEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NewAPI.BaseURL = "https://api.example.com"
	cfg.NewAPI.APIKey = "key"

	if err := Validate(cfg); err == nil {
		t.Fatal("Validate() should reject a config with no TTS endpoints")
	}
}

func TestTrimAll(t *testing.T) {
	got := trimAll([]string{" http://a ", "http://b", "", "http://c "})
	want := []string{"http://a", "http://b", "http://c"}

	if len(got) != len(want) {
		t.Fatalf("trimAll() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trimAll()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
