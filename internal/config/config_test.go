package config

import (
	"testing"
)

func setEnvs(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.Queues != "transcribe,retranscribe" {
			t.Errorf("Queues = %q, want transcribe,retranscribe", cfg.Queues)
		}
		if cfg.MeiliIndex != "calls" {
			t.Errorf("MeiliIndex = %q, want calls", cfg.MeiliIndex)
		}
		if cfg.MeiliSplitByMonth {
			t.Error("MeiliSplitByMonth = true, want false")
		}
		if cfg.WhisperImplementation != "whisper-cpp" {
			t.Errorf("WhisperImplementation = %q, want whisper-cpp", cfg.WhisperImplementation)
		}
		if cfg.MinCallLength != 1 {
			t.Errorf("MinCallLength = %v, want 1", cfg.MinCallLength)
		}
		if cfg.MaxInstances != 10 {
			t.Errorf("MaxInstances = %d, want 10", cfg.MaxInstances)
		}
	})

	t.Run("env_values_parsed", func(t *testing.T) {
		setEnvs(t, map[string]string{
			"MEILI_INDEX_SPLIT_BY_MONTH": "true",
			"MIN_CALL_LENGTH":            "2.5",
			"CELERY_CONCURRENCY":         "4",
			"AUTOSCALE_INTERVAL":         "90s",
		})
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.MeiliSplitByMonth {
			t.Error("MeiliSplitByMonth = false, want true")
		}
		if cfg.MinCallLength != 2.5 {
			t.Errorf("MinCallLength = %v, want 2.5", cfg.MinCallLength)
		}
		if cfg.Concurrency != 4 {
			t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
		}
		if cfg.AutoscaleInterval.Seconds() != 90 {
			t.Errorf("AutoscaleInterval = %v, want 90s", cfg.AutoscaleInterval)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		setEnvs(t, map[string]string{"HTTP_ADDR": ":7000"})
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env", HTTPAddr: ":9090", LogLevel: "debug"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	})
}
