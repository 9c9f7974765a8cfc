package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values apply when the config file is empty.
func TestDefaults(t *testing.T) {
	clearEnvOverrides(t)
	b := writeTempConfig(t, `{"proxy.openrouter_api_key": "test-key"}`)

	cfg, err := loadWith(b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Proxy.OpenRouterBaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("Proxy.OpenRouterBaseURL = %q", cfg.Proxy.OpenRouterBaseURL)
	}
	if cfg.Datasets.SFTThreshold != 0.75 {
		t.Errorf("Datasets.SFTThreshold = %v, want 0.75", cfg.Datasets.SFTThreshold)
	}
	if cfg.Datasets.DPONegativeThreshold != 0.25 {
		t.Errorf("Datasets.DPONegativeThreshold = %v, want 0.25", cfg.Datasets.DPONegativeThreshold)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

// TestFileValues verifies config file values override defaults.
func TestFileValues(t *testing.T) {
	clearEnvOverrides(t)
	b := writeTempConfig(t, `{
		"server.port": 9100,
		"proxy.openrouter_api_key": "file-key",
		"datasets.sft_threshold": "0.9",
		"log.level": "debug"
	}`)

	cfg, err := loadWith(b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Proxy.OpenRouterAPIKey != "file-key" {
		t.Errorf("Proxy.OpenRouterAPIKey = %q, want %q", cfg.Proxy.OpenRouterAPIKey, "file-key")
	}
	if cfg.Datasets.SFTThreshold != 0.9 {
		t.Errorf("Datasets.SFTThreshold = %v, want 0.9", cfg.Datasets.SFTThreshold)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

// TestEnvOverride verifies environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnvOverrides(t)
	b := writeTempConfig(t, `{"proxy.openrouter_api_key": "file-key", "server.port": 9100}`)

	t.Setenv("INTERCEPT_OPENROUTER_API_KEY", "env-key")
	t.Setenv("INTERCEPT_SERVER_PORT", "9200")
	t.Setenv("INTERCEPT_DPO_NEGATIVE_THRESHOLD", "0.1")

	cfg, err := loadWith(b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Proxy.OpenRouterAPIKey != "env-key" {
		t.Errorf("Proxy.OpenRouterAPIKey = %q, want %q", cfg.Proxy.OpenRouterAPIKey, "env-key")
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Datasets.DPONegativeThreshold != 0.1 {
		t.Errorf("Datasets.DPONegativeThreshold = %v, want 0.1", cfg.Datasets.DPONegativeThreshold)
	}
}

// TestMissingAPIKey verifies the upstream key requirement.
func TestMissingAPIKey(t *testing.T) {
	clearEnvOverrides(t)
	b := writeTempConfig(t, `{}`)

	if _, err := loadWith(b, true); err == nil {
		t.Error("expected error when OpenRouter API key is missing")
	}

	// Export-only paths load without the key.
	if _, err := loadWith(b, false); err != nil {
		t.Errorf("loadWith(requireUpstreamKey=false) error: %v", err)
	}
}

// TestBadEnvValueFallsBack verifies malformed numeric env vars keep defaults.
func TestBadEnvValueFallsBack(t *testing.T) {
	clearEnvOverrides(t)
	b := writeTempConfig(t, `{"proxy.openrouter_api_key": "k"}`)

	t.Setenv("INTERCEPT_SERVER_PORT", "not-a-number")
	t.Setenv("INTERCEPT_SFT_THRESHOLD", "high")

	cfg, err := loadWith(b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want default 4000", cfg.Server.Port)
	}
	if cfg.Datasets.SFTThreshold != 0.75 {
		t.Errorf("Datasets.SFTThreshold = %v, want default 0.75", cfg.Datasets.SFTThreshold)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)

	if err := b.SetString("log.level", "warn"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 9999); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	// Reload from disk.
	b2 := newFileBackend(path)
	s, ok, err := b2.GetString("log.level")
	if err != nil || !ok || s != "warn" {
		t.Errorf("GetString = (%q, %v, %v)", s, ok, err)
	}
	i, ok, err := b2.GetInt("server.port")
	if err != nil || !ok || i != 9999 {
		t.Errorf("GetInt = (%d, %v, %v)", i, ok, err)
	}

	if err := b2.Delete("log.level"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b2.GetString("log.level"); ok {
		t.Error("key still present after Delete")
	}
}
