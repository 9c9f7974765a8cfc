package config

import (
	"fmt"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Proxy    ProxyConfig
	Datasets DatasetConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	OpenRouterBaseURL string
}

// DatasetConfig carries the default classification thresholds. Callers can
// override both per export call.
type DatasetConfig struct {
	SFTThreshold         float64
	DPONegativeThreshold float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Proxy: ProxyConfig{
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		},
		Datasets: DatasetConfig{
			SFTThreshold:         0.75,
			DPONegativeThreshold: 0.25,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/intercept/config.json, then applies INTERCEPT_* environment
// variable overrides. The OpenRouter API key is required: the proxy cannot
// forward calls without it.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), true)
}

// LoadLocal is Load without the OpenRouter key requirement, for CLI paths
// that only read the local database (project listing, dataset export).
func LoadLocal() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), false)
}

func loadWith(b Backend, requireUpstreamKey bool) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if requireUpstreamKey && cfg.Proxy.OpenRouterAPIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenRouter API key. " +
			"Set it via the INTERCEPT_OPENROUTER_API_KEY environment variable " +
			"or the proxy.openrouter_api_key config key")
	}

	return cfg, nil
}
