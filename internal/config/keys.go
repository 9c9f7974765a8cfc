package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTERCEPT_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.api_token", typ: kString, env: "INTERCEPT_API_TOKEN",
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTERCEPT_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "INTERCEPT_OPENROUTER_API_KEY",
		apply: func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
	},
	{
		key: "proxy.openrouter_base_url", typ: kString, env: "INTERCEPT_OPENROUTER_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Proxy.OpenRouterBaseURL = v.(string) },
	},
	{
		key: "datasets.sft_threshold", typ: kFloat, env: "INTERCEPT_SFT_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Datasets.SFTThreshold = v.(float64) },
	},
	{
		key: "datasets.dpo_negative_threshold", typ: kFloat, env: "INTERCEPT_DPO_NEGATIVE_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Datasets.DPONegativeThreshold = v.(float64) },
	},
	{
		key: "log.level", typ: kString, env: "INTERCEPT_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
