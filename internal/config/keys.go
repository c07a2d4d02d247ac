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
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "VIGNETTE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "VIGNETTE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VIGNETTE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "assets.backend", typ: kString, env: "VIGNETTE_ASSETS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Assets.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Assets.Backend },
	},
	{
		key: "assets.public_base_url", typ: kString, env: "VIGNETTE_ASSETS_PUBLIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Assets.PublicBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Assets.PublicBaseURL },
	},
	{
		key: "assets.endpoint", typ: kString, env: "VIGNETTE_ASSETS_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Assets.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Assets.Endpoint },
	},
	{
		key: "assets.bucket", typ: kString, env: "VIGNETTE_ASSETS_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Assets.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Assets.Bucket },
	},
	{
		key: "assets.api_key", typ: kString, env: "VIGNETTE_ASSETS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Assets.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Assets.APIKey },
	},
	{
		key: "imagegen.provider", typ: kString, env: "VIGNETTE_IMAGEGEN_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.Provider },
	},
	{
		key: "imagegen.api_key", typ: kString, env: "VIGNETTE_IMAGEGEN_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ImageGen.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.APIKey },
	},
	{
		key: "imagegen.base_url", typ: kString, env: "VIGNETTE_IMAGEGEN_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.BaseURL },
	},
	{
		key: "imagegen.model", typ: kString, env: "VIGNETTE_IMAGEGEN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.Model },
	},
	{
		key: "imagegen.size", typ: kInt, env: "VIGNETTE_IMAGEGEN_SIZE",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.ImageGen.Size },
	},
	{
		key: "imagegen.timeout", typ: kString, env: "VIGNETTE_IMAGEGEN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.Timeout },
	},
	{
		key: "imagegen.poll_interval", typ: kString, env: "VIGNETTE_IMAGEGEN_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.PollInterval },
	},
	{
		key: "imagegen.max_attempts", typ: kInt, env: "VIGNETTE_IMAGEGEN_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.ImageGen.MaxAttempts },
	},
	{
		key: "imagegen.initial_backoff", typ: kString, env: "VIGNETTE_IMAGEGEN_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.InitialBackoff = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.InitialBackoff },
	},
	{
		key: "imagegen.rate_interval", typ: kString, env: "VIGNETTE_IMAGEGEN_RATE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.ImageGen.RateInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.ImageGen.RateInterval },
	},
	{
		key: "story.openrouter_api_key", typ: kString, env: "VIGNETTE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Story.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Story.OpenRouterAPIKey },
	},
	{
		key: "story.model", typ: kString, env: "VIGNETTE_STORY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Story.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Story.Model },
	},
	{
		key: "prompt.scene_policy", typ: kString, env: "VIGNETTE_PROMPT_SCENE_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Prompt.ScenePolicy = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompt.ScenePolicy },
	},
	{
		key: "prompt.style", typ: kString, env: "VIGNETTE_PROMPT_STYLE",
		apply:   func(cfg *Config, v any) { cfg.Prompt.Style = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompt.Style },
	},
	{
		key: "splice.upload_concurrency", typ: kInt, env: "VIGNETTE_SPLICE_UPLOAD_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Splice.UploadConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Splice.UploadConcurrency },
	},
	{
		key: "auth.token", typ: kString, env: "VIGNETTE_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
	{
		key: "auth.verify_url", typ: kString, env: "VIGNETTE_AUTH_VERIFY_URL",
		apply:   func(cfg *Config, v any) { cfg.Auth.VerifyURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.VerifyURL },
	},
	{
		key: "auth.cache_ttl", typ: kString, env: "VIGNETTE_AUTH_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Auth.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.CacheTTL },
	},
	{
		key: "log.level", typ: kString, env: "VIGNETTE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		}
	}
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
