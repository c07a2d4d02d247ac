package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// secretService is the keychain service name secrets are stored under.
const secretService = "vignette"

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Assets   AssetsConfig
	ImageGen ImageGenConfig
	Story    StoryConfig
	Prompt   PromptConfig
	Splice   SpliceConfig
	Auth     AuthConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type AssetsConfig struct {
	Backend       string // "local" or "http"
	PublicBaseURL string
	Endpoint      string
	Bucket        string
	APIKey        string
}

type ImageGenConfig struct {
	Provider       string // "gemini" or "http"
	APIKey         string
	BaseURL        string
	Model          string
	Size           int
	Timeout        string
	PollInterval   string
	MaxAttempts    int
	InitialBackoff string
	RateInterval   string
}

type StoryConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type PromptConfig struct {
	ScenePolicy string
	Style       string
}

type SpliceConfig struct {
	UploadConcurrency int
}

type AuthConfig struct {
	Token     string
	VerifyURL string
	CacheTTL  string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Assets: AssetsConfig{
			Backend: "local",
			Bucket:  "storybooks",
		},
		ImageGen: ImageGenConfig{
			Provider:       "gemini",
			Model:          "gemini-3-pro-image-preview",
			Size:           3072,
			Timeout:        "120s",
			PollInterval:   "2s",
			MaxAttempts:    3,
			InitialBackoff: "1s",
			RateInterval:   "0s",
		},
		Story: StoryConfig{
			Model: "anthropic/claude-sonnet-4",
		},
		Prompt: PromptConfig{
			ScenePolicy: "strict",
			Style:       "soft watercolor picture-book illustration",
		},
		Splice: SpliceConfig{
			UploadConcurrency: 4,
		},
		Auth: AuthConfig{
			CacheTTL: "5m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store, then validates it.
//
// On macOS the backend is UserDefaults (domain: com.storynest.vignette) and
// secrets fall back to macOS Keychain (service: vignette).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/vignette/config.json
// and secrets fall back to $XDG_DATA_HOME/vignette/secrets.json.
//
// Environment variables (VIGNETTE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

// LoadClient reads configuration like Load but skips validation. CLI
// commands that only talk to a running server need just the address and
// token.
func LoadClient() (Config, error) {
	return loadRaw(newPlatformBackend(), keychainReader{})
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg, err := loadRaw(b, kc)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadRaw(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if cfg.Assets.PublicBaseURL == "" {
		cfg.Assets.PublicBaseURL = fmt.Sprintf("http://%s:%d/assets", cfg.Server.Host, cfg.Server.Port)
	}
	return cfg, nil
}

// applySecrets fills still-empty secrets from the platform keychain.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// secretAccount maps "imagegen.api_key" to the keychain account "imagegen_api_key".
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// Validate checks the whole configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		add("storage.data_dir is required")
	}

	switch c.ImageGen.Provider {
	case "gemini":
		if c.ImageGen.APIKey == "" {
			add("missing required config: image provider API key. Set it via environment variable VIGNETTE_IMAGEGEN_API_KEY%s", secretHint("imagegen.api_key"))
		}
	case "http":
		if c.ImageGen.BaseURL == "" {
			add("imagegen.base_url is required for the http provider")
		}
	default:
		add("imagegen.provider %q is not one of gemini, http", c.ImageGen.Provider)
	}
	if c.ImageGen.Size <= 0 || c.ImageGen.Size%3 != 0 {
		add("imagegen.size %d must be a positive multiple of 3", c.ImageGen.Size)
	}
	if c.ImageGen.MaxAttempts < 1 {
		add("imagegen.max_attempts must be at least 1")
	}
	for key, v := range map[string]string{
		"imagegen.timeout":         c.ImageGen.Timeout,
		"imagegen.poll_interval":   c.ImageGen.PollInterval,
		"imagegen.initial_backoff": c.ImageGen.InitialBackoff,
		"auth.cache_ttl":           c.Auth.CacheTTL,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			add("%s %q must be a positive duration", key, v)
		}
	}
	if d, err := time.ParseDuration(c.ImageGen.RateInterval); err != nil || d < 0 {
		add("imagegen.rate_interval %q must be a non-negative duration", c.ImageGen.RateInterval)
	}

	switch c.Assets.Backend {
	case "local":
	case "http":
		if c.Assets.Endpoint == "" {
			add("assets.endpoint is required for the http asset backend")
		}
		if c.Assets.APIKey == "" {
			add("missing required config: asset store API key. Set it via environment variable VIGNETTE_ASSETS_API_KEY%s", secretHint("assets.api_key"))
		}
	default:
		add("assets.backend %q is not one of local, http", c.Assets.Backend)
	}

	switch strings.ToLower(c.Prompt.ScenePolicy) {
	case "strict", "split":
	default:
		add("prompt.scene_policy %q is not one of strict, split", c.Prompt.ScenePolicy)
	}
	if c.Splice.UploadConcurrency < 1 {
		add("splice.upload_concurrency must be at least 1")
	}

	if c.Auth.Token == "" && c.Auth.VerifyURL == "" {
		add("missing required config: set auth.token (VIGNETTE_AUTH_TOKEN) or auth.verify_url (VIGNETTE_AUTH_VERIFY_URL)")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	return errors.Join(errs...)
}

// Duration parses a duration that Validate has already accepted.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
