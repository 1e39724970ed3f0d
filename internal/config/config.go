package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for mamabot.
type Config struct {
	General      GeneralConfig             `json:"general"`
	WhatsApp     WhatsAppConfig            `json:"whatsapp"`
	Redis        RedisConfig               `json:"redis"`
	Database     DatabaseConfig            `json:"database"`
	Providers    map[string]ProviderConfig `json:"providers"`
	Dedup        DedupConfig               `json:"dedup"`
	Facilities   FacilitiesConfig          `json:"facilities"`
	History      HistoryConfig             `json:"history"`
	Registration RegistrationConfig        `json:"registration"`
	Metrics      MetricsConfig             `json:"metrics"`
	API          APIConfig                 `json:"api"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	Listen                string   `json:"listen"` // host:port for the HTTP server
	RequestTimeoutSeconds int      `json:"requestTimeoutSeconds"`
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"`
	BusBuffer             int      `json:"busBuffer"`
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"`
}

type WhatsAppConfig struct {
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxRetries   int    `json:"maxRetries,omitempty"` // 0 means the built-in default
}

// DedupConfig governs the webhook deduplication gate.
// FailMode decides behavior when the gate's backing store is unreachable:
// "open" processes the message anyway, "closed" acknowledges and drops it.
// Either way the degradation is logged and counted.
type DedupConfig struct {
	TTLHours  int    `json:"ttlHours"`
	FailMode  string `json:"failMode"` // "open" | "closed"
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

type FacilitiesConfig struct {
	TopK          int    `json:"topK"`
	DefaultCounty string `json:"defaultCounty"`
}

type HistoryConfig struct {
	MaxTurns int `json:"maxTurns"`
	TTLHours int `json:"ttlHours"`
}

type RegistrationConfig struct {
	MinGestationalWeeks int `json:"minGestationalWeeks"`
	MaxGestationalWeeks int `json:"maxGestationalWeeks"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type APIConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.mamabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mamabot"
	}
	return filepath.Join(home, ".mamabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.RequestTimeoutSeconds < 1 {
		errs = append(errs, "general.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Redis.Address == "" {
		errs = append(errs, "redis.address is required")
	}
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch cfg.Dedup.FailMode {
	case "open", "closed":
		// valid
	default:
		errs = append(errs, "dedup.failMode must be one of: open, closed")
	}
	if cfg.Dedup.TTLHours < 1 {
		errs = append(errs, "dedup.ttlHours must be >= 1")
	}

	if cfg.Facilities.TopK < 1 || cfg.Facilities.TopK > 20 {
		errs = append(errs, "facilities.topK must be between 1 and 20")
	}
	if cfg.History.MaxTurns < 1 {
		errs = append(errs, "history.maxTurns must be >= 1")
	}
	if cfg.Registration.MinGestationalWeeks < 1 ||
		cfg.Registration.MaxGestationalWeeks <= cfg.Registration.MinGestationalWeeks {
		errs = append(errs, "registration gestational week bounds are invalid")
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiKey is required when enabled", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
