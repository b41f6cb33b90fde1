// Package config loads and validates the investigator configuration.
//
// Sources, lowest precedence first: built-in defaults, the config file
// (YAML or TOML, chosen by extension, with ${VAR} expansion), .env files and
// finally well-known environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
)

// Environment variables that override file values.
const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvAPIKey   = "OPENROUTER_API_KEY"
	EnvLogLevel = "INVESTIGATOR_LOG_LEVEL"
)

// DefaultBaseURL is the OpenRouter chat completions endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// Config is the full service configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" toml:"log"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Guard    GuardConfig    `yaml:"guard" toml:"guard"`
	Audit    AuditConfig    `yaml:"audit" toml:"audit"`
	Prompts  PromptsConfig  `yaml:"prompts" toml:"prompts"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`

	// Path of the file the config was read from, empty when none was found.
	Path string `yaml:"-" toml:"-"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	TimeFormat string `yaml:"time_format" toml:"time_format"`
	Caller     bool   `yaml:"caller" toml:"caller"`
}

type TelegramConfig struct {
	BotToken    string        `yaml:"bot_token" toml:"bot_token"`
	PollTimeout time.Duration `yaml:"poll_timeout" toml:"poll_timeout"`
}

// LLMConfig configures provider access and the failover policy.
type LLMConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Referer string `yaml:"referer" toml:"referer"` // HTTP-Referer identification header
	Title   string `yaml:"title" toml:"title"`     // X-Title identification header

	Chain               []string                 `yaml:"chain" toml:"chain"`
	Timeouts            map[string]time.Duration `yaml:"timeouts" toml:"timeouts"` // per-model overrides
	MaxAttemptsPerModel int                      `yaml:"max_attempts_per_model" toml:"max_attempts_per_model"`
	RequestsPerMinute   int                      `yaml:"requests_per_minute" toml:"requests_per_minute"` // per model, 0 = unlimited
	Backoff             BackoffConfig            `yaml:"backoff" toml:"backoff"`
	DumpRequests        bool                     `yaml:"dump_requests" toml:"dump_requests"` // trace-log raw bodies
}

// BackoffConfig holds the retry delays used between attempts on one model.
type BackoffConfig struct {
	Base           time.Duration `yaml:"base" toml:"base"`
	RateLimitCap   time.Duration `yaml:"rate_limit_cap" toml:"rate_limit_cap"`
	ServerCap      time.Duration `yaml:"server_cap" toml:"server_cap"`
	Jitter         time.Duration `yaml:"jitter" toml:"jitter"`
	RetryAfterUnit time.Duration `yaml:"retry_after_unit" toml:"retry_after_unit"`
}

type SessionConfig struct {
	ConcludeAfter int           `yaml:"conclude_after" toml:"conclude_after"`
	HardCeiling   int           `yaml:"hard_ceiling" toml:"hard_ceiling"` // 0 disables
	IdleTTL       time.Duration `yaml:"idle_ttl" toml:"idle_ttl"`         // 0 disables eviction
	SweepSchedule string        `yaml:"sweep_schedule" toml:"sweep_schedule"`
}

type GuardConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout" toml:"lock_timeout"`
}

type AuditConfig struct {
	Sink string `yaml:"sink" toml:"sink"` // sqlite, jsonl or none
	Path string `yaml:"path" toml:"path"`
}

type PromptsConfig struct {
	File  string `yaml:"file" toml:"file"`
	Watch bool   `yaml:"watch" toml:"watch"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"` // empty disables the status server
}

// DefaultChain is the model preference order used when none is configured.
var DefaultChain = []string{
	"openai/gpt-4.1-nano",
	"openai/gpt-4o-mini",
	"openai/gpt-4o",
	"openai/gpt-4.1",
	"anthropic/claude-3.5-sonnet",
	"cohere/command-r-plus",
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", TimeFormat: "15:04:05"},
		Telegram: TelegramConfig{
			PollTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:             DefaultBaseURL,
			Referer:             "https://t.me/fear_investigator_bot",
			Title:               "Fear Investigator",
			Chain:               append([]string(nil), DefaultChain...),
			Timeouts:            map[string]time.Duration{},
			MaxAttemptsPerModel: 2,
			Backoff: BackoffConfig{
				Base:           time.Second,
				RateLimitCap:   30 * time.Second,
				ServerCap:      20 * time.Second,
				Jitter:         300 * time.Millisecond,
				RetryAfterUnit: time.Second,
			},
		},
		Session: SessionConfig{
			ConcludeAfter: 6,
			HardCeiling:   9,
			IdleTTL:       24 * time.Hour,
			SweepSchedule: "@every 10m",
		},
		Guard:   GuardConfig{LockTimeout: 90 * time.Second},
		Audit:   AuditConfig{Sink: "sqlite", Path: "data/audit.db"},
		Prompts: PromptsConfig{Watch: true},
	}
}

// Load reads the config from path (or the first default location found),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. Used by commands that do not talk to
// Telegram or the provider.
func Read(path string) (*Config, error) {
	if path == "" {
		path = findConfig()
	}

	dirs := []string{"."}
	if path != "" {
		dirs = append(dirs, filepath.Dir(path))
	}
	if err := LoadDotEnv(dirs...); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.Path = path
		L_debug("config: loaded", "path", path)
	} else {
		L_debug("config: no config file found, using defaults and environment")
	}

	cfg.applyEnv()
	cfg.LLM.Chain = dedupe(cfg.LLM.Chain)
	return cfg, nil
}

// findConfig returns the first existing default config location.
func findConfig() string {
	candidates := []string{"investigator.yaml", "investigator.yml", "investigator.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(dir, "fear-investigator", "config.yaml"),
			filepath.Join(dir, "fear-investigator", "config.toml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// decodeFile decodes path over cfg, so keys absent from the file keep
// their default value.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	data = []byte(ExpandEnv(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml or .toml)", filepath.Ext(path))
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${VAR} with the value of VAR. Unset variables expand to
// the empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBotToken); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

func dedupe(chain []string) []string {
	seen := make(map[string]bool, len(chain))
	out := make([]string, 0, len(chain))
	for _, m := range chain {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Validate checks mandatory values and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, fmt.Errorf("telegram.bot_token is required (or set %s)", EnvBotToken))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.api_key is required (or set %s)", EnvAPIKey))
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url must not be empty"))
	}
	if len(c.LLM.Chain) == 0 {
		errs = append(errs, errors.New("llm.chain must list at least one model"))
	}
	if c.LLM.MaxAttemptsPerModel < 1 {
		errs = append(errs, errors.New("llm.max_attempts_per_model must be at least 1"))
	}
	for model, d := range c.LLM.Timeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("llm.timeouts[%s] must be positive", model))
		}
	}
	if c.Session.ConcludeAfter < 1 {
		errs = append(errs, errors.New("session.conclude_after must be at least 1"))
	}
	if c.Session.HardCeiling != 0 && c.Session.HardCeiling < c.Session.ConcludeAfter {
		errs = append(errs, errors.New("session.hard_ceiling must be 0 or not below session.conclude_after"))
	}
	if c.Guard.LockTimeout <= 0 {
		errs = append(errs, errors.New("guard.lock_timeout must be positive"))
	}
	switch c.Audit.Sink {
	case "none":
	case "sqlite", "jsonl":
		if c.Audit.Path == "" {
			errs = append(errs, fmt.Errorf("audit.path is required for sink %q", c.Audit.Sink))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.sink %q is not one of sqlite, jsonl, none", c.Audit.Sink))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// TimeoutFor returns the configured override for model, if any.
func (c *LLMConfig) TimeoutFor(model string) (time.Duration, bool) {
	d, ok := c.Timeouts[model]
	return d, ok
}
