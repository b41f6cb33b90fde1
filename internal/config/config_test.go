package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadYAMLOverDefaults(t *testing.T) {
	t.Setenv(EnvBotToken, "")
	t.Setenv(EnvAPIKey, "")
	t.Setenv("TEST_FI_TOKEN", "123:abc")

	path := writeFile(t, t.TempDir(), "investigator.yaml", `
telegram:
  bot_token: ${TEST_FI_TOKEN}
llm:
  api_key: sk-test
  chain: [a/one, b/two, a/one, " "]
  timeouts:
    b/two: 45s
session:
  hard_ceiling: 0
prompts:
  watch: false
`)

	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("bot token not expanded: %q", cfg.Telegram.BotToken)
	}
	if got := strings.Join(cfg.LLM.Chain, ","); got != "a/one,b/two" {
		t.Errorf("chain = %q, want deduplicated a/one,b/two", got)
	}
	if d, ok := cfg.LLM.TimeoutFor("b/two"); !ok || d != 45*time.Second {
		t.Errorf("timeout override = %v %v", d, ok)
	}
	if cfg.Session.HardCeiling != 0 {
		t.Errorf("explicit hard_ceiling 0 was replaced by %d", cfg.Session.HardCeiling)
	}
	if cfg.Prompts.Watch {
		t.Error("explicit prompts.watch false was replaced by the default")
	}
	// untouched keys keep their defaults
	if cfg.LLM.MaxAttemptsPerModel != 2 {
		t.Errorf("max attempts = %d, want default 2", cfg.LLM.MaxAttemptsPerModel)
	}
	if cfg.Guard.LockTimeout != 90*time.Second {
		t.Errorf("lock timeout = %v, want 90s", cfg.Guard.LockTimeout)
	}
	if cfg.LLM.Backoff.RateLimitCap != 30*time.Second || cfg.LLM.Backoff.ServerCap != 20*time.Second {
		t.Errorf("backoff caps = %v/%v", cfg.LLM.Backoff.RateLimitCap, cfg.LLM.Backoff.ServerCap)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestReadTOML(t *testing.T) {
	t.Setenv(EnvBotToken, "")
	t.Setenv(EnvAPIKey, "")

	path := writeFile(t, t.TempDir(), "investigator.toml", `
[telegram]
bot_token = "tok"

[llm]
api_key = "key"
chain = ["x/model"]
max_attempts_per_model = 3

[llm.timeouts]
"x/model" = "5s"

[audit]
sink = "jsonl"
path = "audit.jsonl"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.MaxAttemptsPerModel != 3 {
		t.Errorf("attempts = %d", cfg.LLM.MaxAttemptsPerModel)
	}
	if d, _ := cfg.LLM.TimeoutFor("x/model"); d != 5*time.Second {
		t.Errorf("timeout = %v", d)
	}
	if cfg.Audit.Sink != "jsonl" {
		t.Errorf("sink = %q", cfg.Audit.Sink)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvBotToken, "env-token")
	t.Setenv(EnvAPIKey, "env-key")

	path := writeFile(t, t.TempDir(), "c.yaml", "telegram:\n  bot_token: file-token\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "env-token" || cfg.LLM.APIKey != "env-key" {
		t.Errorf("env did not override: %q %q", cfg.Telegram.BotToken, cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:    "missing secrets",
			mutate:  func(c *Config) {},
			wantErr: []string{"telegram.bot_token", "llm.api_key"},
		},
		{
			name: "empty chain",
			mutate: func(c *Config) {
				c.Telegram.BotToken, c.LLM.APIKey = "t", "k"
				c.LLM.Chain = nil
			},
			wantErr: []string{"llm.chain"},
		},
		{
			name: "bad audit sink",
			mutate: func(c *Config) {
				c.Telegram.BotToken, c.LLM.APIKey = "t", "k"
				c.Audit.Sink = "sheets"
			},
			wantErr: []string{"audit.sink"},
		},
		{
			name: "ceiling below threshold",
			mutate: func(c *Config) {
				c.Telegram.BotToken, c.LLM.APIKey = "t", "k"
				c.Session.HardCeiling = 3
			},
			wantErr: []string{"hard_ceiling"},
		},
		{
			name: "valid",
			mutate: func(c *Config) {
				c.Telegram.BotToken, c.LLM.APIKey = "t", "k"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "FI_TEST_NEW=from-file\nFI_TEST_SET=from-file\n")
	t.Setenv("FI_TEST_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("FI_TEST_NEW") })

	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("FI_TEST_NEW"); got != "from-file" {
		t.Errorf("FI_TEST_NEW = %q", got)
	}
	if got := os.Getenv("FI_TEST_SET"); got != "from-env" {
		t.Errorf("FI_TEST_SET = %q, existing value must win", got)
	}
}

func TestEnvMapMerge(t *testing.T) {
	base := EnvMap{"A": "1", "B": "2"}
	merged, err := base.Merge(EnvMap{"B": "3", "C": "4"})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged["A"] != "1" || merged["B"] != "3" || merged["C"] != "4" {
		t.Errorf("merged = %v", merged)
	}
	if base["B"] != "2" {
		t.Errorf("receiver was modified: %v", base)
	}
}

func TestWriteSample(t *testing.T) {
	t.Setenv(EnvBotToken, "tok")
	t.Setenv(EnvAPIKey, "key")
	path := filepath.Join(t.TempDir(), "conf", "investigator.yaml")

	if err := WriteSample(path, false); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path, false); err == nil {
		t.Fatal("expected error when file exists without force")
	}
	if err := WriteSample(path, true); err != nil {
		t.Fatalf("WriteSample force: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup missing: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if cfg.Telegram.BotToken != "tok" {
		t.Errorf("token = %q", cfg.Telegram.BotToken)
	}
	if d, _ := cfg.LLM.TimeoutFor("openai/gpt-4o"); d != 30*time.Second {
		t.Errorf("sample timeout = %v", d)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FI_X", "val")
	if got := ExpandEnv("a=${FI_X} b=${FI_UNSET_VAR}"); got != "a=val b=" {
		t.Errorf("ExpandEnv = %q", got)
	}
}
