package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRequiresPrivateKey(t *testing.T) {
	path := writeConfig(t, "chain:\n  rpc_url: http://localhost:8545\n")
	t.Setenv("KEEPER_PRIVATE_KEY", "")
	t.Setenv("BONDKEEPER_CHAIN_PRIVATE_KEY", "")

	_, err := Load(path)
	if err == nil {
		t.Fatal("missing private key must fail")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Key != "chain.private_key" {
		t.Fatalf("unexpected key %q", cfgErr.Key)
	}
}

func TestLoadDefaultsAndLegacyEnv(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")
	t.Setenv("KEEPER_PRIVATE_KEY", testKey)
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.test/webhook")
	t.Setenv("RUN_ON_START", "true")
	t.Setenv("CRON_SCHEDULE", "*/5 * * * *")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.PrivateKey != testKey {
		t.Fatalf("legacy KEEPER_PRIVATE_KEY not honoured")
	}
	if cfg.Alerting.Discord.WebhookURL != "https://discord.test/webhook" {
		t.Fatalf("legacy DISCORD_WEBHOOK_URL not honoured: %q", cfg.Alerting.Discord.WebhookURL)
	}
	if !cfg.Scheduler.RunOnStart {
		t.Fatal("RUN_ON_START=true should enable run on start")
	}
	if cfg.Scheduler.Cron != "*/5 * * * *" {
		t.Fatalf("cron override not applied: %q", cfg.Scheduler.Cron)
	}
	if cfg.Chain.ChainID != 5042002 {
		t.Fatalf("unexpected default chain id %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.ConfirmTimeout != 5*time.Minute {
		t.Fatalf("unexpected confirm timeout %s", cfg.Chain.ConfirmTimeout)
	}
	if cfg.Chain.EventLookback != 1000 {
		t.Fatalf("unexpected event lookback %d", cfg.Chain.EventLookback)
	}
	if cfg.Keeper.MaturityNotifyWindow != 10*time.Minute {
		t.Fatalf("unexpected maturity window %s", cfg.Keeper.MaturityNotifyWindow)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("file value should be read, got %q", cfg.Logging.Level)
	}
}

func TestPrefixedEnvWins(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("BONDKEEPER_CHAIN_PRIVATE_KEY", testKey)
	t.Setenv("BONDKEEPER_CHAIN_CHAIN_ID", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.ChainID != 1 {
		t.Fatalf("prefixed env should override default, got %d", cfg.Chain.ChainID)
	}
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("KEEPER_PRIVATE_KEY", testKey)
	t.Setenv("BONDKEEPER_DATABASE_DSN", "postgres://keeper:secret@db:5432/bond")
	t.Setenv("BONDKEEPER_DATABASE_ALERT_RETENTION", "48h")
	t.Setenv("BONDKEEPER_ALERTING_DEDUP_ENABLED", "true")
	t.Setenv("BONDKEEPER_ALERTING_DEDUP_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("BONDKEEPER_ALERTING_DEDUP_PASSWORD", "hunter2")
	t.Setenv("BONDKEEPER_LOGGING_OUTPUT", "stderr")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("仅用环境变量加载失败: %v", err)
	}
	if cfg.Database.DSN != "postgres://keeper:secret@db:5432/bond" {
		t.Fatalf("database.dsn = %q", cfg.Database.DSN)
	}
	if cfg.Database.AlertRetention != 48*time.Hour {
		t.Fatalf("database.alert_retention = %s", cfg.Database.AlertRetention)
	}
	if !cfg.Alerting.Dedup.Enabled || cfg.Alerting.Dedup.RedisURL != "redis://cache:6379/0" || cfg.Alerting.Dedup.Password != "hunter2" {
		t.Fatalf("dedup env not applied: %+v", cfg.Alerting.Dedup)
	}
	if cfg.Logging.Output != "stderr" {
		t.Fatalf("logging.output = %q", cfg.Logging.Output)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Cron: "0 0 * * *", Timezone: "UTC"},
			Chain: ChainConfig{
				RPCURL:          "http://localhost:8545",
				ChainID:         1,
				PrivateKey:      testKey,
				ContractAddress: "0xF501820e6C95c84b7607AEE41b422FEc497AC7FE",
				EventLookback:   1000,
			},
			Keeper: KeeperConfig{MinBalance: "1", MissedWarning: 2, MissedCritical: 3},
			Export: ExportConfig{MaxDataPoints: 10},
		}
	}

	valid := base()
	if err := valid.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	cases := map[string]func(c *Config){
		"scheduler.cron":           func(c *Config) { c.Scheduler.Cron = "every day" },
		"chain.contract_address":   func(c *Config) { c.Chain.ContractAddress = "0x123" },
		"keeper.min_balance":       func(c *Config) { c.Keeper.MinBalance = "one" },
		"keeper.missed_critical":   func(c *Config) { c.Keeper.MissedCritical = 2 },
		"alerting.dedup.redis_url": func(c *Config) { c.Alerting.Dedup.Enabled = true },
		"scheduler.monitor_cron":   func(c *Config) { c.Scheduler.MonitorCron = "nope" },
	}
	for key, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		err := cfg.Validate()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Key != key {
			t.Errorf("%s: expected ConfigError for key, got %v", key, err)
		}
	}
}
