package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"bondkeeper/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Keeper    KeeperConfig    `mapstructure:"keeper"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// AlertRetention bounds the alerts audit table; zero keeps every row.
	AlertRetention time.Duration `mapstructure:"alert_retention"`
}

// SchedulerConfig governs when the pipelines fire.
type SchedulerConfig struct {
	Cron            string        `mapstructure:"cron"`
	MonitorCron     string        `mapstructure:"monitor_cron"`
	Timezone        string        `mapstructure:"timezone"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
}

// ChainConfig covers the ledger endpoint and the bond contract.
type ChainConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	PrivateKey      string        `mapstructure:"private_key"`
	ContractAddress string        `mapstructure:"contract_address"`
	ExplorerURL     string        `mapstructure:"explorer_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	EventLookback   uint64        `mapstructure:"event_lookback"`
}

// KeeperConfig holds alert thresholds for the keeper account and the series.
type KeeperConfig struct {
	MinBalance           string        `mapstructure:"min_balance"`
	MissedWarning        int64         `mapstructure:"missed_warning"`
	MissedCritical       int64         `mapstructure:"missed_critical"`
	MaturityNotifyWindow time.Duration `mapstructure:"maturity_notify_window"`
	NativeSymbol         string        `mapstructure:"native_symbol"`
	ShareSymbol          string        `mapstructure:"share_symbol"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Discord DiscordConfig `mapstructure:"discord"`
	Dedup   DedupConfig   `mapstructure:"dedup"`
}

// DiscordConfig 描述 Discord webhook 参数。
type DiscordConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Footer     string        `mapstructure:"footer"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DedupConfig enables the optional redis "already notified" guard.
type DedupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HTTPConfig controls the health/metrics listener. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// ConfigError reports a missing or malformed setting. It is fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// legacyEnv maps keys to the environment variable names used by earlier
// deployments of the keeper, so existing .env files keep working.
var legacyEnv = map[string]string{
	"chain.rpc_url":                "ARC_RPC_URL",
	"chain.chain_id":               "CHAIN_ID",
	"chain.private_key":            "KEEPER_PRIVATE_KEY",
	"chain.contract_address":       "BOND_SERIES_ADDRESS",
	"scheduler.cron":               "CRON_SCHEDULE",
	"scheduler.run_on_start":       "RUN_ON_START",
	"alerting.discord.webhook_url": "DISCORD_WEBHOOK_URL",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BONDKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		prefixed := "BONDKEEPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bondkeeper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", "")
	v.SetDefault("logging.caller", false)
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.cron", "0 0 * * *")
	v.SetDefault("scheduler.monitor_cron", "")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x626f6e64))
	v.SetDefault("scheduler.heartbeat", "24h")

	v.SetDefault("chain.rpc_url", "https://rpc.testnet.arc.network")
	v.SetDefault("chain.chain_id", int64(5042002))
	v.SetDefault("chain.contract_address", "0xF501820e6C95c84b7607AEE41b422FEc497AC7FE")
	v.SetDefault("chain.explorer_url", "https://testnet.arcscan.app")
	v.SetDefault("chain.request_timeout", "15s")
	v.SetDefault("chain.confirm_timeout", "5m")
	v.SetDefault("chain.poll_interval", "2s")
	v.SetDefault("chain.event_lookback", uint64(1000))

	v.SetDefault("keeper.min_balance", "1")
	v.SetDefault("keeper.missed_warning", int64(2))
	v.SetDefault("keeper.missed_critical", int64(3))
	v.SetDefault("keeper.maturity_notify_window", "10m")
	v.SetDefault("keeper.native_symbol", "USDC")
	v.SetDefault("keeper.share_symbol", "arcUSDC")

	v.SetDefault("alerting.discord.footer", "ArcBond Keeper")
	v.SetDefault("alerting.discord.timeout", "10s")
	v.SetDefault("alerting.dedup.enabled", false)
	v.SetDefault("alerting.dedup.redis_url", "")
	v.SetDefault("alerting.dedup.password", "")
	v.SetDefault("alerting.dedup.ttl", "168h")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("export.max_data_points", 10000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.alert_retention", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks; a missing signing key is always fatal.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Chain.PrivateKey) == "" {
		return &ConfigError{Key: "chain.private_key", Reason: "KEEPER_PRIVATE_KEY is required"}
	}
	if c.Chain.RPCURL == "" {
		return &ConfigError{Key: "chain.rpc_url", Reason: "must be set"}
	}
	if c.Chain.ChainID <= 0 {
		return &ConfigError{Key: "chain.chain_id", Reason: "must be greater than zero"}
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return &ConfigError{Key: "chain.contract_address", Reason: fmt.Sprintf("invalid address %q", c.Chain.ContractAddress)}
	}
	if c.Chain.EventLookback == 0 {
		return &ConfigError{Key: "chain.event_lookback", Reason: "must be greater than zero"}
	}
	if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
		return &ConfigError{Key: "scheduler.cron", Reason: err.Error()}
	}
	if c.Scheduler.MonitorCron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.MonitorCron); err != nil {
			return &ConfigError{Key: "scheduler.monitor_cron", Reason: err.Error()}
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return &ConfigError{Key: "scheduler.timezone", Reason: err.Error()}
	}
	if _, err := decimal.NewFromString(c.Keeper.MinBalance); err != nil {
		return &ConfigError{Key: "keeper.min_balance", Reason: err.Error()}
	}
	if c.Keeper.MissedWarning <= 0 || c.Keeper.MissedCritical <= c.Keeper.MissedWarning {
		return &ConfigError{Key: "keeper.missed_critical", Reason: "must be greater than keeper.missed_warning (> 0)"}
	}
	if c.Alerting.Dedup.Enabled && c.Alerting.Dedup.RedisURL == "" {
		return &ConfigError{Key: "alerting.dedup.redis_url", Reason: "必须配置 (dedup enabled)"}
	}
	if c.Database.AlertRetention < 0 {
		return &ConfigError{Key: "database.alert_retention", Reason: "must not be negative"}
	}
	if c.Export.MaxDataPoints <= 0 {
		return &ConfigError{Key: "export.max_data_points", Reason: "must be greater than zero"}
	}
	return nil
}

// Location returns the scheduler time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
