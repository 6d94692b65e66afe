package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	BotDB   DBConfig      `mapstructure:"bot_db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Keywrap KeywrapConfig `mapstructure:"keywrap"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Relayer RelayerConfig `mapstructure:"relayer"`
	Payment PaymentConfig `mapstructure:"payment"`
	Bots    BotsConfig    `mapstructure:"bots"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Events  EventsConfig  `mapstructure:"events"`
	Cron    CronConfig    `mapstructure:"cron"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

// IsProduction gates the on-chain balance check for bot enablement.
func (a AppConfig) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(a.Env))
	return env == "production" || env == "prod"
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Disabled  bool   `mapstructure:"disabled"`
}

type VaultConfig struct {
	Key     string `mapstructure:"key"`
	PrevKey string `mapstructure:"prev_key"`
}

type KeywrapConfig struct {
	Bits       int           `mapstructure:"bits"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type ChainConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	TokenAddress  string        `mapstructure:"token_address"`
	TokenDecimals int32         `mapstructure:"token_decimals"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type RelayerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ActivationTimeout time.Duration `mapstructure:"activation_timeout"`
	// Spenders are approved for the collateral token on wallet activation.
	Spenders []string `mapstructure:"spenders"`
}

type PaymentConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	SuccessURL    string        `mapstructure:"success_url"`
	CancelURL     string        `mapstructure:"cancel_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
}

type BotsConfig struct {
	BalanceMultiplier int64         `mapstructure:"balance_multiplier"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LogPollInterval   time.Duration `mapstructure:"log_poll_interval"`
}

type CacheConfig struct {
	BalanceTTL     time.Duration `mapstructure:"balance_ttl"`
	ListTTL        time.Duration `mapstructure:"list_ttl"`
	DashboardTTL   time.Duration `mapstructure:"dashboard_ttl"`
	LeaderboardTTL time.Duration `mapstructure:"leaderboard_ttl"`
}

type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

type CronConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	PaymentExpiry      string `mapstructure:"payment_expiry"`
	SubscriptionExpiry string `mapstructure:"subscription_expiry"`
	DeployingSweep     string `mapstructure:"deploying_sweep"`
	SessionKeysSweep   string `mapstructure:"session_keys_sweep"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	for _, prefix := range []string{"db", "bot_db"} {
		v.SetDefault(prefix+".dsn", "")
		v.SetDefault(prefix+".max_open_conns", 20)
		v.SetDefault(prefix+".max_idle_conns", 5)
		v.SetDefault(prefix+".conn_max_lifetime", "30m")
		v.SetDefault(prefix+".conn_max_idle_time", "5m")
		v.SetDefault(prefix+".timezone", "UTC")
	}

	// Empty addr keeps the cache and locks in-process.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.disabled", false)

	v.SetDefault("vault.key", "")
	v.SetDefault("vault.prev_key", "")

	v.SetDefault("keywrap.bits", 2048)
	v.SetDefault("keywrap.session_ttl", "10m")

	v.SetDefault("chain.rpc_url", "https://polygon-rpc.com")
	v.SetDefault("chain.token_address", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	v.SetDefault("chain.token_decimals", 6)
	v.SetDefault("chain.timeout", "10s")

	v.SetDefault("relayer.base_url", "")
	v.SetDefault("relayer.api_key", "")
	v.SetDefault("relayer.timeout", "15s")
	v.SetDefault("relayer.poll_interval", "3s")
	v.SetDefault("relayer.activation_timeout", "5m")
	v.SetDefault("relayer.spenders", []string{
		"0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		"0xC5d563A36AE78145C45a50134d48A1215220f80a",
		"0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
	})

	v.SetDefault("payment.base_url", "")
	v.SetDefault("payment.api_key", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.success_url", "")
	v.SetDefault("payment.cancel_url", "")
	v.SetDefault("payment.timeout", "15s")
	v.SetDefault("payment.pending_ttl", "24h")

	v.SetDefault("bots.balance_multiplier", 10)
	v.SetDefault("bots.lock_ttl", "30s")
	v.SetDefault("bots.log_poll_interval", "2s")

	v.SetDefault("cache.balance_ttl", "30s")
	v.SetDefault("cache.list_ttl", "5m")
	v.SetDefault("cache.dashboard_ttl", "60s")
	v.SetDefault("cache.leaderboard_ttl", "5m")

	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", "pmbots.bots")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.payment_expiry", "0 0 * * * *")
	v.SetDefault("cron.subscription_expiry", "0 */10 * * * *")
	v.SetDefault("cron.deploying_sweep", "@every 1m")
	v.SetDefault("cron.session_keys_sweep", "@every 1m")
}
