package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Cron      CronConfig      `mapstructure:"cron"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Markets   MarketsConfig   `mapstructure:"markets"`
	Index     IndexConfig     `mapstructure:"index"`
	Fund      FundConfig      `mapstructure:"fund"`
	Chain     ChainConfig     `mapstructure:"chain"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
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

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Poll    string `mapstructure:"poll"`
}

type FeedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AnalyticsConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"` // comma separated
	Topic   string `mapstructure:"topic"`
}

type IngestConfig struct {
	PageSize          int           `mapstructure:"page_size"`
	DedupCapacity     int           `mapstructure:"dedup_capacity"`
	BackfillEnabled   bool          `mapstructure:"backfill_enabled"`
	BackfillMaxPages  int           `mapstructure:"backfill_max_pages"`
	BackfillPageDelay time.Duration `mapstructure:"backfill_page_delay"`
}

type MarketsConfig struct {
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	Window     time.Duration `mapstructure:"window"`
}

type IndexConfig struct {
	Name string        `mapstructure:"name"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type FundConfig struct {
	Name       string  `mapstructure:"name"`
	Kind       string  `mapstructure:"kind"`    // mirror | active
	Product    string  `mapstructure:"product"` // psi | alpha
	CapitalUSD float64 `mapstructure:"capital_usd"`
	DryRun     bool    `mapstructure:"dry_run"`
}

type ChainConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	RPCURL              string        `mapstructure:"rpc_url"`
	ProxyAddress        string        `mapstructure:"proxy_address"`
	PrivateKey          string        `mapstructure:"private_key"` // hex; supply via MF_CHAIN_PRIVATE_KEY
	FallbackGasLimit    uint64        `mapstructure:"fallback_gas_limit"`
	GasLimitMultiplier  float64       `mapstructure:"gas_limit_multiplier"`
	GasPriceMultiplier  float64       `mapstructure:"gas_price_multiplier"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	ReceiptPollAttempts int           `mapstructure:"receipt_poll_attempts"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.poll", "@every 5s")
	v.SetDefault("feed.base_url", "https://data-api.polymarket.com")
	v.SetDefault("feed.timeout", "15s")
	v.SetDefault("analytics.base_url", "http://localhost:8123")
	v.SetDefault("analytics.timeout", "30s")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "mirror.trades")
	v.SetDefault("ingest.page_size", 100)
	v.SetDefault("ingest.dedup_capacity", 500000)
	v.SetDefault("ingest.backfill_enabled", false)
	v.SetDefault("ingest.backfill_max_pages", 10)
	v.SetDefault("ingest.backfill_page_delay", "1s")
	v.SetDefault("markets.refresh_ttl", "5m")
	v.SetDefault("markets.window", "168h")
	v.SetDefault("index.name", "smart-money")
	v.SetDefault("index.ttl", "60s")
	v.SetDefault("fund.name", "psi-mirror")
	v.SetDefault("fund.kind", "mirror")
	v.SetDefault("fund.product", "psi")
	v.SetDefault("fund.capital_usd", 0)
	v.SetDefault("fund.dry_run", true)
	v.SetDefault("chain.enabled", false)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.proxy_address", "")
	v.SetDefault("chain.fallback_gas_limit", 1500000)
	v.SetDefault("chain.gas_limit_multiplier", 1.25)
	v.SetDefault("chain.gas_price_multiplier", 1.10)
	v.SetDefault("chain.receipt_poll_interval", "1s")
	v.SetDefault("chain.receipt_poll_attempts", 60)

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
