package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type CommenceConfig struct {
	Database struct {
		Driver string `mapstructure:"driver"` // mysql, postgres, sqlite
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	// 对外访问地址，用于生成回调和跳转URL
	PublicURL       string        `mapstructure:"public_url"`
	DefaultCurrency string        `mapstructure:"default_currency"`
	ReservationTTL  time.Duration `mapstructure:"reservation_ttl"`
	LinkTTL         time.Duration `mapstructure:"link_ttl"`
	SettleLease     time.Duration `mapstructure:"settle_lease"`

	// 银行卡支付网关
	CardGateway struct {
		Enabled      bool   `mapstructure:"enabled"`
		URL          string `mapstructure:"url"`
		MerchantCode string `mapstructure:"merchant_code"`
		Terminal     string `mapstructure:"terminal"`
		CurrencyCode string `mapstructure:"currency_code"`
		Secret       string `mapstructure:"secret"`
	} `mapstructure:"card_gateway"`

	// 银行转账网关
	BankTransfer struct {
		Enabled       bool   `mapstructure:"enabled"`
		BaseURL       string `mapstructure:"base_url"`
		APIKey        string `mapstructure:"api_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
	} `mapstructure:"bank_transfer"`

	PayPal struct {
		Enabled      bool   `mapstructure:"enabled"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		Sandbox      bool   `mapstructure:"sandbox"`
	} `mapstructure:"paypal"`

	// 外部记账服务
	Ledger struct {
		BaseURL string        `mapstructure:"base_url"`
		APIKey  string        `mapstructure:"api_key"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ledger"`

	// 记账失败后的重试
	Retry struct {
		Interval     time.Duration `mapstructure:"interval"`
		BatchSize    int           `mapstructure:"batch_size"`
		SQSQueueURL  string        `mapstructure:"sqs_queue_url"`
		AWSRegion    string        `mapstructure:"aws_region"`
		AWSAccessKey string        `mapstructure:"aws_access_key"`
		AWSSecret    string        `mapstructure:"aws_secret"`
	} `mapstructure:"retry"`
}

var Config *CommenceConfig

// Default 返回带默认值的配置
func Default() *CommenceConfig {
	cfg := &CommenceConfig{
		PublicURL:       "http://localhost:8080",
		DefaultCurrency: "EUR",
		ReservationTTL:  15 * time.Minute,
		LinkTTL:         72 * time.Hour,
		SettleLease:     2 * time.Minute,
	}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "splitpay.db"
	cfg.CardGateway.CurrencyCode = "978"
	cfg.PayPal.Sandbox = true
	cfg.Ledger.Timeout = 10 * time.Second
	cfg.Retry.Interval = 5 * time.Minute
	cfg.Retry.BatchSize = 50
	return cfg
}

// Load 读取配置文件（可选）并用 SPLITPAY_ 前缀的环境变量覆盖
func Load(path string) (*CommenceConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SPLITPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// viper 的 AutomaticEnv 只对已知的 key 生效，Unmarshal 前需要逐个绑定
func bindEnv(v *viper.Viper) {
	keys := []string{
		"database.driver", "database.dsn",
		"public_url", "default_currency", "reservation_ttl", "link_ttl", "settle_lease",
		"card_gateway.enabled", "card_gateway.url", "card_gateway.merchant_code",
		"card_gateway.terminal", "card_gateway.currency_code", "card_gateway.secret",
		"bank_transfer.enabled", "bank_transfer.base_url", "bank_transfer.api_key", "bank_transfer.webhook_secret",
		"paypal.enabled", "paypal.client_id", "paypal.client_secret", "paypal.sandbox",
		"ledger.base_url", "ledger.api_key", "ledger.timeout",
		"retry.interval", "retry.batch_size", "retry.sqs_queue_url",
		"retry.aws_region", "retry.aws_access_key", "retry.aws_secret",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// BuildURL 拼接对外访问的绝对地址
func (c *CommenceConfig) BuildURL(path string) string {
	return strings.TrimRight(c.PublicURL, "/") + "/" + strings.TrimLeft(path, "/")
}
