// Package config loads storefront settings from an optional config file and
// the environment. Nested keys map to env vars by replacing dots with
// underscores, so db.host is read from DB_HOST.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fjod/go_store/internal/payment"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPPort           string        `mapstructure:"http_port" validate:"required"`
	GRPCPort           string        `mapstructure:"grpc_port" validate:"required"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size" validate:"gt=0"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogPretty bool   `mapstructure:"log_pretty"`

	Store  string      `mapstructure:"store" validate:"oneof=memory postgres"`
	DB     DBConfig    `mapstructure:"db"`
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	Orders OrderConfig `mapstructure:"orders"`
	Lock   LockConfig  `mapstructure:"lock"`

	Provider ProviderConfig `mapstructure:"provider"`
	VNPay    VNPayConfig    `mapstructure:"vnpay"`
	MoMo     MoMoConfig     `mapstructure:"momo"`
}

type DBConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// RedisConfig enables the distributed order lock when Addr is set;
// otherwise locks are held in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig enables the outbox poller and the notification consumer when
// Brokers is set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type OrderConfig struct {
	CodeMin            int `mapstructure:"code_min" validate:"gt=0"`
	CodeMax            int `mapstructure:"code_max" validate:"gtefield=CodeMin"`
	CodeRandomAttempts int `mapstructure:"code_random_attempts" validate:"gte=0"`
}

type LockConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// ProviderConfig bounds outbound calls to payment providers.
type ProviderConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

func (p ProviderConfig) CallerConfig() payment.CallerConfig {
	return payment.CallerConfig{
		Timeout:          p.Timeout,
		MaxAttempts:      p.MaxAttempts,
		BreakerThreshold: p.BreakerThreshold,
		BreakerTimeout:   p.BreakerTimeout,
	}
}

type VNPayConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	payment.VNPayConfig `mapstructure:",squash"`
}

type MoMoConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	payment.MoMoConfig `mapstructure:",squash"`
}

var defaults = map[string]any{
	"http_port":             "8080",
	"grpc_port":             "50060",
	"request_timeout":       30 * time.Second,
	"shutdown_timeout":      10 * time.Second,
	"max_request_body_size": int64(1 << 20),
	"log_level":             "info",
	"log_pretty":            false,

	"store":              StorePostgres,
	"db.host":            "localhost",
	"db.port":            5432,
	"db.user":            "postgres",
	"db.password":        "postgres",
	"db.name":            "ecommerce",
	"db.sslmode":         "disable",
	"db.migrations_path": "./internal/repository/migrations",

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"kafka.brokers":  []string{},
	"kafka.topic":    "order-events",
	"kafka.group_id": "storefront-notifications",

	"orders.code_min":             1000,
	"orders.code_max":             9999,
	"orders.code_random_attempts": 20,

	"lock.ttl":          30 * time.Second,
	"lock.wait_timeout": 10 * time.Second,

	"provider.timeout":           10 * time.Second,
	"provider.max_attempts":      3,
	"provider.breaker_threshold": 5,
	"provider.breaker_timeout":   30 * time.Second,

	"vnpay.enabled":     false,
	"vnpay.tmn_code":    "",
	"vnpay.hash_secret": "",
	"vnpay.pay_url":     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	"vnpay.api_url":     "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction",
	"vnpay.return_url":  "",
	"vnpay.locale":      "vn",

	"momo.enabled":        false,
	"momo.partner_code":   "",
	"momo.access_key":     "",
	"momo.secret_key":     "",
	"momo.endpoint":       "https://test-payment.momo.vn/v2/gateway/api/create",
	"momo.query_endpoint": "",
	"momo.return_url":     "",
	"momo.ipn_url":        "",
	"momo.request_type":   "captureWallet",
}

// Load reads configFile when it is not empty, then the environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on settings the storefront cannot run with, including
// an enabled payment provider that lacks credentials.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if c.VNPay.Enabled {
		errs = append(errs, missing("vnpay", map[string]string{
			"tmn_code":    c.VNPay.TmnCode,
			"hash_secret": c.VNPay.HashSecret,
			"pay_url":     c.VNPay.PayURL,
			"return_url":  c.VNPay.ReturnURL,
		}))
	}
	if c.MoMo.Enabled {
		errs = append(errs, missing("momo", map[string]string{
			"partner_code": c.MoMo.PartnerCode,
			"access_key":   c.MoMo.AccessKey,
			"secret_key":   c.MoMo.SecretKey,
			"endpoint":     c.MoMo.Endpoint,
			"return_url":   c.MoMo.ReturnURL,
			"ipn_url":      c.MoMo.IPNURL,
		}))
	}
	return errors.Join(errs...)
}

func missing(section string, fields map[string]string) error {
	var names []string
	for name, val := range fields {
		if strings.TrimSpace(val) == "" {
			names = append(names, section+"."+name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return fmt.Errorf("missing %s", strings.Join(names, ", "))
}
