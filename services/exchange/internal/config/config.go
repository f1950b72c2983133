package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	base "github.com/vvmafra/EnerTradeZK/libs/config"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

const (
	PaymentMemory = "memory"
	PaymentRedis  = "redis"
)

type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

type KafkaTopics struct {
	Listings   string `mapstructure:"listings"`
	DeadLetter string `mapstructure:"dead_letter"`
}

// KafkaConfig leaves publication off when Brokers is empty.
type KafkaConfig struct {
	Brokers  []string    `mapstructure:"brokers"`
	ClientID string      `mapstructure:"client_id"`
	Topics   KafkaTopics `mapstructure:"topics"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Prefix string        `mapstructure:"prefix"`
}

type PaymentConfig struct {
	Adapter         string `mapstructure:"adapter"`
	TokenAddress    string `mapstructure:"token_address"`
	ExchangeAddress string `mapstructure:"exchange_address"`
	Prefix          string `mapstructure:"prefix"`
}

type VerifierConfig struct {
	Address string `mapstructure:"address"`
	Accept  bool   `mapstructure:"accept"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type Config struct {
	App       base.AppConfig  `mapstructure:"-"`
	DB        DBConfig        `mapstructure:"db"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

func Load(path string) (*Config, error) {
	v, err := base.New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	appCfg, err := base.FromViper(v)
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	cfg := &Config{App: *appCfg}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Env values arrive as one comma separated string.
	cfg.Kafka.Brokers = splitCSV(strings.Join(cfg.Kafka.Brokers, ","))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("ENZ_JWT_SECRET must be set")
	}
	if c.DB.Enabled && c.DB.Port <= 0 {
		return fmt.Errorf("db.port must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topics.Listings == "" {
		return fmt.Errorf("kafka.topics.listings required")
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative")
	}
	if c.RateLimit.Limit > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	switch c.Payment.Adapter {
	case PaymentMemory:
	case PaymentRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr required for the redis payment adapter")
		}
	default:
		return fmt.Errorf("payment.adapter must be %q or %q, got %q", PaymentMemory, PaymentRedis, c.Payment.Adapter)
	}
	if _, err := engine.ParseAddress(c.Payment.TokenAddress); err != nil {
		return fmt.Errorf("payment.token_address: %w", err)
	}
	if _, err := engine.ParseAddress(c.Payment.ExchangeAddress); err != nil {
		return fmt.Errorf("payment.exchange_address: %w", err)
	}
	if c.Verifier.Address != "" {
		if _, err := engine.ParseAddress(c.Verifier.Address); err != nil {
			return fmt.Errorf("verifier.address: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.enabled", true)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "enertradezk")
	v.SetDefault("db.user", "enz")
	v.SetDefault("db.password", "enz")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "exchange")
	v.SetDefault("kafka.topics.listings", "exchange.listings")
	v.SetDefault("kafka.topics.dead_letter", "exchange.dlq")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.prefix", "enz:exchange:rl:")
	v.SetDefault("payment.adapter", PaymentMemory)
	v.SetDefault("payment.token_address", "0x00000000000000000000000000000000000000e1")
	v.SetDefault("payment.exchange_address", "0x00000000000000000000000000000000000000e2")
	v.SetDefault("payment.prefix", "enz:token:")
	v.SetDefault("verifier.address", "")
	v.SetDefault("verifier.accept", true)
	v.SetDefault("tracing.endpoint", "")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
