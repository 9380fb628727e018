package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Rail     RailConfig     `mapstructure:"rail"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Hub      HubConfig      `mapstructure:"hub"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// RailConfig configures the primary payment rail collaborator.
type RailConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// SettlementAccount receives recovery debits pulled from users'
	// funding sources.
	SettlementAccount string `mapstructure:"settlement_account"`
}

// RecoveryConfig configures the deferred reconciliation worker.
type RecoveryConfig struct {
	// SweepInterval is how often the periodic worker runs ProcessDue.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// SettlementDelay is how far in the future a new task is scheduled.
	SettlementDelay time.Duration `mapstructure:"settlement_delay"`
	// StaleClaimAfter fails tasks stuck in PROCESSING longer than this.
	StaleClaimAfter time.Duration `mapstructure:"stale_claim_after"`
	BatchSize       int           `mapstructure:"batch_size"`
}

// HubConfig configures the realtime event hub.
type HubConfig struct {
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	SendBuffer  int           `mapstructure:"send_buffer"`
}

// AdminConfig configures operational endpoints.
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PWC (PayWallet Core).
// Nested keys use underscore: PWC_DATABASE_HOST, PWC_JWT_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "paywallet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "paywallet-core")
	v.SetDefault("rail.base_url", "http://localhost:9090")
	v.SetDefault("rail.attempt_timeout", "10s")
	v.SetDefault("rail.settlement_account", "")
	v.SetDefault("recovery.sweep_interval", "1h")
	v.SetDefault("recovery.settlement_delay", "24h")
	v.SetDefault("recovery.stale_claim_after", "2h")
	v.SetDefault("recovery.batch_size", 100)
	v.SetDefault("hub.auth_timeout", "10s")
	v.SetDefault("hub.ping_period", "54s")
	v.SetDefault("hub.pong_wait", "60s")
	v.SetDefault("hub.write_wait", "10s")
	v.SetDefault("hub.send_buffer", 64)
	v.SetDefault("admin.api_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PWC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
