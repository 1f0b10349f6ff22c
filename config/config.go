package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	JWTExpiry      time.Duration
	LogLevel       string
	Redis          RedisConfig
	Database       DatabaseConfig
	OIDC           OIDCConfig
	Relay          RelayConfig
	Persistence    PersistenceConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Refresh is the cron spec for re-adding live members to the presence sets.
	Refresh string
}

// Enabled reports whether the presence mirror should connect at all.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type DatabaseConfig struct {
	Type string // sqlite, postgres or buntdb
	DSN  string
}

// OIDCConfig enables verification of Firebase (or any OIDC) ID tokens next to
// the locally issued ones.
type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type RelayConfig struct {
	SendBuffer         int
	MaxMessageBytes    int64
	MalformedPerSecond float64
	MalformedBurst     int
}

type PersistenceConfig struct {
	Workers int
	Queue   int
	Timeout time.Duration
}

// keys maps viper keys to the environment variables the service has always used.
var keys = map[string]string{
	"port":                  "PORT",
	"environment":           "ENVIRONMENT",
	"allowed_origins":       "ALLOWED_ORIGINS",
	"jwt_secret":            "JWT_SECRET",
	"jwt_expire":            "JWT_EXPIRE",
	"log_level":             "LOG_LEVEL",
	"redis.host":            "REDIS_HOST",
	"redis.port":            "REDIS_PORT",
	"redis.password":        "REDIS_PASSWORD",
	"redis.db":              "REDIS_DB",
	"redis.refresh":         "PRESENCE_REFRESH",
	"database.type":         "DATABASE_TYPE",
	"database.dsn":          "DATABASE_DSN",
	"oidc.issuer":           "OIDC_ISSUER",
	"oidc.client_id":        "OIDC_CLIENT_ID",
	"relay.send_buffer":     "SEND_BUFFER",
	"relay.max_message":     "MAX_MESSAGE_BYTES",
	"relay.malformed_rate":  "MALFORMED_PER_SECOND",
	"relay.malformed_burst": "MALFORMED_BURST",
	"persist.workers":       "PERSIST_WORKERS",
	"persist.queue":         "PERSIST_QUEUE",
	"persist.timeout":       "PERSIST_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("jwt_expire", "168h")
	v.SetDefault("log_level", "info")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.refresh", "@every 1m")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "signconnect.db")
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.max_message", 64*1024)
	v.SetDefault("relay.malformed_rate", 5.0)
	v.SetDefault("relay.malformed_burst", 20)
	v.SetDefault("persist.workers", 4)
	v.SetDefault("persist.queue", 1024)
	v.SetDefault("persist.timeout", "5s")
}

// FlagSet returns the flags understood by Load. Flag names use dashes, they
// are normalized onto the config keys.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	fs.String("port", "", "HTTP listen port")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fs.String("database-type", "", "store backend: sqlite, postgres or buntdb")
	fs.String("database-dsn", "", "store DSN or file path")
	return fs
}

var flagKeys = map[string]string{
	"port":          "port",
	"log-level":     "log_level",
	"database-type": "database.type",
	"database-dsn":  "database.dsn",
}

// Load reads .env (if present), the optional config file, the environment and
// the given flags, in increasing order of precedence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	// REDIS_HOST= (empty) disables the presence mirror.
	v.AllowEmptyEnv(true)
	setDefaults(v)
	for key, env := range keys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		JWTSecret:      v.GetString("jwt_secret"),
		JWTExpiry:      v.GetDuration("jwt_expire"),
		LogLevel:       v.GetString("log_level"),
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Refresh:  v.GetString("redis.refresh"),
		},
		Database: DatabaseConfig{
			Type: strings.ToLower(v.GetString("database.type")),
			DSN:  v.GetString("database.dsn"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Relay: RelayConfig{
			SendBuffer:         v.GetInt("relay.send_buffer"),
			MaxMessageBytes:    v.GetInt64("relay.max_message"),
			MalformedPerSecond: v.GetFloat64("relay.malformed_rate"),
			MalformedBurst:     v.GetInt("relay.malformed_burst"),
		},
		Persistence: PersistenceConfig{
			Workers: v.GetInt("persist.workers"),
			Queue:   v.GetInt("persist.queue"),
			Timeout: v.GetDuration("persist.timeout"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "buntdb":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRE must be positive")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive")
	}
	// a bucket without capacity would close on the first malformed event
	if c.Relay.MalformedBurst < 1 {
		return fmt.Errorf("MALFORMED_BURST must be at least 1")
	}
	if c.Relay.MalformedPerSecond < 0 {
		return fmt.Errorf("MALFORMED_PER_SECOND must not be negative")
	}
	return nil
}

// IsProduction mirrors the gin release-mode switch.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
