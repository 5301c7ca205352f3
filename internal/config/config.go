package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/whatsapp-automation/gateway/internal/phone"
)

const (
	WorkPublic  = "public"
	WorkPrivate = "private"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the process configuration, read from the environment (optionally
// seeded by a .env file) and an optional config file.
type Config struct {
	Port           int
	Prefix         string
	OwnerNumbers   []string
	WorkType       string
	BotName        string
	MaxConnections int
	SessionsDir    string
	DeviceOS       string

	DB       DBConfig
	Redis    RedisConfig
	Session  SessionConfig
	Telegram TelegramConfig
	Proxy    ProxyConfig
	Log      LogConfig

	OTPTTL             time.Duration
	StatsRetentionDays int
}

type DBConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig tunes the start sequence and the reconnect policy.
type SessionConfig struct {
	PairingDelay      time.Duration
	StartupDelay      time.Duration
	SweepSpacing      time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
}

type TelegramConfig struct {
	Token  string
	ChatID string
}

type LogConfig struct {
	Level  string
	Format string
}

var defaults = map[string]interface{}{
	"PORT":                   3015,
	"PREFIX":                 ".",
	"WORK_TYPE":              WorkPublic,
	"BOT_NAME":               "Gateway Bot",
	"MAX_CONNECTIONS":        10000,
	"SESSIONS_DIR":           "./sessions",
	"DEVICE_OS":              "Ubuntu",
	"DB_DRIVER":              DriverSQLite,
	"DB_DSN":                 "gateway.db",
	"REDIS_DB":               0,
	"PAIRING_DELAY":          "3s",
	"STARTUP_DELAY":          "3s",
	"SWEEP_SPACING":          "2s",
	"RECONNECT_BASE_DELAY":   "5s",
	"RECONNECT_MAX_DELAY":    "60s",
	"RECONNECT_MAX_ATTEMPTS": 10,
	"OTP_TTL":                "5m",
	"STATS_RETENTION_DAYS":   90,
	"PROXY_TYPE":             "socks5",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "text",
}

// Load reads configuration. envFiles are loaded with godotenv first (missing
// files are ignored); file, when non-empty, is read by viper.
func Load(file string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		Port:           v.GetInt("PORT"),
		Prefix:         v.GetString("PREFIX"),
		OwnerNumbers:   splitNumbers(v.GetString("OWNER_NUMBER")),
		WorkType:       strings.ToLower(v.GetString("WORK_TYPE")),
		BotName:        v.GetString("BOT_NAME"),
		MaxConnections: v.GetInt("MAX_CONNECTIONS"),
		SessionsDir:    v.GetString("SESSIONS_DIR"),
		DeviceOS:       v.GetString("DEVICE_OS"),
		DB: DBConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:    v.GetString("DB_DSN"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Session: SessionConfig{
			PairingDelay:      v.GetDuration("PAIRING_DELAY"),
			StartupDelay:      v.GetDuration("STARTUP_DELAY"),
			SweepSpacing:      v.GetDuration("SWEEP_SPACING"),
			ReconnectBase:     v.GetDuration("RECONNECT_BASE_DELAY"),
			ReconnectMax:      v.GetDuration("RECONNECT_MAX_DELAY"),
			ReconnectAttempts: v.GetInt("RECONNECT_MAX_ATTEMPTS"),
		},
		Telegram: TelegramConfig{
			Token:  v.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID: v.GetString("TELEGRAM_CHAT_ID"),
		},
		Proxy: proxyFromViper(v),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		OTPTTL:             v.GetDuration("OTP_TTL"),
		StatsRetentionDays: v.GetInt("STATS_RETENTION_DAYS"),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Prefix, validation.Required),
		validation.Field(&c.WorkType, validation.In(WorkPublic, WorkPrivate)),
		validation.Field(&c.MaxConnections, validation.Required, validation.Min(1)),
		validation.Field(&c.SessionsDir, validation.Required),
		validation.Field(&c.DB),
		validation.Field(&c.Session),
		validation.Field(&c.OTPTTL, validation.Required),
	)
}

func (d DBConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (s SessionConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ReconnectBase, validation.Required),
		validation.Field(&s.ReconnectMax, validation.Required, validation.Min(s.ReconnectBase)),
		validation.Field(&s.ReconnectAttempts, validation.Min(0)),
	)
}

// IsOwner reports whether number is one of the configured owners.
func (c *Config) IsOwner(number string) bool {
	number = phone.Normalize(number)
	for _, o := range c.OwnerNumbers {
		if o == number {
			return true
		}
	}
	return false
}

func splitNumbers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if n := phone.Normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}
