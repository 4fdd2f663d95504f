package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ledger-chat/internal/utils"
)

// Config holds both the client engine settings and the dev relay settings.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Send      SendConfig      `mapstructure:"send"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
	Relay     RelayConfig     `mapstructure:"relay"`
}

type ServerConfig struct {
	URL    string `mapstructure:"url"`     // REST base, e.g. http://localhost:3001/api
	WSPath string `mapstructure:"ws_path"` // websocket path relative to the host
}

type AuthConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Jitter      float64       `mapstructure:"jitter"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type TypingConfig struct {
	Expiry time.Duration `mapstructure:"expiry"` // remote typer is dropped after this much silence
	Idle   time.Duration `mapstructure:"idle"`   // local stop signal after this much idle
}

type SendConfig struct {
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

type HistoryConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type RelayConfig struct {
	Port        int           `mapstructure:"port"`
	DatabaseURL string        `mapstructure:"database_url"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:3001/api")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.user_id", "")
	v.SetDefault("reconnect.base_delay", time.Second)
	v.SetDefault("reconnect.max_delay", 5*time.Second)
	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.jitter", 0.5)
	v.SetDefault("reconnect.dial_timeout", 20*time.Second)
	v.SetDefault("typing.expiry", 5*time.Second)
	v.SetDefault("typing.idle", 2*time.Second)
	v.SetDefault("send.ack_timeout", 30*time.Second)
	v.SetDefault("history.page_size", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("relay.port", 3001)
	v.SetDefault("relay.database_url", "")
	v.SetDefault("relay.jwt_secret", "secret")
	v.SetDefault("relay.token_ttl", 72*time.Hour)
}

// Load reads .env, then an optional config file, then LEDGER_* environment
// variables (LEDGER_SERVER_URL, LEDGER_RECONNECT_MAX_ATTEMPTS, ...).
func Load(configPath string) (*Config, error) {
	utils.LoadEnv()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ledgerchat")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := url.Parse(c.Server.URL); err != nil || c.Server.URL == "" {
		return fmt.Errorf("invalid server.url: %q", c.Server.URL)
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be >= reconnect.base_delay")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		return fmt.Errorf("reconnect.jitter must be in [0, 1)")
	}
	if c.Typing.Expiry <= 0 || c.Typing.Idle <= 0 {
		return fmt.Errorf("typing.expiry and typing.idle must be positive")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay.port: %d", c.Relay.Port)
	}
	return nil
}

// WebSocketURL derives the ws(s):// endpoint from the REST base URL.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.Server.WSPath
	u.RawQuery = ""
	return u.String(), nil
}

// DatabaseURL returns relay.database_url, falling back to the individual POSTGRES_* variables.
// An empty result means the relay keeps its data in memory.
func (c *Config) DatabaseURL() string {
	if c.Relay.DatabaseURL != "" {
		return c.Relay.DatabaseURL
	}
	host := utils.GetEnv("POSTGRES_HOST", "")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(utils.GetEnv("POSTGRES_USER", "postgres"), utils.GetEnv("POSTGRES_PASSWORD", "postgres")),
		Host:     host + ":" + utils.GetEnv("POSTGRES_PORT", "5432"),
		Path:     "/" + utils.GetEnv("POSTGRES_DB", "chatdb"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
