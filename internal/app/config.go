package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	intrnl "taskchat/internal"
	"taskchat/internal/logging"
	"taskchat/internal/storage"
)

const (
	envPrefix  = "TASKCHAT"
	configName = "taskchat"
)

const (
	RelayDriverNone  = "none"
	RelayDriverRedis = "redis"
)

// Config is the full server configuration loaded by LoadConfig.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Log       logging.Config  `mapstructure:"log"`
}

// ServerConfig defines how the HTTP/WebSocket backend should listen.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	WSPath string `mapstructure:"ws_path"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	// DSN is a sqlite path or a postgres connection string.
	DSN string `mapstructure:"dsn"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type ChatConfig struct {
	RoomPrefix              string `mapstructure:"room_prefix"`
	RequirePrivateRecipient bool   `mapstructure:"require_private_recipient"`
}

type AuthConfig struct {
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type RelayConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	RoomKey   string
}

// LoadConfig reads taskchat.yaml from dir (or . and ./config), then .env,
// then TASKCHAT_* environment variables. A missing file is not an error.
func LoadConfig(dir string) (*Config, error) {
	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := intrnl.DefaultOptions()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", intrnl.DefaultWSPath)
	v.SetDefault("database.driver", storage.DriverSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("websocket.ping_interval", defaults.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_wait", defaults.WebSocket.PongWait)
	v.SetDefault("websocket.write_wait", defaults.WebSocket.WriteWait)
	v.SetDefault("websocket.max_message_size", defaults.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", defaults.WebSocket.SendBuffer)
	v.SetDefault("chat.room_prefix", defaults.RoomPrefix)
	v.SetDefault("chat.require_private_recipient", false)
	v.SetDefault("auth.token_ttl", defaults.TokenTTL)
	v.SetDefault("auth.rate_limit", defaults.AuthRateLimit)
	v.SetDefault("auth.rate_window", defaults.AuthRateWindow)
	v.SetDefault("relay.driver", RelayDriverNone)
	v.SetDefault("relay.redis.address", "localhost:6379")
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.redis.db", 0)
	v.SetDefault("relay.redis.channel", intrnl.DefaultRelayChannel)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// DefaultConfig is LoadConfig's result with no file and no environment.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", storage.DriverSQLite, storage.DriverPostgres, c.Database.Driver)
	}
	if c.Database.Driver == storage.DriverPostgres && c.Database.DSN == "" {
		return errors.New("database.dsn is required for postgres")
	}
	switch c.Relay.Driver {
	case "", RelayDriverNone, RelayDriverRedis:
	default:
		return fmt.Errorf("relay.driver must be %q or %q, got %q", RelayDriverNone, RelayDriverRedis, c.Relay.Driver)
	}
	if c.WebSocket.PingInterval > 0 && c.WebSocket.PongWait > 0 && c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	return nil
}

// ServerOptions maps the config onto the chat server's options.
func (c *Config) ServerOptions() intrnl.Options {
	return intrnl.Options{
		RoomPrefix:              c.Chat.RoomPrefix,
		RequirePrivateRecipient: c.Chat.RequirePrivateRecipient,
		WebSocket: intrnl.WebSocketOptions{
			PingInterval:   c.WebSocket.PingInterval,
			PongWait:       c.WebSocket.PongWait,
			WriteWait:      c.WebSocket.WriteWait,
			MaxMessageSize: c.WebSocket.MaxMessageSize,
			SendBuffer:     c.WebSocket.SendBuffer,
		},
		TokenTTL:       c.Auth.TokenTTL,
		AuthRateLimit:  c.Auth.RateLimit,
		AuthRateWindow: c.Auth.RateWindow,
	}
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("TASKCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "taskchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskchat", "taskchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Taskchat", "taskchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Taskchat", "taskchat.db")
		}
		return filepath.Join(home, ".local", "share", "taskchat", "taskchat.db")
	}
	return filepath.Join(".", ".taskchat", "taskchat.db")
}
