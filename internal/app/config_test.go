package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intrnl "taskchat/internal"
	"taskchat/internal/storage"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, intrnl.DefaultWSPath, cfg.Server.WSPath)
	assert.Equal(t, storage.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, intrnl.DefaultRoomPrefix, cfg.Chat.RoomPrefix)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, RelayDriverNone, cfg.Relay.Driver)
	assert.Equal(t, intrnl.DefaultRelayChannel, cfg.Relay.Redis.Channel)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `server:
  addr: ":9090"
chat:
  room_prefix: "team_"
  require_private_recipient: true
websocket:
  ping_interval: 5s
  pong_wait: 15s
relay:
  driver: redis
  redis:
    address: "redis:6379"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taskchat.yaml"), []byte(yaml), 0o600))
	t.Setenv("TASKCHAT_SERVER_ADDR", ":7070")
	t.Setenv("TASKCHAT_AUTH_RATE_LIMIT", "3")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr, "environment beats the file")
	assert.Equal(t, "team_", cfg.Chat.RoomPrefix)
	assert.True(t, cfg.Chat.RequirePrivateRecipient)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 3, cfg.Auth.RateLimit)
	assert.Equal(t, RelayDriverRedis, cfg.Relay.Driver)
	assert.Equal(t, "redis:6379", cfg.Relay.Redis.Address)

	opts := cfg.ServerOptions()
	assert.Equal(t, "team_", opts.RoomPrefix)
	assert.True(t, opts.RequirePrivateRecipient)
	assert.Equal(t, 15*time.Second, opts.WebSocket.PongWait)
	assert.Equal(t, 3, opts.AuthRateLimit)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TASKCHAT_CHAT_ROOM_PREFIX=dotenv_\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("TASKCHAT_CHAT_ROOM_PREFIX") })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv_", cfg.Chat.RoomPrefix)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":     func(c *Config) { c.Database.Driver = "mysql" },
		"postgres needs dsn": func(c *Config) { c.Database.Driver = storage.DriverPostgres },
		"unknown relay":      func(c *Config) { c.Relay.Driver = "kafka" },
		"ping after pong":    func(c *Config) { c.WebSocket.PingInterval = time.Minute },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Database.Driver = storage.DriverPostgres
	cfg.Database.DSN = "postgres://localhost/taskchat"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultDBPathHonoursDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKCHAT_DATA_DIR", dir)
	assert.Equal(t, filepath.Join(dir, "taskchat.db"), DefaultDBPath())
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:4000/ws/chat/", WebsocketURL("127.0.0.1:4000", ""))
	assert.Equal(t, "ws://127.0.0.1:4000/chat", WebsocketURL("[::]:4000", "chat"))
	assert.Equal(t, "ws://127.0.0.1:4000/ws/chat/", WebsocketURL(":4000", "/ws/chat/"))
}
