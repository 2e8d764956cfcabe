package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" // 64 hex chars = 32 bytes

// setupTestEnv sets environment variables for the duration of the test.
// An empty value behaves like an unset variable because getEnv falls back to defaults.
func setupTestEnv(t *testing.T, envVars map[string]string) {
	t.Helper()

	// Clear everything Load reads so the host environment cannot leak in
	for _, key := range []string{
		"HTTP_PORT", "GRPC_PORT", "PUBLIC_URL", "ENVIRONMENT",
		"DISCORD_TOKEN", "DISCORD_API_URL", "DISCORD_GATEWAY_ENABLED", "COMMAND_PREFIXES",
		"LICHESS_CLIENT_ID", "LICHESS_URL", "LICHESS_RATING_PERFS",
		"STORE_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"TOKEN_ENCRYPTION_KEY", "CHALLENGE_EXPIRY_MINUTES",
		"ROLES_CONFIG_PATH", "ROLES_CONFIG_WATCH", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		"DISCORD_TOKEN":        "bot-token",
		"DB_PASSWORD":          "password",
		"TOKEN_ENCRYPTION_KEY": validKey,
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setupTestEnv(t, requiredEnv())

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "8000", cfg.Server.HTTPPort)
	assert.Equal(t, "50051", cfg.Server.GRPCPort)
	assert.Equal(t, "http://localhost:8000", cfg.Server.PublicURL)
	assert.Equal(t, "http://localhost:8000/oauth/callback", cfg.Server.CallbackURL())

	assert.Equal(t, "bot-token", cfg.Discord.BotToken)
	assert.Equal(t, "https://discord.com/api/v10", cfg.Discord.APIURL)
	assert.True(t, cfg.Discord.GatewayEnabled)
	assert.Equal(t, []string{"ohnomy", "oh no my"}, cfg.Discord.CommandPrefixes)

	assert.Equal(t, "liro-bot-test", cfg.Lichess.ClientID)
	assert.Equal(t, "https://lichess.org", cfg.Lichess.BaseURL)
	assert.Equal(t, []string{"blitz", "rapid", "classical"}, cfg.Lichess.RatingPerfs)

	assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "liro", cfg.Database.User)
	assert.Equal(t, "liro_db", cfg.Database.Name)

	assert.Len(t, cfg.Security.TokenEncryptionKey, 32)
	assert.Equal(t, 15*time.Minute, cfg.Security.ChallengeExpiry())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigOverrides(t *testing.T) {
	env := requiredEnv()
	env["PUBLIC_URL"] = "https://liro.example.com/"
	env["COMMAND_PREFIXES"] = " liro , , hey liro "
	env["LICHESS_RATING_PERFS"] = "rapid"
	env["STORE_BACKEND"] = "postgres"
	env["REDIS_DB"] = "3"
	env["DISCORD_GATEWAY_ENABLED"] = "false"
	env["CHALLENGE_EXPIRY_MINUTES"] = "5"
	env["LOG_LEVEL"] = "debug"
	env["LOG_FORMAT"] = "console"
	setupTestEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://liro.example.com", cfg.Server.PublicURL)
	assert.Equal(t, []string{"liro", "hey liro"}, cfg.Discord.CommandPrefixes)
	assert.Equal(t, []string{"rapid"}, cfg.Lichess.RatingPerfs)
	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.False(t, cfg.Discord.GatewayEnabled)
	assert.Equal(t, 5*time.Minute, cfg.Security.ChallengeExpiry())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(env map[string]string)
		wantErr string
	}{
		{"missing bot token", func(env map[string]string) { delete(env, "DISCORD_TOKEN") }, "DISCORD_TOKEN is required"},
		{"missing db password", func(env map[string]string) { delete(env, "DB_PASSWORD") }, "DB_PASSWORD is required"},
		{"short encryption key", func(env map[string]string) { env["TOKEN_ENCRYPTION_KEY"] = "abcd" }, "TOKEN_ENCRYPTION_KEY must be exactly 32 bytes"},
		{"non-hex encryption key", func(env map[string]string) { env["TOKEN_ENCRYPTION_KEY"] = "zz" }, "must be a hex-encoded string"},
		{"bad store backend", func(env map[string]string) { env["STORE_BACKEND"] = "etcd" }, "STORE_BACKEND must be one of"},
		{"bad redis db", func(env map[string]string) { env["REDIS_DB"] = "one" }, "invalid REDIS_DB"},
		{"relative public url", func(env map[string]string) { env["PUBLIC_URL"] = "localhost" }, "PUBLIC_URL must be an absolute URL"},
		{"zero expiry", func(env map[string]string) { env["CHALLENGE_EXPIRY_MINUTES"] = "0" }, "CHALLENGE_EXPIRY_MINUTES must be positive"},
		{"watch without path", func(env map[string]string) { env["ROLES_CONFIG_WATCH"] = "true" }, "ROLES_CONFIG_WATCH requires ROLES_CONFIG_PATH"},
		{"bad log level", func(env map[string]string) { env["LOG_LEVEL"] = "trace" }, "LOG_LEVEL must be one of"},
		{"bad log format", func(env map[string]string) { env["LOG_FORMAT"] = "xml" }, "LOG_FORMAT must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := requiredEnv()
			tt.modify(env)
			setupTestEnv(t, env)

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     "5433",
		User:     "u",
		Password: "p",
		Name:     "n",
		SSLMode:  "require",
	}

	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", cfg.GetDSN())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a, b,,"))
	assert.Nil(t, splitList(" , "))
}
