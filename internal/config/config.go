// Package config provides application configuration management using environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Discord  DiscordConfig
	Lichess  LichessConfig
	Store    StoreConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Security SecurityConfig
	Roles    RolesConfig
	Logging  LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPPort  string
	GRPCPort  string
	PublicURL string // externally visible base URL used in links and redirect URIs
	Env       string
}

// DiscordConfig holds bot configuration
type DiscordConfig struct {
	BotToken        string
	APIURL          string
	GatewayEnabled  bool
	CommandPrefixes []string
}

// LichessConfig holds the Lichess OAuth client configuration
type LichessConfig struct {
	ClientID    string
	BaseURL     string
	RatingPerfs []string
}

// StoreConfig selects the key-value backend used for challenges
type StoreConfig struct {
	Backend string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	TokenEncryptionKey     []byte
	ChallengeExpiryMinutes int
}

// RolesConfig points at the optional tier/role seed file
type RolesConfig struct {
	ConfigPath  string
	WatchConfig bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
// It optionally loads from a .env file if it exists
func Load() (*Config, error) {
	// Try to load .env file (optional, ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server = ServerConfig{
		HTTPPort:  getEnv("HTTP_PORT", "8000"),
		GRPCPort:  getEnv("GRPC_PORT", "50051"),
		PublicURL: strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8000"), "/"),
		Env:       getEnv("ENVIRONMENT", "development"),
	}

	cfg.Discord = DiscordConfig{
		BotToken:        getEnv("DISCORD_TOKEN", ""),
		APIURL:          strings.TrimRight(getEnv("DISCORD_API_URL", "https://discord.com/api/v10"), "/"),
		GatewayEnabled:  getEnvBool("DISCORD_GATEWAY_ENABLED", true),
		CommandPrefixes: splitList(getEnv("COMMAND_PREFIXES", "ohnomy,oh no my")),
	}

	cfg.Lichess = LichessConfig{
		ClientID:    getEnv("LICHESS_CLIENT_ID", "liro-bot-test"),
		BaseURL:     strings.TrimRight(getEnv("LICHESS_URL", "https://lichess.org"), "/"),
		RatingPerfs: splitList(getEnv("LICHESS_RATING_PERFS", "blitz,rapid,classical")),
	}

	cfg.Store = StoreConfig{
		Backend: getEnv("STORE_BACKEND", StoreBackendRedis),
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
		Password:  getEnv("REDIS_PASSWORD", ""),
		DB:        redisDB,
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", ""),
	}

	maxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "10"))
	maxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "2"))

	cfg.Database = DatabaseConfig{
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         getEnv("DB_PORT", "5432"),
		User:         getEnv("DB_USER", "liro"),
		Password:     getEnv("DB_PASSWORD", ""),
		Name:         getEnv("DB_NAME", "liro_db"),
		SSLMode:      getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns: maxOpenConns,
		MaxIdleConns: maxIdleConns,
	}

	challengeExpiryMinutes, _ := strconv.Atoi(getEnv("CHALLENGE_EXPIRY_MINUTES", "15"))

	encryptionKey, err := hex.DecodeString(getEnv("TOKEN_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: must be a hex-encoded string: %w", err)
	}

	cfg.Security = SecurityConfig{
		TokenEncryptionKey:     encryptionKey,
		ChallengeExpiryMinutes: challengeExpiryMinutes,
	}

	cfg.Roles = RolesConfig{
		ConfigPath:  getEnv("ROLES_CONFIG_PATH", ""),
		WatchConfig: getEnvBool("ROLES_CONFIG_WATCH", false),
	}

	cfg.Logging = LoggingConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if len(c.Discord.CommandPrefixes) == 0 {
		return fmt.Errorf("COMMAND_PREFIXES must contain at least one prefix")
	}

	if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
		return fmt.Errorf("PUBLIC_URL must be an absolute URL: %w", err)
	}

	if c.Lichess.ClientID == "" {
		return fmt.Errorf("LICHESS_CLIENT_ID is required")
	}
	if _, err := url.ParseRequestURI(c.Lichess.BaseURL); err != nil {
		return fmt.Errorf("LICHESS_URL must be an absolute URL: %w", err)
	}
	if len(c.Lichess.RatingPerfs) == 0 {
		return fmt.Errorf("LICHESS_RATING_PERFS must name at least one perf")
	}

	switch c.Store.Backend {
	case StoreBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store backend")
		}
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: redis, postgres, memory")
	}

	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if len(c.Security.TokenEncryptionKey) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 32 bytes (64 hex characters) for AES-256")
	}
	if c.Security.ChallengeExpiryMinutes <= 0 {
		return fmt.Errorf("CHALLENGE_EXPIRY_MINUTES must be positive")
	}

	if c.Roles.WatchConfig && c.Roles.ConfigPath == "" {
		return fmt.Errorf("ROLES_CONFIG_WATCH requires ROLES_CONFIG_PATH")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}

	return nil
}

// ChallengeExpiry returns the lifetime of a linking challenge
func (c *SecurityConfig) ChallengeExpiry() time.Duration {
	return time.Duration(c.ChallengeExpiryMinutes) * time.Minute
}

// CallbackURL returns the OAuth redirect URI registered with Lichess
func (c *ServerConfig) CallbackURL() string {
	return c.PublicURL + "/oauth/callback"
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}

// splitList splits a comma-separated value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
