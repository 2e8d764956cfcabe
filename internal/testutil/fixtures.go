package testutil

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/models"
)

// GenerateLinkedAccount creates a linked account with an established rating.
// AccessToken is a placeholder, not a real ciphertext.
func GenerateLinkedAccount(discordID uint64, username string, rating int64) *models.LinkedAccount {
	return &models.LinkedAccount{
		DiscordID:       discordID,
		LichessID:       username,
		LichessUsername: username,
		AccessToken:     fmt.Sprintf("encrypted_token_%s", username),
		TokenType:       "Bearer",
		TokenExpiry:     sql.NullTime{Time: time.Now().UTC().Add(365 * 24 * time.Hour), Valid: true},
		Rating:          sql.NullInt64{Int64: rating, Valid: true},
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
}

// GenerateUnratedAccount creates a linked account without a rating
func GenerateUnratedAccount(discordID uint64, username string) *models.LinkedAccount {
	account := GenerateLinkedAccount(discordID, username, 0)
	account.Rating = sql.NullInt64{}
	return account
}

// GenerateEncryptionKey generates a 32-byte encryption key for testing.
func GenerateEncryptionKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("failed to generate encryption key: %v", err))
	}
	return key
}

// GenerateTestConfig creates a test configuration with valid values.
// It uses the in-memory store so tests need no Redis.
func GenerateTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			HTTPPort:  "8000",
			GRPCPort:  "50051",
			PublicURL: "http://localhost:8000",
			Env:       "test",
		},
		Discord: config.DiscordConfig{
			BotToken:        "test_bot_token",
			APIURL:          "https://discord.com/api/v10",
			GatewayEnabled:  false,
			CommandPrefixes: []string{"ohnomy", "oh no my"},
		},
		Lichess: config.LichessConfig{
			ClientID:    "liro-bot-test",
			BaseURL:     "https://lichess.org",
			RatingPerfs: []string{"blitz", "rapid", "classical"},
		},
		Store: config.StoreConfig{
			Backend: config.StoreBackendMemory,
		},
		Database: config.DatabaseConfig{
			Host:         "localhost",
			Port:         "5432",
			User:         "testuser",
			Password:     "testpass",
			Name:         "testdb",
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Security: config.SecurityConfig{
			TokenEncryptionKey:     GenerateEncryptionKey(),
			ChallengeExpiryMinutes: 15,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "console",
		},
	}
}
