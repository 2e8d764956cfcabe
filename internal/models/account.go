// Package models defines the records liro persists in Postgres.
package models

import (
	"database/sql"
	"time"
)

// LinkedAccount ties a Discord user to the Lichess account they authorized
type LinkedAccount struct {
	DiscordID       uint64        `json:"discord_id"`
	LichessID       string        `json:"lichess_id"`
	LichessUsername string        `json:"lichess_username"`
	AccessToken     string        `json:"-"` // Encrypted
	TokenType       string        `json:"token_type"`
	TokenExpiry     sql.NullTime  `json:"token_expiry"`
	Rating          sql.NullInt64 `json:"rating"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HasRating reports whether a rating snapshot is stored for the account
func (a *LinkedAccount) HasRating() bool {
	return a.Rating.Valid
}

// IsTokenExpired reports whether the stored Lichess token has a known, past expiry.
// Lichess personal tokens often carry no expiry at all.
func (a *LinkedAccount) IsTokenExpired() bool {
	return a.TokenExpiry.Valid && time.Now().After(a.TokenExpiry.Time)
}
