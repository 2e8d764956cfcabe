package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parsascontentcorner/liro/internal/models"
)

// ErrAccountNotFound is returned when no Lichess account is linked to a Discord user
var ErrAccountNotFound = errors.New("linked account not found")

// UpsertLinkedAccount creates or replaces the link for a Discord user.
// Re-linking overwrites the previous Lichess account and token.
func (db *DB) UpsertLinkedAccount(ctx context.Context, account *models.LinkedAccount) error {
	query := `
		INSERT INTO linked_accounts (discord_id, lichess_id, lichess_username, access_token, token_type, token_expiry, rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (discord_id)
		DO UPDATE SET
			lichess_id = EXCLUDED.lichess_id,
			lichess_username = EXCLUDED.lichess_username,
			access_token = EXCLUDED.access_token,
			token_type = EXCLUDED.token_type,
			token_expiry = EXCLUDED.token_expiry,
			rating = EXCLUDED.rating,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := db.QueryRowContext(ctx, query,
		int64(account.DiscordID),
		account.LichessID,
		account.LichessUsername,
		account.AccessToken,
		account.TokenType,
		account.TokenExpiry,
		account.Rating,
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert linked account: %w", err)
	}

	return nil
}

// GetLinkedAccount retrieves the link for a Discord user
func (db *DB) GetLinkedAccount(ctx context.Context, discordID uint64) (*models.LinkedAccount, error) {
	query := `
		SELECT discord_id, lichess_id, lichess_username, access_token, token_type, token_expiry, rating, created_at, updated_at
		FROM linked_accounts
		WHERE discord_id = $1
	`

	var rawID int64
	account := &models.LinkedAccount{}
	err := db.QueryRowContext(ctx, query, int64(discordID)).Scan(
		&rawID,
		&account.LichessID,
		&account.LichessUsername,
		&account.AccessToken,
		&account.TokenType,
		&account.TokenExpiry,
		&account.Rating,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}

	account.DiscordID = uint64(rawID)
	return account, nil
}

// UpdateRating stores the latest rating snapshot for a linked account
func (db *DB) UpdateRating(ctx context.Context, discordID uint64, rating sql.NullInt64) error {
	query := `
		UPDATE linked_accounts
		SET rating = $2, updated_at = NOW()
		WHERE discord_id = $1
	`

	result, err := db.ExecContext(ctx, query, int64(discordID), rating)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// DeleteLinkedAccount removes the link for a Discord user
func (db *DB) DeleteLinkedAccount(ctx context.Context, discordID uint64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM linked_accounts WHERE discord_id = $1`, int64(discordID))
	if err != nil {
		return fmt.Errorf("failed to delete linked account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
