package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/parsascontentcorner/liro/internal/lichess"
	"github.com/parsascontentcorner/liro/internal/models"
	"github.com/parsascontentcorner/liro/internal/roles"
)

// Callback failure classes. Every error returned by HandleCallback wraps exactly one.
var (
	ErrSessionInvalid  = errors.New("linking session is invalid or expired")
	ErrInternal        = errors.New("internal error while linking")
	ErrExternalService = errors.New("external service failed while linking")
)

// LichessAPI is the part of the Lichess client used to complete a link
type LichessAPI interface {
	ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	GetAccount(ctx context.Context, accessToken string) (*lichess.Account, error)
}

// AccountRepository persists linked accounts
type AccountRepository interface {
	UpsertLinkedAccount(ctx context.Context, account *models.LinkedAccount) error
}

// RoleSyncer applies rating tiers to guild members
type RoleSyncer interface {
	SyncRole(ctx context.Context, guildID, userID uint64, rating int) (*roles.SyncResult, error)
	ClearRoles(ctx context.Context, guildID, userID uint64) (*roles.SyncResult, error)
}

// LinkResult describes a completed link
type LinkResult struct {
	AccountID       uint64
	GuildID         uint64
	LichessUsername string
	Rating          int
	Perf            string
	Rated           bool
	Tier            string
	// RoleSyncErr is set when the link was stored but the guild role could not be updated
	RoleSyncErr error
}

// LinkHandler completes linking when Lichess redirects back to the callback
type LinkHandler struct {
	challenges  *Challenges
	lichess     LichessAPI
	accounts    AccountRepository
	roles       RoleSyncer
	cipher      *TokenCipher
	ratingPerfs []string
	logger      *zap.Logger
}

// NewLinkHandler creates a link handler
func NewLinkHandler(challenges *Challenges, lichessAPI LichessAPI, accounts AccountRepository, roleSyncer RoleSyncer, cipher *TokenCipher, ratingPerfs []string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		challenges:  challenges,
		lichess:     lichessAPI,
		accounts:    accounts,
		roles:       roleSyncer,
		cipher:      cipher,
		ratingPerfs: ratingPerfs,
		logger:      logger,
	}
}

// HandleCallback resolves the challenge named by state, exchanges code with its verifier,
// stores the linked account and syncs the guild role when the challenge came from a guild.
func (lh *LinkHandler) HandleCallback(ctx context.Context, code, state string) (*LinkResult, error) {
	// 1. Resolve the challenge
	id, err := ParseState(state)
	if err != nil {
		lh.logger.Warn("callback with malformed state", zap.String("state", state))
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	logger := lh.logger.With(zap.Uint64("challenge_id", id))

	challenge, err := lh.challenges.Find(ctx, id)
	switch {
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
		logger.Info("callback for unknown or expired challenge", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	case err != nil:
		logger.Error("failed to load challenge", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	logger = logger.With(zap.Uint64("account_id", challenge.AccountID))

	verifier, err := challenge.Verifier()
	if err != nil {
		logger.Error("challenge has an unusable verifier", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	// 2. Exchange the code
	token, err := lh.lichess.ExchangeCode(ctx, code, verifier)
	if err != nil {
		logger.Error("failed to exchange code", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}

	// 3. Fetch the Lichess account
	account, err := lh.lichess.GetAccount(ctx, token.AccessToken)
	if err != nil {
		logger.Error("failed to fetch lichess account", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}

	result := &LinkResult{
		AccountID:       challenge.AccountID,
		GuildID:         challenge.GuildID,
		LichessUsername: account.Username,
	}
	result.Rating, result.Perf, result.Rated = account.BestRating(lh.ratingPerfs)

	// 4. Store the link with the token encrypted
	encrypted, err := lh.cipher.Encrypt(token.AccessToken)
	if err != nil {
		logger.Error("failed to encrypt access token", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	linked := &models.LinkedAccount{
		DiscordID:       challenge.AccountID,
		LichessID:       account.ID,
		LichessUsername: account.Username,
		AccessToken:     encrypted,
		TokenType:       token.Type(),
	}
	if !token.Expiry.IsZero() {
		linked.TokenExpiry = sql.NullTime{Time: token.Expiry, Valid: true}
	}
	if result.Rated {
		linked.Rating = sql.NullInt64{Int64: int64(result.Rating), Valid: true}
	}

	if err := lh.accounts.UpsertLinkedAccount(ctx, linked); err != nil {
		logger.Error("failed to store linked account", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	logger.Info("lichess account linked",
		zap.String("lichess_id", account.ID),
		zap.String("lichess_username", account.Username),
		zap.Bool("rated", result.Rated),
		zap.Int("rating", result.Rating),
	)

	// 5. Sync the guild role; failures here do not undo the link
	if challenge.GuildID != 0 {
		lh.syncRole(ctx, logger, challenge, result)
	}

	return result, nil
}

func (lh *LinkHandler) syncRole(ctx context.Context, logger *zap.Logger, challenge *Challenge, result *LinkResult) {
	var (
		synced *roles.SyncResult
		err    error
	)
	if result.Rated {
		synced, err = lh.roles.SyncRole(ctx, challenge.GuildID, challenge.AccountID, result.Rating)
	} else {
		synced, err = lh.roles.ClearRoles(ctx, challenge.GuildID, challenge.AccountID)
	}

	if err != nil {
		logger.Warn("linked account but failed to sync guild role",
			zap.Uint64("guild_id", challenge.GuildID),
			zap.Error(err),
		)
		result.RoleSyncErr = err
		return
	}

	result.Tier = synced.Tier
}
