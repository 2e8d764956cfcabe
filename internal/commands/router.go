// Package commands answers the bot's chat commands.
package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/auth"
	"github.com/parsascontentcorner/liro/internal/database"
	"github.com/parsascontentcorner/liro/internal/discord"
	"github.com/parsascontentcorner/liro/internal/lichess"
	"github.com/parsascontentcorner/liro/internal/models"
)

// Replier posts messages to a channel
type Replier interface {
	SendMessage(ctx context.Context, channelID, content, replyTo string) (*discord.Message, error)
}

// ChallengeCreator starts linking attempts
type ChallengeCreator interface {
	Create(ctx context.Context, accountID, guildID uint64) (*auth.Challenge, error)
}

// AccountStore reads and refreshes linked accounts
type AccountStore interface {
	GetLinkedAccount(ctx context.Context, discordID uint64) (*models.LinkedAccount, error)
	UpdateRating(ctx context.Context, discordID uint64, rating sql.NullInt64) error
}

// LichessAccounts fetches the Lichess profile behind a token
type LichessAccounts interface {
	GetAccount(ctx context.Context, accessToken string) (*lichess.Account, error)
}

// TokenDecrypter recovers stored access tokens
type TokenDecrypter interface {
	Decrypt(encoded string) (string, error)
}

// Deps are the services commands act on
type Deps struct {
	Discord     Replier
	Challenges  ChallengeCreator
	Accounts    AccountStore
	Lichess     LichessAccounts
	Roles       auth.RoleSyncer
	Cipher      TokenDecrypter
	RatingPerfs []string
	// BotUserID returns the bot's user id for mention commands. May be nil.
	BotUserID func() string
}

// Router dispatches messages to command handlers
type Router struct {
	deps   Deps
	parser *Parser
	prefix string
	logger *zap.Logger
}

// NewRouter creates a command router. The first prefix is the one shown in help texts.
func NewRouter(deps Deps, prefixes []string, logger *zap.Logger) *Router {
	prefix := "ohnomy"
	if len(prefixes) > 0 {
		prefix = prefixes[0]
	}

	return &Router{
		deps:   deps,
		parser: NewParser(prefixes),
		prefix: prefix,
		logger: logger,
	}
}

// HandleMessage answers msg when it is a command. Messages from bots are ignored.
func (r *Router) HandleMessage(ctx context.Context, msg *discord.Message) {
	if msg.Author.Bot {
		return
	}

	var botID string
	if r.deps.BotUserID != nil {
		botID = r.deps.BotUserID()
	}

	inv, ok := r.parser.Parse(msg.Content, botID)
	if !ok {
		return
	}

	logger := r.logger.With(
		zap.String("command", inv.Name),
		zap.String("author_id", msg.Author.ID),
		zap.String("channel_id", msg.ChannelID),
		zap.String("guild_id", msg.GuildID),
	)
	logger.Debug("command received")

	var reply string
	replyTo := msg.ID
	switch inv.Name {
	case "ping":
		reply = "Pong!"
	case "help":
		reply = r.help()
	case "account":
		reply = r.account(ctx, logger, msg)
	case "rating":
		reply = r.rating(ctx, logger, msg)
	default:
		reply = fmt.Sprintf("Could not understand command `%s`. Please see `%s help` for more information", inv.Name, r.prefix)
		replyTo = ""
	}

	if _, err := r.deps.Discord.SendMessage(ctx, msg.ChannelID, reply, replyTo); err != nil {
		logger.Error("unable to send response to channel", zap.Error(err))
	}
}

func (r *Router) help() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commands start with `%s` or a mention of me:\n", r.prefix)
	b.WriteString("`ping` - check that I am online\n")
	b.WriteString("`help` - show this message\n")
	b.WriteString("`account` - link your Lichess account\n")
	b.WriteString("`rating` - refresh your Lichess rating and rating role")
	return b.String()
}

func (r *Router) account(ctx context.Context, logger *zap.Logger, msg *discord.Message) string {
	userID, guildID, err := ids(msg)
	if err != nil {
		logger.Warn("message with malformed ids", zap.Error(err))
		return "Something went wrong. Please try again later."
	}

	existing, err := r.deps.Accounts.GetLinkedAccount(ctx, userID)
	if err != nil && !errors.Is(err, database.ErrAccountNotFound) {
		logger.Error("failed to look up linked account", zap.Error(err))
		return "Something went wrong looking up your account. Please try again later."
	}

	challenge, err := r.deps.Challenges.Create(ctx, userID, guildID)
	if err != nil {
		logger.Error("failed to create challenge", zap.Error(err))
		return "Something went wrong creating your link. Please try again later."
	}

	if existing != nil {
		return fmt.Sprintf("You are linked to Lichess user **%s**. To link a different account, open %s", existing.LichessUsername, challenge.Link())
	}
	return fmt.Sprintf("Open %s to link your Lichess account.", challenge.Link())
}

func (r *Router) rating(ctx context.Context, logger *zap.Logger, msg *discord.Message) string {
	userID, guildID, err := ids(msg)
	if err != nil {
		logger.Warn("message with malformed ids", zap.Error(err))
		return "Something went wrong. Please try again later."
	}

	linked, err := r.deps.Accounts.GetLinkedAccount(ctx, userID)
	if errors.Is(err, database.ErrAccountNotFound) {
		return fmt.Sprintf("You have not linked a Lichess account yet. Use `%s account` to link one.", r.prefix)
	}
	if err != nil {
		logger.Error("failed to look up linked account", zap.Error(err))
		return "Something went wrong looking up your account. Please try again later."
	}

	relink := fmt.Sprintf("Your Lichess authorization is no longer valid. Use `%s account` to link again.", r.prefix)
	if linked.IsTokenExpired() {
		return relink
	}

	token, err := r.deps.Cipher.Decrypt(linked.AccessToken)
	if err != nil {
		logger.Error("failed to decrypt access token", zap.Error(err))
		return relink
	}

	account, err := r.deps.Lichess.GetAccount(ctx, token)
	if err != nil {
		var apiErr *lichess.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return relink
		}
		logger.Warn("failed to fetch lichess account", zap.Error(err))
		return "Lichess is not responding right now. Please try again in a few minutes."
	}

	rating, perf, rated := account.BestRating(r.deps.RatingPerfs)
	snapshot := sql.NullInt64{Int64: int64(rating), Valid: rated}
	if err := r.deps.Accounts.UpdateRating(ctx, userID, snapshot); err != nil {
		logger.Warn("failed to store rating", zap.Error(err))
	}

	var reply string
	if rated {
		reply = fmt.Sprintf("**%s** is rated %d in %s.", account.Username, rating, perf)
	} else {
		reply = fmt.Sprintf("**%s** has no established rating in %s yet.", account.Username, strings.Join(r.deps.RatingPerfs, ", "))
	}

	// Roles only exist in guilds
	if guildID == 0 {
		return reply
	}

	tier, err := r.syncRole(ctx, guildID, userID, rating, rated)
	if err != nil {
		logger.Warn("failed to sync guild role", zap.Error(err))
		return reply + " I could not update your rating role right now."
	}
	if tier != "" {
		reply += fmt.Sprintf(" Tier: %s.", tier)
	}
	return reply
}

// syncRole returns the tier now held, empty when the member holds none
func (r *Router) syncRole(ctx context.Context, guildID, userID uint64, rating int, rated bool) (string, error) {
	if !rated {
		_, err := r.deps.Roles.ClearRoles(ctx, guildID, userID)
		return "", err
	}

	synced, err := r.deps.Roles.SyncRole(ctx, guildID, userID, rating)
	if err != nil {
		return "", err
	}
	return synced.Tier, nil
}

func ids(msg *discord.Message) (userID, guildID uint64, err error) {
	userID, err = discord.ParseSnowflake(msg.Author.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid author id %q: %w", msg.Author.ID, err)
	}
	if msg.IsDirect() {
		return userID, 0, nil
	}

	guildID, err = discord.ParseSnowflake(msg.GuildID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid guild id %q: %w", msg.GuildID, err)
	}
	return userID, guildID, nil
}
