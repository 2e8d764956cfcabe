// Package discord is a bot-token client for the Discord REST API.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/ratelimit"
)

// APIError is a non-success response from Discord
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("discord API %s %s returned status %d: %s (code %d)", e.Method, e.Path, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("discord API %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether err is a Discord 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the Discord API as the bot
type Client struct {
	baseURL     string
	botToken    string
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger
}

// NewClient creates a Discord REST client
func NewClient(cfg *config.DiscordConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     cfg.APIURL,
		botToken:    cfg.BotToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		rateLimiter: ratelimit.NewDiscordLimiter(logger),
		logger:      logger,
	}
}

// SetBaseURL sets the base URL for the Discord API (used for testing)
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// GuildRoles lists the roles of a guild
func (c *Client) GuildRoles(ctx context.Context, guildID uint64) ([]Role, error) {
	var roles []Role
	path := fmt.Sprintf("/guilds/%d/roles", guildID)
	if err := c.do(ctx, http.MethodGet, "/guilds/{guild}/roles", path, nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateRole creates a guild role with no permissions
func (c *Client) CreateRole(ctx context.Context, guildID uint64, name string) (*Role, error) {
	body := map[string]any{
		"name":        name,
		"permissions": "0",
		"mentionable": false,
	}

	var role Role
	path := fmt.Sprintf("/guilds/%d/roles", guildID)
	if err := c.do(ctx, http.MethodPost, "/guilds/{guild}/roles", path, body, &role); err != nil {
		return nil, err
	}

	c.logger.Info("created guild role",
		zap.Uint64("guild_id", guildID),
		zap.String("role_id", role.ID),
		zap.String("role_name", role.Name),
	)
	return &role, nil
}

// GuildMember fetches a member of a guild
func (c *Client) GuildMember(ctx context.Context, guildID, userID uint64) (*Member, error) {
	var member Member
	path := fmt.Sprintf("/guilds/%d/members/%d", guildID, userID)
	if err := c.do(ctx, http.MethodGet, "/guilds/{guild}/members/{user}", path, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// AddMemberRole grants a role to a member
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID uint64, roleID string) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%s", guildID, userID, url.PathEscape(roleID))
	return c.do(ctx, http.MethodPut, "/guilds/{guild}/members/{user}/roles/{role}", path, nil, nil)
}

// RemoveMemberRole revokes a role from a member
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID uint64, roleID string) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%s", guildID, userID, url.PathEscape(roleID))
	return c.do(ctx, http.MethodDelete, "/guilds/{guild}/members/{user}/roles/{role}", path, nil, nil)
}

// SendMessage posts a message to a channel, as a reply when replyTo is set
func (c *Client) SendMessage(ctx context.Context, channelID, content, replyTo string) (*Message, error) {
	body := MessageCreate{Content: content}
	if replyTo != "" {
		body.MessageReference = &MessageReference{MessageID: replyTo, ChannelID: channelID}
	}

	var msg Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, "/channels/{channel}/messages", path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GatewayBot returns the gateway URL and session limits for the bot
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBot, error) {
	var gw GatewayBot
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", "/gateway/bot", nil, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

// do makes a rate-limited bot request. route keys the rate limit bucket.
// out may be nil for endpoints that answer 204.
func (c *Client) do(ctx context.Context, method, route, path string, body, out any) error {
	bucket := method + " " + route
	if err := c.rateLimiter.Wait(ctx, bucket); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Bot tokens use the "Bot" prefix, not "Bearer"
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/parsascontentcorner/liro, 1.0)")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	c.rateLimiter.UpdateFromHeaders(bucket, resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rateLimiter.HandleRateLimitResponse(bucket, resp.Header, 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
