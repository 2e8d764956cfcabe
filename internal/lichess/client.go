// Package lichess is a client for the parts of the Lichess API used to link accounts and read ratings.
package lichess

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/parsascontentcorner/liro/internal/ratelimit"
)

// Lichess asks clients to wait a full minute after a 429
const rateLimitBackoff = time.Minute

// APIError is a non-success response from Lichess
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lichess API %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Perf is the rating summary for one game speed
type Perf struct {
	Games       int  `json:"games"`
	Rating      int  `json:"rating"`
	Rd          int  `json:"rd"`
	Prog        int  `json:"prog"`
	Provisional bool `json:"prov"`
}

// Account is the authenticated user's Lichess profile
type Account struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Perfs    map[string]Perf `json:"perfs"`
	Disabled bool            `json:"disabled"`
	TOSViol  bool            `json:"tosViolation"`
}

// BestRating returns the highest established rating among perfs, in the given order for ties
func (a *Account) BestRating(perfs []string) (rating int, perf string, ok bool) {
	for _, name := range perfs {
		p, exists := a.Perfs[name]
		if !exists || p.Provisional || p.Games == 0 {
			continue
		}
		if !ok || p.Rating > rating {
			rating, perf, ok = p.Rating, name, true
		}
	}
	return rating, perf, ok
}

// OAuthConfig returns the OAuth2 configuration of a Lichess public client.
// Public clients have no secret and reading the account needs no scope.
func OAuthConfig(baseURL, clientID, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   baseURL + "/oauth",
			TokenURL:  baseURL + "/api/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Client talks to Lichess on behalf of linked users
type Client struct {
	oauth       *oauth2.Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger
}

// NewClient creates a Lichess client
func NewClient(baseURL, clientID, redirectURL string, logger *zap.Logger) *Client {
	return &Client{
		oauth:       OAuthConfig(baseURL, clientID, redirectURL),
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		rateLimiter: ratelimit.NewLichessLimiter(logger),
		logger:      logger,
	}
}

// SetHTTPClient replaces the HTTP client (used for testing)
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// ExchangeCode trades an authorization code and its PKCE verifier for an access token
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if err := c.rateLimiter.Wait(ctx, "POST /api/token"); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	c.logger.Debug("exchanged code for lichess token",
		zap.String("token_type", token.TokenType),
		zap.Time("expiry", token.Expiry),
	)

	return token, nil
}

// GetAccount fetches the profile of the token's owner
func (c *Client) GetAccount(ctx context.Context, accessToken string) (*Account, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/account", accessToken)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	var account Account
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to decode lichess account: %w", err)
	}

	c.logger.Debug("fetched lichess account",
		zap.String("lichess_id", account.ID),
		zap.String("username", account.Username),
	)

	return &account, nil
}

// do sends an authenticated request and returns the response when it is a 200
func (c *Client) do(ctx context.Context, method, path, accessToken string) (*http.Response, error) {
	route := method + " " + path
	if err := c.rateLimiter.Wait(ctx, route); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rateLimiter.HandleRateLimitResponse(route, resp.Header, rateLimitBackoff)
	}

	return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
}
