// Package auth links Discord accounts to Lichess accounts through the OAuth2
// authorization code flow with PKCE.
package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/parsascontentcorner/liro/internal/lichess"
	"github.com/parsascontentcorner/liro/internal/store"
)

// Defaults used when a Challenge is not bound to a Challenges service
const (
	DefaultPublicURL       = "http://localhost:8000"
	DefaultLichessClientID = "liro-bot-test"
	DefaultLichessURL      = "https://lichess.org"
)

const (
	challengeKeyPrefix = "challenges:"
	verifierRandBytes  = 96 // 128 base64url characters, the PKCE maximum
)

var (
	// ErrChallengeNotFound is returned when no challenge exists for an id
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired is returned for challenges older than the linking window
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrCorruptChallenge is returned when a stored challenge cannot be decoded
	ErrCorruptChallenge = errors.New("corrupt challenge record")
	// ErrInvalidVerifier is returned when a stored code verifier is not valid PKCE text
	ErrInvalidVerifier = errors.New("invalid code verifier")
)

// Endpoints describes where linking URLs point
type Endpoints struct {
	PublicURL       string
	LichessClientID string
	LichessURL      string
}

func defaultEndpoints() *Endpoints {
	return &Endpoints{
		PublicURL:       DefaultPublicURL,
		LichessClientID: DefaultLichessClientID,
		LichessURL:      DefaultLichessURL,
	}
}

// CallbackURL is the redirect URI registered with Lichess
func (e *Endpoints) CallbackURL() string {
	return e.PublicURL + "/oauth/callback"
}

// OAuthConfig returns the Lichess OAuth2 client configuration for these endpoints
func (e *Endpoints) OAuthConfig() *oauth2.Config {
	return lichess.OAuthConfig(e.LichessURL, e.LichessClientID, e.CallbackURL())
}

// Challenge is one pending attempt to link a Discord account to Lichess.
// Its id doubles as the OAuth state parameter. Challenges are never modified after creation.
type Challenge struct {
	ID           uint64       `json:"id"`
	AccountID    uint64       `json:"discord_id"`
	GuildID      uint64       `json:"guild_id,omitempty"`
	CodeVerifier verifierText `json:"code_verifier"`
	CreatedAt    time.Time    `json:"created_at"`

	endpoints *Endpoints
}

// verifierText is serialized as a JSON string. Older records stored it as an array of byte values,
// which is accepted on decode.
type verifierText []byte

func (v verifierText) MarshalJSON() ([]byte, error) {
	if !utf8.Valid(v) {
		return json.Marshal(bytesToInts(v))
	}
	return json.Marshal(string(v))
}

func (v *verifierText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return fmt.Errorf("failed to decode verifier byte array: %w", err)
		}
		raw := make([]byte, len(ints))
		for i, n := range ints {
			if n < 0 || n > 255 {
				return fmt.Errorf("verifier byte %d out of range: %d", i, n)
			}
			raw[i] = byte(n)
		}
		*v = raw
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode verifier string: %w", err)
	}
	*v = verifierText(s)
	return nil
}

func bytesToInts(b []byte) []int {
	out := make([]int, len(b))
	for i, c := range b {
		out[i] = int(c)
	}
	return out
}

// Key returns the store key for a challenge id
func Key(id uint64) string {
	return challengeKeyPrefix + strconv.FormatUint(id, 10)
}

// ParseState parses the OAuth state parameter back into a challenge id
func ParseState(state string) (uint64, error) {
	id, err := strconv.ParseUint(state, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid state %q: %w", state, err)
	}
	return id, nil
}

func (c *Challenge) urls() *Endpoints {
	if c.endpoints == nil {
		return defaultEndpoints()
	}
	return c.endpoints
}

// State returns the OAuth state parameter
func (c *Challenge) State() string {
	return strconv.FormatUint(c.ID, 10)
}

// Link returns the URL the user opens to start linking
func (c *Challenge) Link() string {
	return fmt.Sprintf("%s/connect/lichess/%d", c.urls().PublicURL, c.ID)
}

// CodeChallenge returns the S256 PKCE challenge for the stored verifier
func (c *Challenge) CodeChallenge() string {
	return oauth2.S256ChallengeFromVerifier(string(c.CodeVerifier))
}

// AuthorizationURL returns the Lichess authorization URL. It never includes the verifier.
func (c *Challenge) AuthorizationURL() string {
	cfg := c.urls().OAuthConfig()
	return cfg.AuthCodeURL(c.State(), oauth2.S256ChallengeOption(string(c.CodeVerifier)))
}

// Verifier returns the code verifier as text, or ErrInvalidVerifier when the
// stored bytes are not a valid PKCE verifier (RFC 7636 section 4.1).
func (c *Challenge) Verifier() (string, error) {
	if !utf8.Valid(c.CodeVerifier) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidVerifier)
	}
	if n := len(c.CodeVerifier); n < 43 || n > 128 {
		return "", fmt.Errorf("%w: length %d outside 43-128", ErrInvalidVerifier, n)
	}
	for _, b := range c.CodeVerifier {
		if !isUnreserved(b) {
			return "", fmt.Errorf("%w: character %q not allowed", ErrInvalidVerifier, b)
		}
	}
	return string(c.CodeVerifier), nil
}

func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-', b == '.', b == '_', b == '~':
		return true
	}
	return false
}

// String identifies the challenge without leaking the verifier
func (c *Challenge) String() string {
	return fmt.Sprintf("Challenge<id=%d, account_id=%d>", c.ID, c.AccountID)
}

// Challenges creates and resolves linking challenges in a key-value store
type Challenges struct {
	store     store.Store
	endpoints *Endpoints
	expiry    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewChallenges creates a challenge service. expiry bounds how long a challenge stays usable.
func NewChallenges(s store.Store, endpoints Endpoints, expiry time.Duration, logger *zap.Logger) *Challenges {
	return &Challenges{
		store:     s,
		endpoints: &endpoints,
		expiry:    expiry,
		now:       time.Now,
		logger:    logger,
	}
}

// Endpoints returns the URLs this service builds links with
func (cs *Challenges) Endpoints() Endpoints {
	return *cs.endpoints
}

// Create starts a linking attempt for accountID. guildID is zero for direct messages.
func (cs *Challenges) Create(ctx context.Context, accountID, guildID uint64) (*Challenge, error) {
	id, err := randomID()
	if err != nil {
		return nil, err
	}

	verifier, err := generateVerifier()
	if err != nil {
		return nil, err
	}

	challenge := &Challenge{
		ID:           id,
		AccountID:    accountID,
		GuildID:      guildID,
		CodeVerifier: verifierText(verifier),
		CreatedAt:    cs.now().UTC(),
		endpoints:    cs.endpoints,
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := cs.store.Set(ctx, Key(id), string(payload), cs.expiry); err != nil {
		cs.logger.Error("failed to save challenge",
			zap.Uint64("challenge_id", id),
			zap.Uint64("account_id", accountID),
			zap.Error(err),
		)
		return nil, err
	}

	cs.logger.Info("challenge created",
		zap.Uint64("challenge_id", id),
		zap.Uint64("account_id", accountID),
		zap.Uint64("guild_id", guildID),
	)

	return challenge, nil
}

// Find resolves a challenge by id
func (cs *Challenges) Find(ctx context.Context, id uint64) (*Challenge, error) {
	payload, err := cs.store.Get(ctx, Key(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}

	var challenge Challenge
	if err := json.Unmarshal([]byte(payload), &challenge); err != nil {
		cs.logger.Warn("corrupt challenge record", zap.Uint64("challenge_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCorruptChallenge, err)
	}
	if challenge.ID != id {
		cs.logger.Warn("challenge record id mismatch",
			zap.Uint64("challenge_id", id),
			zap.Uint64("record_id", challenge.ID),
		)
		return nil, fmt.Errorf("%w: record id %d under key for %d", ErrCorruptChallenge, challenge.ID, id)
	}

	if challenge.CreatedAt.IsZero() || cs.now().Sub(challenge.CreatedAt) > cs.expiry {
		return nil, ErrChallengeExpired
	}

	challenge.endpoints = cs.endpoints
	return &challenge, nil
}

func randomID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate challenge id: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func generateVerifier() (string, error) {
	b := make([]byte, verifierRandBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
