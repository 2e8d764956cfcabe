// Package integration exercises the linking flow across the HTTP, chat and admin surfaces.
package integration

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/auth"
	"github.com/parsascontentcorner/liro/internal/commands"
	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/database"
	"github.com/parsascontentcorner/liro/internal/discord"
	grpcserver "github.com/parsascontentcorner/liro/internal/grpc"
	"github.com/parsascontentcorner/liro/internal/lichess"
	"github.com/parsascontentcorner/liro/internal/oauth"
	"github.com/parsascontentcorner/liro/internal/roles"
	"github.com/parsascontentcorner/liro/internal/store"
	"github.com/parsascontentcorner/liro/internal/testutil"
)

// stack is a fully wired liro instance backed by Postgres and fake Lichess and Discord APIs
type stack struct {
	db         *database.DB
	store      store.Store
	challenges *auth.Challenges
	cipher     *auth.TokenCipher
	manager    *roles.Manager
	router     *commands.Router
	http       *httptest.Server
	admin      *grpcserver.Server
	adminAddr  string
	lichess    *testutil.MockLichessServer
	discord    *testutil.MockDiscordServer
}

type stackOptions struct {
	challengeExpiry time.Duration
}

func setupStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()

	if testing.Short() {
		t.Skip("integration tests need Docker")
	}

	ctx := context.Background()
	logger := zap.NewNop()

	db, cleanup, err := testutil.SetupTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	mockLichess := testutil.NewMockLichessServer()
	t.Cleanup(mockLichess.Close)
	mockDiscord := testutil.NewMockDiscordServer()
	t.Cleanup(mockDiscord.Close)

	cfg := testutil.GenerateTestConfig()
	cfg.Lichess.BaseURL = mockLichess.URL()
	cfg.Discord.APIURL = mockDiscord.URL()
	cfg.Store.Backend = config.StoreBackendPostgres

	s, err := store.Open(ctx, cfg, db, logger)
	require.NoError(t, err)

	expiry := cfg.Security.ChallengeExpiry()
	if opts.challengeExpiry > 0 {
		expiry = opts.challengeExpiry
	}

	st := &stack{db: db, store: s, lichess: mockLichess, discord: mockDiscord}

	// The public URL is only known once the HTTP server is listening
	mux := http.NewServeMux()
	st.http = httptest.NewServer(mux)
	t.Cleanup(st.http.Close)

	endpoints := auth.Endpoints{
		PublicURL:       st.http.URL,
		LichessClientID: cfg.Lichess.ClientID,
		LichessURL:      cfg.Lichess.BaseURL,
	}
	st.challenges = auth.NewChallenges(s, endpoints, expiry, logger)

	st.cipher, err = auth.NewTokenCipher(cfg.Security.TokenEncryptionKey)
	require.NoError(t, err)

	discordClient := discord.NewClient(&cfg.Discord, logger)
	st.manager, err = roles.NewManager(discordClient, roles.DefaultTierConfig(), logger)
	require.NoError(t, err)

	lichessClient := lichess.NewClient(cfg.Lichess.BaseURL, cfg.Lichess.ClientID, endpoints.CallbackURL(), logger)
	linkHandler := auth.NewLinkHandler(st.challenges, lichessClient, db, st.manager, st.cipher, cfg.Lichess.RatingPerfs, logger)

	handlers := oauth.NewHandlers(st.challenges, linkHandler, s, logger)
	mux.Handle("/", oauth.NewRouter(handlers, logger))

	st.router = commands.NewRouter(commands.Deps{
		Discord:     discordClient,
		Challenges:  st.challenges,
		Accounts:    db,
		Lichess:     lichessClient,
		Roles:       st.manager,
		Cipher:      st.cipher,
		RatingPerfs: cfg.Lichess.RatingPerfs,
		BotUserID:   func() string { return "999" },
	}, cfg.Discord.CommandPrefixes, logger)

	lis, err := StartListener()
	require.NoError(t, err)
	st.admin = grpcserver.NewServerWithListener(grpcserver.NewAdminServer(db, st.manager, logger), lis, logger)
	st.adminAddr = lis.Addr().String()
	go func() { _ = st.admin.Serve() }()
	t.Cleanup(st.admin.Stop)

	return st
}

// StartListener opens a TCP listener on a random local port
func StartListener() (net.Listener, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return listener, nil
}

// noRedirectClient returns redirects to the caller instead of following them
func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
