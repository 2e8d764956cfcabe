package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parsascontentcorner/liro/internal/auth"
	"github.com/parsascontentcorner/liro/internal/commands"
	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/database"
	"github.com/parsascontentcorner/liro/internal/discord"
	"github.com/parsascontentcorner/liro/internal/gateway"
	grpcserver "github.com/parsascontentcorner/liro/internal/grpc"
	"github.com/parsascontentcorner/liro/internal/lichess"
	"github.com/parsascontentcorner/liro/internal/oauth"
	"github.com/parsascontentcorner/liro/internal/roles"
	"github.com/parsascontentcorner/liro/internal/store"
	"github.com/parsascontentcorner/liro/pkg/logger"
)

const (
	shutdownTimeout   = 10 * time.Second
	kvCleanupInterval = 30 * time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the linking web server and the admin gRPC server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// setup loads configuration and builds the root logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

func runServe(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		// Sync errors on stdout/stderr are expected for non-syncable file descriptors
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting liro",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Env),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("grpc_port", cfg.Server.GRPCPort),
		zap.String("store_backend", cfg.Store.Backend),
	)

	// Database
	db, err := database.NewDB(&cfg.Database, logger.Component(log, "database"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database connection", zap.Error(err))
		}
	}()

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	db.StartCleanupJob(ctx, kvCleanupInterval)

	// Challenge store
	kv, err := store.Open(ctx, cfg, db, logger.Component(log, "store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	cipher, err := auth.NewTokenCipher(cfg.Security.TokenEncryptionKey)
	if err != nil {
		return err
	}

	// Role manager
	tierCfg := roles.DefaultTierConfig()
	if cfg.Roles.ConfigPath != "" {
		if tierCfg, err = roles.LoadTierConfig(cfg.Roles.ConfigPath); err != nil {
			return err
		}
	}

	discordClient := discord.NewClient(&cfg.Discord, logger.Component(log, "discord"))
	manager, err := roles.NewManager(discordClient, tierCfg, logger.Component(log, "roles"))
	if err != nil {
		return err
	}

	// Linking
	endpoints := auth.Endpoints{
		PublicURL:       cfg.Server.PublicURL,
		LichessClientID: cfg.Lichess.ClientID,
		LichessURL:      cfg.Lichess.BaseURL,
	}
	challenges := auth.NewChallenges(kv, endpoints, cfg.Security.ChallengeExpiry(), logger.Component(log, "challenges"))
	lichessClient := lichess.NewClient(cfg.Lichess.BaseURL, cfg.Lichess.ClientID, endpoints.CallbackURL(), logger.Component(log, "lichess"))
	linkHandler := auth.NewLinkHandler(challenges, lichessClient, db, manager, cipher, cfg.Lichess.RatingPerfs, logger.Component(log, "link"))

	// Servers
	httpLog := logger.Component(log, "http")
	httpServer := oauth.NewServer(oauth.NewHandlers(challenges, linkHandler, kv, httpLog), cfg.Server.HTTPPort, httpLog)

	grpcLog := logger.Component(log, "grpc")
	grpcServer, err := grpcserver.NewServer(grpcserver.NewAdminServer(db, manager, grpcLog), cfg.Server.GRPCPort, grpcLog)
	if err != nil {
		return err
	}

	// Bot
	var gw *gateway.Gateway
	router := commands.NewRouter(commands.Deps{
		Discord:     discordClient,
		Challenges:  challenges,
		Accounts:    db,
		Lichess:     lichessClient,
		Roles:       manager,
		Cipher:      cipher,
		RatingPerfs: cfg.Lichess.RatingPerfs,
		BotUserID: func() string {
			if gw == nil {
				return ""
			}
			return gw.BotUserID()
		},
	}, cfg.Discord.CommandPrefixes, logger.Component(log, "commands"))

	if cfg.Discord.GatewayEnabled {
		gatewayURL := gateway.DefaultURL
		if info, err := discordClient.GatewayBot(ctx); err != nil {
			log.Warn("failed to look up gateway url, using default", zap.Error(err))
		} else if info.URL != "" {
			gatewayURL = info.URL
		}

		gw = gateway.New(gateway.Config{
			Token: cfg.Discord.BotToken,
			URL:   gatewayURL,
		}, router, logger.Component(log, "gateway"))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Serve)
	g.Go(grpcServer.Serve)

	if gw != nil {
		g.Go(func() error { return gw.Run(gctx) })
	} else {
		log.Info("discord gateway disabled, chat commands are off")
	}

	if cfg.Roles.WatchConfig {
		watcher := roles.NewWatcher(cfg.Roles.ConfigPath, manager, logger.Component(log, "roles"))
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown HTTP server gracefully", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("servers shut down successfully")
	return nil
}
