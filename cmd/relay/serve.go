package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/snoutservices/relay/internal/account"
	"github.com/snoutservices/relay/internal/assignment"
	"github.com/snoutservices/relay/internal/audit"
	"github.com/snoutservices/relay/internal/client"
	"github.com/snoutservices/relay/internal/config"
	"github.com/snoutservices/relay/internal/db"
	"github.com/snoutservices/relay/internal/event"
	"github.com/snoutservices/relay/internal/handlers"
	"github.com/snoutservices/relay/internal/logger"
	"github.com/snoutservices/relay/internal/maintenance"
	"github.com/snoutservices/relay/internal/number"
	"github.com/snoutservices/relay/internal/policy"
	"github.com/snoutservices/relay/internal/provider"
	"github.com/snoutservices/relay/internal/provider/twilio"
	"github.com/snoutservices/relay/internal/routing"
	"github.com/snoutservices/relay/internal/server"
	"github.com/snoutservices/relay/internal/thread"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideProviderClient,
			number.NewService,
			client.NewService,
			thread.NewService,
			assignment.NewService,
			event.NewService,
			policy.NewStore,
			audit.NewService,
			account.NewService,
			provideEngine,
			provideSweeper,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideThreadsHandler),
			provideServerHandler(provideModerationHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideProviderClient(log *slog.Logger, cfg config.Config) provider.Client {
	return twilio.New(log, cfg.Twilio)
}

func provideEngine(
	log *slog.Logger,
	cfg config.Config,
	numbers *number.Service,
	clients *client.Service,
	threads *thread.Service,
	windows *assignment.Service,
	events *event.Service,
	violations *policy.Store,
	auditService *audit.Service,
	providerClient provider.Client,
) *routing.Engine {
	return routing.NewEngine(log, cfg.Messaging, numbers, clients, threads, windows, events, violations, auditService, providerClient)
}

func provideSweeper(log *slog.Logger, cfg config.Config, windows *assignment.Service, numbers *number.Service) *maintenance.Sweeper {
	return maintenance.NewSweeper(log, cfg.Maintenance, windows, numbers)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideAuthHandler(log *slog.Logger, accounts *account.Service, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, accounts, cfg.Auth.JWTSecret, jwtExpiresIn(cfg))
}

func provideWebhookHandler(log *slog.Logger, providerClient provider.Client, engine *routing.Engine, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, providerClient, engine, cfg.Twilio)
}

func provideThreadsHandler(log *slog.Logger, threads *thread.Service, events *event.Service, windows *assignment.Service, numbers *number.Service) *handlers.ThreadsHandler {
	return handlers.NewThreadsHandler(log, threads, events, windows, numbers)
}

func provideModerationHandler(log *slog.Logger, violations *policy.Store, auditService *audit.Service) *handlers.ModerationHandler {
	return handlers.NewModerationHandler(log, violations, auditService)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Logger, params.Handlers)
}

func startSweeper(lc fx.Lifecycle, sweeper *maintenance.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, accounts *account.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdminAccount(ctx, log, accounts, cfg); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func ensureAdminAccount(ctx context.Context, log *slog.Logger, accounts *account.Service, cfg config.Config) error {
	count, err := accounts.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	username := strings.TrimSpace(cfg.Admin.Username)
	password := strings.TrimSpace(cfg.Admin.Password)
	if username == "" || password == "" {
		return fmt.Errorf("admin username/password required in config.toml")
	}
	if password == "change-your-password-here" {
		log.Warn("admin password uses default placeholder; please update config.toml")
	}
	if _, err := accounts.Create(ctx, username, strings.TrimSpace(cfg.Admin.Email), password, "admin"); err != nil {
		return fmt.Errorf("create admin account: %w", err)
	}
	log.Info("admin account created", slog.String("username", username))
	return nil
}

func jwtExpiresIn(cfg config.Config) time.Duration {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil || expiresIn <= 0 {
		return 24 * time.Hour
	}
	return expiresIn
}
