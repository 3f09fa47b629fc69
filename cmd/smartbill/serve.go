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

	"github.com/smartbill/smartbill/internal/config"
	"github.com/smartbill/smartbill/internal/db"
	"github.com/smartbill/smartbill/internal/dingtalk"
	"github.com/smartbill/smartbill/internal/handlers"
	"github.com/smartbill/smartbill/internal/invoices"
	"github.com/smartbill/smartbill/internal/logger"
	"github.com/smartbill/smartbill/internal/metrics"
	"github.com/smartbill/smartbill/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMetrics,
			provideDBConn,
			provideHTTPClient,
			provideConfigStore,
			provideInvoiceService,
			provideTokenBroker,
			provideAttachmentFetcher,
			provideURLFetcher,
			provideFileSink,
			provideRouter,
			provideDispatcher,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideDingTalkHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideInvoicesHandler),
			provideServer,
		),
		fx.Invoke(
			runMigrations,
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

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return config.Config{}, fmt.Errorf("auth.jwt_secret is required")
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideMetrics() *metrics.Metrics {
	return metrics.Registry("smartbill")
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.DingTalk.HTTPTimeout()}
}

func provideConfigStore(log *slog.Logger, conn *pgxpool.Pool) *dingtalk.Store {
	return dingtalk.NewStore(log, conn)
}

func provideInvoiceService(log *slog.Logger, conn *pgxpool.Pool) *invoices.Service {
	return invoices.NewService(log, conn)
}

func provideTokenBroker(log *slog.Logger, cfg config.Config, client *http.Client, m *metrics.Metrics) *dingtalk.TokenBroker {
	return dingtalk.NewTokenBroker(log, cfg.DingTalk.TokenEndpoint, client, m)
}

func provideAttachmentFetcher(log *slog.Logger, cfg config.Config, client *http.Client) *dingtalk.AttachmentFetcher {
	return dingtalk.NewAttachmentFetcher(log, cfg.DingTalk.DownloadEndpoint, client)
}

func provideURLFetcher(log *slog.Logger, cfg config.Config) *dingtalk.URLFetcher {
	return dingtalk.NewURLFetcher(log, cfg.DingTalk.HTTPTimeout(), cfg.DingTalk.MaxRedirects)
}

// invoiceCreatorAdapter hands stored attachments to the invoice service.
type invoiceCreatorAdapter struct {
	service *invoices.Service
}

func (a *invoiceCreatorAdapter) CreateInvoiceRecord(ctx context.Context, rec dingtalk.InvoiceRecord) (string, error) {
	return a.service.Create(ctx, invoices.CreateInvoiceInput{
		FileName:     rec.FileName,
		OriginalName: rec.OriginalName,
		FilePath:     rec.StoredPath,
		FileSize:     rec.SizeBytes,
		Source:       rec.SourceTag,
	})
}

func provideFileSink(log *slog.Logger, cfg config.Config, invoiceService *invoices.Service) *dingtalk.FileSink {
	return dingtalk.NewFileSink(log, cfg.DingTalk.UploadsDir, &invoiceCreatorAdapter{service: invoiceService})
}

func provideRouter(log *slog.Logger, tokens *dingtalk.TokenBroker, fetcher *dingtalk.AttachmentFetcher, sink *dingtalk.FileSink, store *dingtalk.Store, m *metrics.Metrics) *dingtalk.Router {
	return dingtalk.NewRouter(log, tokens, fetcher, sink, store, m)
}

func provideDispatcher(log *slog.Logger, cfg config.Config, m *metrics.Metrics) *dingtalk.Dispatcher {
	return dingtalk.NewDispatcher(log, cfg.DingTalk.HTTPTimeout(), m)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) (*handlers.AuthHandler, error) {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid auth.jwt_expires_in: %w", err)
	}
	return handlers.NewAuthHandler(log, cfg.Admin.Username, cfg.Admin.Password, cfg.Auth.JWTSecret, expiresIn)
}

func provideDingTalkHandler(log *slog.Logger, store *dingtalk.Store, sink *dingtalk.FileSink, urls *dingtalk.URLFetcher) *handlers.DingTalkHandler {
	return handlers.NewDingTalkHandler(log, store, sink, urls)
}

func provideWebhookHandler(log *slog.Logger, store *dingtalk.Store, router *dingtalk.Router, dispatcher *dingtalk.Dispatcher) *handlers.DingTalkWebhookHandler {
	return handlers.NewDingTalkWebhookHandler(log, store, router, dispatcher)
}

func provideInvoicesHandler(service *invoices.Service) *handlers.InvoicesHandler {
	return handlers.NewInvoicesHandler(service)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Logger, params.Handlers)
}

func runMigrations(cfg config.Config, log *slog.Logger) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
