// Storefront API server: catalog, carts, accounts and orders for the coffee
// shop. Designed for Cloud Run deployment; state lives in the blob backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/auth"
	"storefront/internal/blob"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/handler"
	storemail "storefront/internal/mail"
	"storefront/internal/middleware"
	"storefront/internal/order"
	"storefront/internal/retry"
	"storefront/internal/sheets"
)

// Sign-in endpoints allow a short burst, then ten attempts a minute per IP.
const (
	authPerMinute = 10
	authBurst     = 5
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("spreadsheet_id", cfg.SpreadsheetID),
	)

	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	defer closeBlobs()

	source, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   cfg.SpreadsheetID,
		Range:           cfg.SheetRange,
		APIKey:          cfg.Secrets.SheetsAPIKey,
		CredentialsJSON: []byte(cfg.Secrets.SheetsCredentials),
	})
	if err != nil {
		return fmt.Errorf("creating sheets source: %w", err)
	}

	cache := catalog.NewCache(catalog.DefaultTaxonomy().WithSynonyms(cfg.CategorySynonyms))
	syncer := catalog.NewSyncer(source, cache, retry.Policy{
		MaxAttempts: cfg.SyncMaxAttempts,
		MinDelay:    cfg.SyncMinDelay,
		MaxDelay:    cfg.SyncMaxDelay,
	}, logger)

	issuer, err := auth.NewIssuer([]byte(cfg.Secrets.SessionSecret), "storefront", cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating session issuer: %w", err)
	}

	mailer, err := createMailer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}
	partner, err := createPartner(cfg)
	if err != nil {
		return fmt.Errorf("creating fulfillment partner: %w", err)
	}

	carts := cart.NewStore(blobs, logger)
	h := handler.New(handler.Deps{
		Cache:  cache,
		Syncer: syncer,
		Carts:  carts,
		Accounts: auth.NewService(blobs, issuer, mailer, logger, auth.Options{
			BaseURL:     cfg.BaseURL,
			AdminEmails: cfg.AdminEmails,
		}),
		Sessions:      issuer,
		Guests:        auth.NewGuestCookies([]byte(cfg.Secrets.CookieSecret), cfg.IsProduction()),
		Orders:        order.NewService(blobs, carts, partner, mailer, logger),
		Logger:        logger,
		WebhookSecret: cfg.Secrets.WebhookSecret,
		Production:    cfg.IsProduction(),
		AuthLimiter:   middleware.NewRateLimiter(authPerMinute, authBurst, "sign-in").TrustProxies(cfg.TrustedProxyHops),
	})

	// The catalog starts empty when the sheet is unreachable; the next
	// webhook or admin sync fills it.
	if res, err := syncer.SyncWithRetry(ctx); err != nil {
		logger.Error("initial catalog sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial catalog sync complete",
			slog.Int("products", res.Products),
			slog.Int("groups", res.Groups),
		)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery is outermost so it also catches panics from logging.
	// RequestID runs before Logging so every log line carries the id.
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Session(issuer),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openBlobStore connects the configured backend. The returned func releases
// its connections.
func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, func(), error) {
	switch cfg.BlobBackend {
	case config.BackendRedis:
		client, err := blob.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return blob.NewRedisStore(client, "storefront:"), func() { client.Close() }, nil
	case config.BackendPostgres:
		pool, err := blob.NewPostgresPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := blob.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case config.BackendMemory:
		return blob.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported blob backend: %s", cfg.BlobBackend)
	}
}

func createMailer(cfg *config.Config, logger *slog.Logger) (storemail.Mailer, error) {
	if cfg.MailEndpoint == "" {
		return storemail.NewLogMailer(logger), nil
	}
	return storemail.NewHTTPMailer(storemail.HTTPConfig{
		Endpoint: cfg.MailEndpoint,
		APIKey:   cfg.Secrets.MailAPIKey,
		From:     cfg.MailFrom,
	})
}

func createPartner(cfg *config.Config) (order.Partner, error) {
	if cfg.PartnerURL == "" {
		return order.ManualPartner{}, nil
	}
	return order.NewHTTPPartner(order.PartnerConfig{
		BaseURL: cfg.PartnerURL,
		APIKey:  cfg.Secrets.PartnerAPIKey,
	})
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for Cloud Logging; development uses text.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
