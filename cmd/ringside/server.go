package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/artpar/ringside/internal/admin"
	"github.com/artpar/ringside/internal/config"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/payments"
	"github.com/artpar/ringside/internal/shell/chillpay"
	"github.com/artpar/ringside/internal/shell/media"
	"github.com/artpar/ringside/internal/shell/paypal"
	"github.com/artpar/ringside/internal/site"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Ringside application server.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	store      *engine.Store
	expirer    *engine.PaymentExpirer
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	if cfg.Database.Driver == "sqlite3" && cfg.Database.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
		}
	}

	store, err := engine.OpenDB(cfg.Database.Driver, cfg.Database.DSN, engine.Schema(), logger)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	bus := engine.NewBus(store, logger)
	engine.RegisterHandlers(bus)

	mounts := []engine.Mount{}

	// Media storage for admin uploads
	var uploads media.Store
	switch cfg.Media.Backend {
	case "s3":
		uploads = media.NewS3(media.S3Config{
			Bucket:          cfg.Media.S3.Bucket,
			Region:          cfg.Media.S3.Region,
			Endpoint:        cfg.Media.S3.Endpoint,
			AccessKeyID:     cfg.Media.S3.AccessKeyID,
			SecretAccessKey: cfg.Media.S3.SecretAccessKey,
			PublicURL:       cfg.Media.S3.PublicURL,
		}, logger)
		logger.Info("media stored in s3", "bucket", cfg.Media.S3.Bucket)
	default:
		if err := os.MkdirAll(cfg.Media.Dir, 0o755); err != nil {
			store.Close()
			return nil, &ServerError{Op: "NewServer", Err: fmt.Errorf("create media dir: %w", err), ExitCode: ExitConfigError}
		}
		local := media.NewLocal(cfg.Media.Dir, cfg.Media.PublicURL, logger)
		uploads = local
		mounts = append(mounts, local.Mount)
		logger.Info("media stored locally", "dir", cfg.Media.Dir)
	}

	// Payment gateways
	var cp payments.ChillPayGateway
	if cfg.ChillPay.Enabled {
		cp = chillpay.NewClient(chillpay.Config{
			APIURL:       cfg.ChillPay.APIURL,
			MerchantCode: cfg.ChillPay.MerchantCode,
			APIKey:       cfg.ChillPay.APIKey,
			MD5Secret:    cfg.ChillPay.MD5Secret,
			RouteNo:      cfg.ChillPay.RouteNo,
			ChannelCode:  cfg.ChillPay.ChannelCode,
			LangCode:     cfg.ChillPay.LangCode,
		}, logger)
		logger.Info("chillpay enabled", "api_url", cfg.ChillPay.APIURL)
	}
	var pp payments.PayPalGateway
	if cfg.PayPal.Enabled {
		pp = paypal.NewClient(paypal.Config{
			BaseURL:   cfg.PayPal.BaseURL,
			ClientID:  cfg.PayPal.ClientID,
			Secret:    cfg.PayPal.Secret,
			WebhookID: cfg.PayPal.WebhookID,
			BrandName: cfg.PayPal.BrandName,
		}, logger)
		logger.Info("paypal enabled", "base_url", cfg.PayPal.BaseURL)
	}
	if cp == nil && pp == nil {
		logger.Warn("no payment provider enabled, checkout is unavailable")
	}

	pay := payments.NewService(payments.Config{
		Store:    store,
		Bus:      bus,
		ChillPay: cp,
		PayPal:   pp,
		BaseURL:  cfg.Site.BaseURL,
		Logger:   logger,
	})

	adminHandler, err := admin.New(admin.Config{
		Store:        store,
		Bus:          bus,
		Media:        uploads,
		SiteName:     cfg.Site.Name,
		SessionTTL:   cfg.Admin.SessionTTL,
		CookieSecure: cfg.Admin.CookieSecure,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	siteConfig := site.Config{Store: store, SiteName: cfg.Site.Name, Logger: logger}
	if cp != nil || pp != nil {
		siteConfig.Checkout = pay
	}
	siteHandler, err := site.New(siteConfig)
	if err != nil {
		store.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	// The public site goes last so its catch-all pages never shadow other routes.
	mounts = append(mounts, pay.Mount, adminHandler.Mount, siteHandler.Mount)

	handler := engine.Setup(engine.SetupConfig{
		Store:   store,
		Bus:     bus,
		Logger:  logger,
		APIKey:  cfg.Admin.APIKey,
		Title:   cfg.Site.Name + " API",
		Version: Version,
		Mounts:  mounts,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	expirer := engine.NewPaymentExpirer(store, bus, cfg.Payments.PendingTTL, cfg.Payments.SweepInterval, logger)

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      store,
		expirer:    expirer,
		logger:     logger,
	}, nil
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Sweeps once immediately, then on the interval.
	s.expirer.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.expirer.Stop()
		s.store.Close()
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.expirer.Stop()

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
