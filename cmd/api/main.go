package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokenbill/tokenbill/internal/billing"
	"github.com/tokenbill/tokenbill/internal/config"
	"github.com/tokenbill/tokenbill/internal/handler"
	"github.com/tokenbill/tokenbill/internal/invoice"
	"github.com/tokenbill/tokenbill/internal/ledger"
	"github.com/tokenbill/tokenbill/internal/logging"
	"github.com/tokenbill/tokenbill/internal/middleware"
	"github.com/tokenbill/tokenbill/internal/rates"
	"github.com/tokenbill/tokenbill/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("tokenbill-api", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := repository.NewUserRepository(db)
	entries := repository.NewLedgerRepository(db)
	payments := repository.NewPaymentRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	webhookEvents := repository.NewWebhookEventRepository(db)

	mutator := ledger.NewService(users, entries, db, time.Duration(cfg.BalanceCacheTTLS)*time.Second)
	converter := rates.NewConverter(cfg.TokensPerUnit)
	invoiceSvc := invoice.NewService(invoices, mutator, db, cfg.InvoiceFeeTokens)
	stripeGateway := billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
	providerX := billing.NewProviderXClient(cfg.ProviderXBaseURL, cfg.ProviderXCallbackURL)
	billingSvc := billing.NewService(payments, webhookEvents, entries, mutator, converter,
		stripeGateway, providerX, db)

	jwtExpiry := time.Duration(cfg.JWTExpiryMin) * time.Minute
	authHandler := handler.NewAuthHandler(users, cfg.JWTSecret, jwtExpiry)
	userHandler := handler.NewUserHandler(users, mutator)
	ledgerHandler := handler.NewLedgerHandler(billingSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)
	paymentHandler := handler.NewPaymentHandler(billingSvc)
	webhookHandler := handler.NewWebhookHandler(billingSvc, cfg.ProviderXSecret)
	healthHandler := handler.NewHealthHandler(db)

	requireAuth := middleware.Auth(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /ready", healthHandler.Readiness)

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	mux.Handle("GET /api/v1/users/{id}", requireAuth(http.HandlerFunc(userHandler.GetByID)))
	mux.Handle("GET /api/v1/users/{id}/balance", requireAuth(http.HandlerFunc(userHandler.GetBalance)))

	mux.Handle("GET /api/v1/ledger", requireAuth(http.HandlerFunc(ledgerHandler.List)))
	mux.Handle("POST /api/v1/ledger", requireAuth(http.HandlerFunc(ledgerHandler.Post)))

	mux.Handle("POST /api/v1/invoices", requireAuth(http.HandlerFunc(invoiceHandler.Create)))
	mux.Handle("GET /api/v1/invoices", requireAuth(http.HandlerFunc(invoiceHandler.List)))
	mux.Handle("GET /api/v1/invoices/{id}", requireAuth(http.HandlerFunc(invoiceHandler.GetByID)))
	mux.Handle("PUT /api/v1/invoices/{id}", requireAuth(http.HandlerFunc(invoiceHandler.Update)))

	mux.Handle("POST /api/v1/payments/checkout", requireAuth(http.HandlerFunc(paymentHandler.CreateCheckout)))
	mux.Handle("POST /api/v1/payments/hosted", requireAuth(http.HandlerFunc(paymentHandler.CreateHostedPayment)))
	mux.Handle("GET /api/v1/payments/{id}", requireAuth(http.HandlerFunc(paymentHandler.GetByID)))

	// Provider endpoints authenticate by signature, not by bearer token.
	mux.HandleFunc("POST /api/v1/webhooks/stripe", webhookHandler.ReceiveStripeWebhook)
	mux.HandleFunc("POST /api/v1/webhooks/providerx", webhookHandler.ReceiveProviderXCallback)

	chain := middleware.RequestID(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
