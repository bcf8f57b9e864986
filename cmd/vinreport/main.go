// Package main запускает HTTP-сервер сервиса отчётов об истории автомобилей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/vinreport-system/internal/config"
	"github.com/mmeshcher/vinreport-system/internal/handler"
	"github.com/mmeshcher/vinreport-system/internal/middleware"
	"github.com/mmeshcher/vinreport-system/internal/notify"
	"github.com/mmeshcher/vinreport-system/internal/payment"
	"github.com/mmeshcher/vinreport-system/internal/report"
	"github.com/mmeshcher/vinreport-system/internal/repository"
	"github.com/mmeshcher/vinreport-system/internal/service"
	"github.com/mmeshcher/vinreport-system/internal/storage"
	"github.com/mmeshcher/vinreport-system/internal/vin"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	provider, err := selectProvider(cfg)
	if err != nil {
		sugar.Fatalw("payment provider error", "error", err.Error())
	}

	store, err := storage.NewFileStore(cfg.DocumentsDir)
	if err != nil {
		sugar.Fatalw("document store error", "error", err.Error())
	}

	decoder := vin.NewClient(cfg.VINDecoderAddress)

	var history report.HistorySource
	if cfg.HistoryRegistryAddress != "" {
		history = vin.NewHistoryClient(cfg.HistoryRegistryAddress)
	}

	generator := report.NewGenerator(decoder, history, store, cfg.BaseURL, logger)

	mailer := notify.NewMailer(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	svc := service.NewService(repo, provider, generator, mailer, store, cfg.BaseURL, logger)
	defer svc.Close()

	adminAuth := middleware.NewAdminAuth(cfg.AdminToken)
	h := handler.NewHandler(svc, provider, repo, logger, adminAuth)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая сверка зависших pending-заказов с провайдером
	g.Go(func() error {
		svc.StartReconciliation(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting vinreport server",
			"addr", cfg.RunAddress, "provider", provider.Name())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func selectProvider(cfg *config.Config) (payment.Provider, error) {
	switch cfg.PaymentProvider {
	case "stripe":
		if cfg.StripeAPIKey == "" {
			return nil, fmt.Errorf("stripe provider requires STRIPE_API_KEY")
		}
		return payment.NewStripeProvider(cfg.StripeAPIKey, cfg.StripeWebhookSecret), nil
	case "paypal":
		if cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "" {
			return nil, fmt.Errorf("paypal provider requires PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET")
		}
		return payment.NewPayPalProvider(cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalWebhookID), nil
	case "simulated":
		return payment.NewSimulatedProvider(cfg.SimulatedWebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.PaymentProvider)
	}
}
