package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-archiver/internal/config"
	"github.com/spec-kit/ticket-archiver/internal/dispatcher"
	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/history"
	"github.com/spec-kit/ticket-archiver/internal/idempotency"
	"github.com/spec-kit/ticket-archiver/internal/ingress"
	"github.com/spec-kit/ticket-archiver/internal/observability"
	"github.com/spec-kit/ticket-archiver/internal/orchestrator"
	"github.com/spec-kit/ticket-archiver/internal/persistence"
	"github.com/spec-kit/ticket-archiver/internal/renderer"
	"github.com/spec-kit/ticket-archiver/internal/signer"
	"github.com/spec-kit/ticket-archiver/internal/tmsclient"
	"github.com/spec-kit/ticket-archiver/internal/tsaclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ledger := history.NewLedger(cfg.History.Size)

	tmsClient, err := tmsclient.New(tmsclient.Config{
		BaseURL:                  cfg.TMS.BaseURL,
		Token:                    cfg.TMS.Token,
		Timeout:                  time.Duration(cfg.TMS.TimeoutSeconds) * time.Second,
		AllowInsecureTransport:   cfg.TMS.AllowInsecureTransport,
		AllowDisabledTLSVerify:   cfg.TMS.AllowDisabledTLSVerify,
		AllowLoopbackOrLinkLocal: cfg.TMS.AllowLoopbackOrLinkLocal,
		InsecureSkipVerify:       cfg.TMS.InsecureSkipVerify,
	})
	if err != nil {
		logger.Fatal("failed to construct tms client", zap.Error(err))
	}

	var redisConn *persistence.Redis
	if cfg.Idempotency.UseRedis || cfg.Dispatcher.UseExternalQueue {
		redisConn = persistence.NewRedis(cfg.Redis, logger)
		defer redisConn.Close()
	}

	var deliveryStore idempotency.DeliveryStore
	if cfg.Idempotency.UseRedis && redisConn != nil {
		deliveryStore = idempotency.NewRedisDeliveryStore(redisConn.Client, cfg.Idempotency.RedisKeyPrefix)
	} else {
		deliveryStore = idempotency.NewInMemoryDeliveryStore(nil)
	}
	inFlight := idempotency.NewInFlightLock()

	pdfRenderer := renderer.NewHTTPRenderer(cfg.Renderer.URL, time.Duration(cfg.Renderer.TimeoutSeconds)*time.Second)

	var material *signer.Material
	if cfg.Signing.Enabled {
		loaded, err := signer.LoadPKCS12(cfg.Signing.PKCS12Path, cfg.Signing.PKCS12Password)
		if err != nil {
			logger.Fatal("failed to load signing material", zap.Error(err))
		}
		material = &loaded
	}

	var tsaStamper signer.TSAStamper
	if cfg.TSA.Enabled {
		tsaStamper, err = tsaclient.New(tsaclient.Config{
			URL:      cfg.TSA.URL,
			Username: cfg.TSA.Username,
			Password: cfg.TSA.Password,
			Timeout:  time.Duration(cfg.TSA.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			logger.Fatal("failed to construct tsa client", zap.Error(err))
		}
	}

	orch := orchestrator.New(orchestrator.Orchestrator{
		TMS:      tmsClient,
		Renderer: pdfRenderer,
		TSA:      tsaStamper,
		Material: material,
		Delivery: deliveryStore,
		InFlight: inFlight,
		History:  ledger,
		Metrics:  metrics,
		Logger:   logger,
		Service: orchestrator.ServiceInfo{
			Name:           cfg.App.Name,
			Version:        cfg.App.Version,
			RuntimeVersion: "go",
		},
		TagNames: domain.TagNames{
			Trigger:    cfg.TMS.TagNames.Trigger,
			Processing: cfg.TMS.TagNames.Processing,
			Done:       cfg.TMS.TagNames.Done,
			Error:      cfg.TMS.TagNames.Error,
		},
		RequireTriggerTag: cfg.TMS.RequireTriggerTag,
		DeliveryTTL:       time.Duration(cfg.Idempotency.DeliveryTTLSeconds) * time.Second,
		PathPolicy:        cfg.PathPolicy,
		Storage:           cfg.Storage,
		Snapshot:          cfg.Snapshot,
		Archive:           cfg.Archive,
	})

	var scheduler dispatcher.Scheduler
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Dispatcher.UseExternalQueue {
		redisScheduler, err := dispatcher.NewRedisStreamScheduler(ctx, redisConn.Client, dispatcher.RedisStreamConfig{
			StreamKey:     cfg.Dispatcher.StreamKey,
			ConsumerGroup: cfg.Dispatcher.ConsumerGroup,
			MaxAttempts:   cfg.Dispatcher.MaxAttempts,
			Workers:       cfg.Dispatcher.MaxConcurrency,
		}, orch.Handle, logger)
		if err != nil {
			logger.Fatal("failed to start redis stream scheduler", zap.Error(err))
		}
		scheduler = redisScheduler
	} else {
		scheduler = dispatcher.NewInProcessScheduler(cfg.Dispatcher.MaxConcurrency, cfg.Dispatcher.QueueCapacity, orch.Handle, logger)
	}

	drainer, ok := scheduler.(interface{ IsDraining() bool })
	isDraining := func() bool { return false }
	if ok {
		isDraining = drainer.IsDraining
	}

	handlers := ingress.NewHandlers(scheduler, ledger, inFlight, isDraining, logger, cfg.App.Name, cfg.App.Version, func() map[string]error {
		deps := map[string]error{"tms": nil}
		if redisConn != nil {
			deps["redis"] = redisConn.Ping(context.Background())
		}
		return deps
	})

	app := fiber.New()
	ingress.RegisterMiddlewares(app, logger, metrics)
	ingress.RegisterRoutes(app, ingress.RouteConfig{
		Handlers: handlers,
		Webhook: ingress.WebhookMiddlewareConfig{
			MaxBodyBytes:      cfg.Webhook.MaxBodyBytes,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			TrustedHeader:     cfg.RateLimit.TrustedHeader,
			Secret:            cfg.Webhook.Secret,
			AllowUnsigned:     cfg.Webhook.AllowUnsigned,
			RequireDeliveryID: cfg.Webhook.RequireDeliveryID,
			RequestTimeout:    time.Duration(cfg.App.RequestTimeoutSeconds) * time.Second,
			IsDraining:        isDraining,
		},
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.App.ShutdownDrainSeconds)*time.Second)
	defer drainCancel()
	if err := scheduler.Shutdown(drainCtx); err != nil {
		logger.Warn("scheduler did not drain cleanly", zap.Error(err))
	}
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
