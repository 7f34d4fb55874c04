package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/LaxRaj/the-garage/internal/api"
	"github.com/LaxRaj/the-garage/internal/api/handlers"
	"github.com/LaxRaj/the-garage/internal/cache"
	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/db"
	"github.com/LaxRaj/the-garage/internal/email"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/services"
	"github.com/LaxRaj/the-garage/internal/storage"
	"github.com/LaxRaj/the-garage/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default), 'seed' (insert demo catalogue and exit)")

const shutdownTimeout = 15 * time.Second

func main() {
	flag.Parse()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*runMode)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.SetDefault(logger.New(logger.Options{
		ServiceName: "garage-" + cfg.RunMode,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	}))
	log := logger.Ctx(ctx)

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Error().Err(err).Msg("error disconnecting from MongoDB")
		}
	}()
	if err := db.EnsureIndexes(ctx, mongoDb); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure indexes")
	}

	if cfg.RunMode == "seed" {
		inserted, err := services.NewAssetService(mongoDb, cfg, nil, nil).SeedAssets(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("seeding failed")
		}
		log.Info().Int("inserted", inserted).Msg("seed complete")
		return
	}

	redisClient, err := cache.ConnectRedis(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Error().Err(err).Msg("error disconnecting from Redis")
		}
	}()

	var objectStorage storage.IS3Storage
	if cfg.AwsS3Bucket != "" {
		objectStorage, err = storage.NewS3Storage(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize S3 storage")
		}
	} else {
		log.Warn().Msg("AWS_S3_BUCKET not set, image uploads disabled")
	}

	var provider payments.Provider
	if cfg.StripeEnabled() {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("invalid Stripe configuration")
		}
		provider = stripeProvider
		log.Info().Bool("test_mode", stripeProvider.TestMode()).Msg("payments enabled")
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, payments disabled")
	}

	var primarySender email.Sender
	if cfg.MockServices {
		log.Info().Msg("MOCK_SERVICES enabled, capturing email in Redis")
		primarySender = email.NewRedisSender(redisClient, cfg)
	} else {
		primarySender = email.NewSMTPSender(cfg)
	}
	emailSender := email.NewCompositeEmailSender(primarySender)
	if cfg.LogEmailsPath != "" {
		fileSender, err := email.NewFileEmailSender(cfg.LogEmailsPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.LogEmailsPath).Msg("file email logger disabled")
		} else {
			emailSender.AddSender(fileSender)
		}
	}

	taskClient := tasks.NewClient(cfg)
	defer taskClient.Close()
	dispatcher := tasks.NewDispatcher(taskClient)

	userService := services.NewUserService(mongoDb)
	emailTemplateService := services.NewEmailTemplateService(mongoDb)
	assetService := services.NewAssetService(mongoDb, cfg, objectStorage, dispatcher)
	offerService := services.NewOfferService(mongoDb, cfg, dispatcher, dispatcher)
	paymentService := services.NewPaymentService(mongoDb, cfg, provider, dispatcher)

	var webhookGuard handlers.EventGuard
	if guard, err := cache.NewIdempotencyGuard(cache.NewRedisKeyStore(redisClient), cfg.WebhookIdempotencyTTL, "stripe"); err != nil {
		log.Warn().Err(err).Msg("webhook idempotency guard disabled")
	} else {
		webhookGuard = guard
	}

	taskProcessor := tasks.NewTaskProcessor(cfg, emailSender, objectStorage, assetService, paymentService, userService, emailTemplateService)

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	// The service API runs in every mode.
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(cfg, redisClient, userService, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("port", cfg.ServiceApiPort).Msg("service API listening")
		if err := serviceSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("service API stopped unexpectedly")
		}
	}()

	var mainApiSrv *http.Server
	var taskSrv *asynq.Server

	apiMode := func() {
		mainApiSrv = &http.Server{
			Addr: ":" + cfg.ApiPort,
			Handler: api.SetupRouter(ctx, cfg, api.Services{
				Assets:       assetService,
				Offers:       offerService,
				Payments:     paymentService,
				Provider:     provider,
				WebhookGuard: webhookGuard,
			}),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("port", cfg.ApiPort).Msg("main API listening")
			if err := mainApiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("main API stopped unexpectedly")
			}
		}()
	}

	bgMode := func() {
		srv, mux := tasks.NewServer(cfg, taskProcessor)
		if err := srv.Start(mux); err != nil {
			log.Fatal().Err(err).Msg("failed to start task server")
		}
		taskSrv = srv
		log.Info().Msg("task server started")
	}

	log.Info().Str("mode", cfg.RunMode).Msg("starting")
	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatal().Str("mode", cfg.RunMode).Msg("invalid run mode")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-shutdownChan:
		log.Info().Msg("shutdown requested via service API")
	}
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("service API shutdown error")
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("main API shutdown error")
		}
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	log.Info().Msg("stopped")
}
