package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/config"
	"github.com/meetai/meeting-server-go/internal/database"
	"github.com/meetai/meeting-server-go/internal/handler"
	"github.com/meetai/meeting-server-go/internal/jobs"
	"github.com/meetai/meeting-server-go/internal/lock"
	"github.com/meetai/meeting-server-go/internal/middleware"
	"github.com/meetai/meeting-server-go/internal/platform"
	"github.com/meetai/meeting-server-go/internal/redis"
	"github.com/meetai/meeting-server-go/internal/repository"
	"github.com/meetai/meeting-server-go/internal/service"
	"github.com/meetai/meeting-server-go/internal/sse"
	"github.com/meetai/meeting-server-go/internal/summarizer"
	"github.com/meetai/meeting-server-go/internal/transcript"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.RunMigrations {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	meetingRepo := repository.NewMeetingRepository(db.DB)
	agentRepo := repository.NewAgentRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)

	streamClient := platform.NewClient(platform.Config{
		BaseURL:   cfg.StreamBaseURL,
		APIKey:    cfg.StreamAPIKey,
		APISecret: cfg.StreamAPISecret,
		CallType:  cfg.StreamCallType,
		Timeout:   config.PlatformRequestTimeout,
	})
	openAI := summarizer.NewOpenAI(summarizer.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	summaryService := service.NewSummaryService(
		meetingRepo, userRepo, agentRepo, transcript.NewFetcher(), openAI, broker,
	)
	summaryQueue := jobs.NewSummaryQueue(redisClient.Client, summaryService, cfg.SummaryWorkers)

	attacher := service.NewAgentAttacher(
		streamClient,
		lock.NewRedisLocker(redisClient.Client, cfg.AgentLockTTL()),
		service.AgentAttacherConfig{
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			Voice:        cfg.AgentVoice,
		},
	)
	lifecycleService := service.NewLifecycleService(
		meetingRepo, agentRepo, streamClient, attacher,
		service.NewRecordingService(streamClient), summaryQueue, broker,
	)
	meetingService := service.NewMeetingService(
		db, meetingRepo, agentRepo, streamClient,
		service.NewRateLimiter(redisClient.Client),
		service.MeetingServiceConfig{
			StreamAPISecret:      cfg.StreamAPISecret,
			PinAttemptsPerWindow: cfg.PinAttemptsPerWindow,
		},
	)

	authMiddleware := middleware.NewAuthMiddleware(sessionRepo, userRepo)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		service.NewFailOpenRateLimiter(redisClient.Client), config.DefaultRateLimitPerMin,
	)
	webhookVerifier := middleware.NewWebhookVerifier(cfg.StreamAPIKey, cfg.StreamAPISecret)
	apiBodyLimit := middleware.NewBodyLimitMiddleware(middleware.APIMaxBodySize)
	webhookBodyLimit := middleware.NewBodyLimitMiddleware(middleware.WebhookMaxBodySize)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	webhookHandler := handler.NewWebhookHandler(lifecycleService)
	eventsHandler := handler.NewEventsHandler(broker, meetingService)
	meetingsHandler := handler.NewMeetingsHandler(meetingService, lifecycleService, eventsHandler)
	healthHandler := handler.NewHealthHandler(map[string]handler.Checker{
		"database": db,
		"redis":    redisClient,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.With(chimiddleware.Timeout(config.ServerRequestTimeout), webhookBodyLimit.Handler, webhookVerifier.Handler).
		Post("/webhooks/stream", webhookHandler.Webhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(apiBodyLimit.Handler)
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/meetings", meetingsHandler.Routes())
		r.With(chimiddleware.Timeout(config.ServerRequestTimeout)).Post("/token", meetingsHandler.IssueToken)
	})

	summaryQueue.Start()
	defer summaryQueue.Stop()

	recoveryJob := jobs.NewRecoveryJob(
		meetingRepo, summaryQueue, sessionRepo,
		cfg.SummaryRecoveryAfter(), cfg.SummaryMaxAttempts, config.RecoveryJobInterval,
	)
	recoveryJob.Start()
	defer recoveryJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
