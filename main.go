package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"golang.org/x/sync/errgroup"

	"messaging-service/internal/auth"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/directory"
	"messaging-service/internal/handlers"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/notify"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/rooms"
	"messaging-service/internal/typing"
	"messaging-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := setupTracing(ctx, cfg.Tracing)
		if err != nil {
			logger.Warn().Err(err).Msg("tracing setup failed, continuing without")
		} else {
			defer shutdown(context.Background())
		}
	}

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer database.Close()

	var lastSeen presence.LastSeenStore
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, keeping last-seen in memory")
		} else {
			lastSeen = presence.NewRedisLastSeen(rdb, "")
			defer rdb.Close()
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)
	notifRepo := repositories.NewNotificationRepo(database)

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret)
	dir := directory.NewClient(cfg.Directory.BaseURL, cfg.Server.InternalToken, cfg.Directory.Timeout)

	registry := presence.NewRegistry(convRepo, lastSeen, cfg.Presence.OfflineGrace, logger)
	roomMgr := rooms.NewManager(logger)
	typingCoord := typing.NewCoordinator(roomMgr, cfg.Typing.TTL, logger)
	dispatcher := notify.NewDispatcher(registry, notifRepo, msgRepo, publisher, logger)
	pipeline := messaging.NewService(convRepo, msgRepo, roomMgr, dispatcher, publisher,
		cfg.Pipeline.PersistRetries, cfg.Pipeline.RetryBackoff, logger)

	wsHandler := ws.NewHandler(authenticator, registry, roomMgr, typingCoord, dispatcher,
		pipeline, convRepo, cfg.WebSocket, logger)
	convHandler := handlers.NewConversationHandler(convRepo, msgRepo, pipeline, dispatcher, dir)
	notifHandler := handlers.NewNotificationHandler(notifRepo, dispatcher)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(authenticator)

	router.GET("/conversations", authMiddleware, convHandler.List)
	router.POST("/conversations/start", authMiddleware, convHandler.Start)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, convHandler.Messages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, convHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, convHandler.MarkRead)

	router.GET("/notifications", authMiddleware, notifHandler.List)
	router.GET("/notifications/unread", authMiddleware, notifHandler.Unread)
	router.POST("/notifications/:notification_id/read", authMiddleware, notifHandler.MarkRead)
	router.POST("/notifications/read_all", authMiddleware, notifHandler.MarkAllRead)

	router.POST("/internal/events",
		middleware.InternalAuthMiddleware(cfg.Server.InternalToken), notifHandler.IntakeEvent)

	router.GET("/ws", wsHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().Str("port", cfg.Server.Port).Msg("messaging service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		typingCoord.Run(groupCtx, cfg.Typing.SweepInterval)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("service terminated")
	}
	logger.Info().Msg("messaging service stopped")
}

func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.Level(level).With().Timestamp().Str("service", "messaging-service").Logger()
	log.Logger = logger
	return logger
}

func setupTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("messaging-service")),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
