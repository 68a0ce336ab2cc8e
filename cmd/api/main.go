package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"potluck-chat/config"
	"potluck-chat/internal/events"
	"potluck-chat/internal/gateway"
	"potluck-chat/internal/handler"
	"potluck-chat/internal/metrics"
	"potluck-chat/internal/outbox"
	"potluck-chat/internal/realtime"
	"potluck-chat/internal/redis"
	"potluck-chat/internal/repository"
	"potluck-chat/internal/server"
	"potluck-chat/internal/services"
	"potluck-chat/internal/storage"
	"potluck-chat/internal/websocket"
	"potluck-chat/pkg/database"
	"potluck-chat/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const typingSweepInterval = 250 * time.Millisecond

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Errorf("server exited: %s", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := repository.InitSchema(db); err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	m := metrics.New()
	hub := realtime.NewHub(l.Named("hub"))

	var (
		members     repository.MembershipStore = conversationRepo
		presence    realtime.PresenceTracker
		typing      realtime.TypingCoordinator
		broadcaster realtime.Broadcaster = hub
		limiter     gateway.MessageLimiter
		rdb         *goredis.Client
	)

	if cfg.UsesRedis() {
		rdb, err = redis.Connect(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		cache := redis.NewMembershipCache(rdb, conversationRepo, redis.DefaultCacheConfig(), l.Named("membership_cache"))
		members = cache
		presence = redis.NewPresenceStore(rdb)

		typingStore := redis.NewTypingStore(rdb, cfg.TypingTTL, l.Named("typing"))
		go typingStore.Run(ctx, typingSweepInterval)
		typing = typingStore

		broadcaster = redis.NewBackplane(redis.NewPublisher(rdb))
		bridge := redis.NewBridge(redis.NewSubscriber(rdb), hub, l.Named("backplane"))
		ready := make(chan struct{})
		go func() {
			if err := bridge.Run(ctx, ready); err != nil && !errors.Is(err, context.Canceled) {
				l.Errorf("backplane bridge stopped: %s", err)
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			return errors.New("backplane subscription did not become ready")
		}

		rlCfg := redis.DefaultRateLimitConfig()
		if cfg.MessageRateLimit > 0 {
			rlCfg.MessageLimit = cfg.MessageRateLimit
		}
		limiter = redis.NewRateLimiter(rdb, rlCfg)
	} else {
		presence = realtime.NewMemoryPresence()
		memTyping := realtime.NewMemoryTyping(cfg.TypingTTL)
		defer memTyping.Close()
		typing = memTyping
	}

	var sink events.Sink = events.NopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		sink = events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer sink.Close()

	processor := outbox.DefaultProcessor(sink, l.Named("events"))
	runner := outbox.NewRunner(processor)
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	runner.Start(eventsCtx)
	defer func() {
		stopEvents()
		runner.Wait()
	}()

	var objectStore services.ObjectStore
	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
		if err != nil {
			l.Warnf("uploads disabled: %s", err)
		} else {
			objectStore = s3Client
		}
	}

	authService := services.NewAuthService(userRepo, cfg.JWTSecret, time.Duration(cfg.JWTExpiryMin)*time.Minute)
	messageService := services.NewMessageService(messageRepo, conversationRepo, userRepo, members)
	messageService.SetLogger(l.Named("messages"))
	conversationService := services.NewConversationService(conversationRepo, messageRepo, userRepo)
	conversationService.SetLogger(l.Named("conversations"))
	uploadService := services.NewUploadService(objectStore, cfg.UploadMaxMB<<20)
	userService := services.NewUserService(userRepo)

	gw := gateway.New(gateway.Options{
		Hub:            hub,
		Broadcaster:    broadcaster,
		Presence:       presence,
		Typing:         typing,
		Members:        members,
		Messages:       messageService,
		Limiter:        limiter,
		Events:         processor,
		Metrics:        m,
		Log:            l.Logger,
		CoalesceWindow: cfg.ConversationCoalesce,
		EphemeralRate:  cfg.EphemeralEventsPerSec,
	})
	defer gw.Close()

	conversationService.SetNotifier(gw)
	if invalidator, ok := members.(services.MembershipInvalidator); ok {
		conversationService.SetInvalidator(invalidator)
	}

	srv := server.New(cfg, l, m)
	srv.SetupRoutes(&server.Handlers{
		Conversation: handler.NewConversationHandler(conversationService),
		Message:      handler.NewMessageHandler(messageService),
		Upload:       handler.NewUploadHandler(uploadService),
		User:         handler.NewUserHandler(userService),
		WebSocket:    websocket.NewHandler(ctx, authService, gw, cfg.AllowedOrigins, l.Logger),
	}, server.Dependencies{
		Verifier: authService,
		Limiter:  limiter,
		Health: func(ctx context.Context) error {
			if err := database.Ping(ctx, db); err != nil {
				return err
			}
			if rdb != nil {
				return rdb.Ping(ctx).Err()
			}
			return nil
		},
	})

	l.Logger.Info("messaging gateway configured",
		zap.String("realtime_backend", cfg.RealtimeBackend),
		zap.Bool("uploads", uploadService.Enabled()),
		zap.Int("kafka_brokers", len(cfg.KafkaBrokers)),
	)

	return srv.Run(ctx)
}
