package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sanamente-ai/sanamente-platform/cmd/mainconfig"
	"github.com/sanamente-ai/sanamente-platform/internal/api/router"
	"github.com/sanamente-ai/sanamente-platform/internal/audit"
	"github.com/sanamente-ai/sanamente-platform/internal/blob"
	"github.com/sanamente-ai/sanamente-platform/internal/channels/whatsapp"
	appconfig "github.com/sanamente-ai/sanamente-platform/internal/config"
	"github.com/sanamente-ai/sanamente-platform/internal/crypto"
	"github.com/sanamente-ai/sanamente-platform/internal/http/handlers"
	"github.com/sanamente-ai/sanamente-platform/internal/pipeline"
	"github.com/sanamente-ai/sanamente-platform/internal/ratelimit"
	"github.com/sanamente-ai/sanamente-platform/internal/snapshot"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sanamente API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	cryptoSvc, err := crypto.NewService(cfg.MessageMasterKey)
	if err != nil {
		logger.Error("failed to initialize envelope encryption", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.New(pool)

	auditDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit connection", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditDB.Close() }()
	auditSvc := audit.NewService(auditDB)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var publisher *pipeline.Publisher
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queues; jobs are lost on restart")
		publisher = pipeline.NewPublisher(
			pipeline.NewMemoryQueue(100),
			pipeline.NewMemoryQueue(100),
			pipeline.NewMemoryQueue(100),
			logger,
		)
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		publisher = pipeline.NewPublisher(
			pipeline.NewSQSQueue(sqsClient, cfg.InboundQueueURL),
			pipeline.NewSQSQueue(sqsClient, cfg.AIReplyQueueURL),
			pipeline.NewSQSQueue(sqsClient, cfg.OutboundQueueURL),
			logger,
		)
	}

	redisClient := newRedisClient(cfg)
	snapshots := snapshot.NewStore(redisClient, cfg.PromptSnapshotTTL)
	limiter := ratelimit.NewLimiter(redisClient, cfg.WebhookRateLimit, cfg.WebhookRateWindow, logger)

	var attachments *blob.Store
	if cfg.AttachmentBucket != "" {
		attachments = blob.NewStore(s3.NewFromConfig(awsCfg), cfg.AttachmentBucket, logger)
	}

	webhook := whatsapp.NewWebhookHandler(publisher, cfg.WhatsAppWebhookSecret, cfg.IsProduction(), logger)
	messagesHandler := handlers.NewMessagesHandler(handlers.MessagesHandlerParams{
		Conversations: st.Conversations,
		Patients:      st.Patients,
		Messages:      st.Messages,
		Crypto:        cryptoSvc,
		Publisher:     publisher,
		Attachments:   attachments,
		Logger:        logger,
	})
	operatorHandler := handlers.NewOperatorHandler(snapshots, auditSvc, logger)

	r := router.New(&router.Config{
		Logger:            logger,
		WhatsAppWebhook:   webhook,
		Messages:          messagesHandler,
		Operator:          operatorHandler,
		Limiter:           limiter,
		OperatorJWTSecret: cfg.OperatorJWTSecret,
		MetricsHandler:    promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}
