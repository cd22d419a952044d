package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sanamente-ai/sanamente-platform/cmd/mainconfig"
	"github.com/sanamente-ai/sanamente-platform/internal/audit"
	"github.com/sanamente-ai/sanamente-platform/internal/channels/whatsapp"
	appconfig "github.com/sanamente-ai/sanamente-platform/internal/config"
	"github.com/sanamente-ai/sanamente-platform/internal/crypto"
	"github.com/sanamente-ai/sanamente-platform/internal/episode"
	"github.com/sanamente-ai/sanamente-platform/internal/notify"
	"github.com/sanamente-ai/sanamente-platform/internal/observability/metrics"
	"github.com/sanamente-ai/sanamente-platform/internal/pipeline"
	"github.com/sanamente-ai/sanamente-platform/internal/snapshot"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sanamente pipeline worker",
		"env", cfg.Env,
		"workers", cfg.WorkerCount,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	var llm pipeline.LLMClient
	model := cfg.BedrockModelID
	if cfg.LLMProvider == "gemini" {
		gemini, err := pipeline.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to initialize gemini client", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		llm = gemini
		model = cfg.GeminiModelID
	} else {
		llm = pipeline.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	}

	redisClient := newRedisClient(cfg)
	snapshots := snapshot.NewStore(redisClient, cfg.PromptSnapshotTTL)

	var alerter *notify.Service
	if cfg.AlertsEnabled {
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.AlertsFromEmail,
			FromName:  cfg.AlertsFromName,
		}, logger)
		alerter = notify.NewService(sender, st.Users, auditSvc, logger)
	}

	m := metrics.NewPipelineMetrics(nil)
	orchestrator := episode.NewOrchestrator(st.Episodes, logger)
	channel := whatsapp.NewClient(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIToken, logger)

	workerOpts := []pipeline.WorkerOption{
		pipeline.WithWorkerCount(cfg.WorkerCount),
		pipeline.WithMaxAttempts(cfg.JobMaxAttempts),
		pipeline.WithMetrics(m),
	}

	var workers []*pipeline.Worker
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queues; jobs are lost on restart")
		inboundQ := pipeline.NewMemoryQueue(100)
		aiReplyQ := pipeline.NewMemoryQueue(100)
		outboundQ := pipeline.NewMemoryQueue(100)
		publisher := pipeline.NewPublisher(inboundQ, aiReplyQ, outboundQ, logger)
		inbound, reply, outbound := buildHandlers(st, cryptoSvc, auditSvc, publisher, snapshots, alerter, m, orchestrator, llm, model, channel, cfg, logger)
		workers = []*pipeline.Worker{
			pipeline.NewWorker("inbound", inboundQ, inbound.Handle, st.Jobs, logger, workerOpts...),
			pipeline.NewWorker("ai-reply", aiReplyQ, reply.Handle, st.Jobs, logger, workerOpts...),
			pipeline.NewWorker("outbound", outboundQ, outbound.Handle, st.Jobs, logger, workerOpts...),
		}
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		inboundQ := pipeline.NewSQSQueue(sqsClient, cfg.InboundQueueURL)
		aiReplyQ := pipeline.NewSQSQueue(sqsClient, cfg.AIReplyQueueURL)
		outboundQ := pipeline.NewSQSQueue(sqsClient, cfg.OutboundQueueURL)
		publisher := pipeline.NewPublisher(inboundQ, aiReplyQ, outboundQ, logger)
		inbound, reply, outbound := buildHandlers(st, cryptoSvc, auditSvc, publisher, snapshots, alerter, m, orchestrator, llm, model, channel, cfg, logger)
		workers = []*pipeline.Worker{
			pipeline.NewWorker("inbound", inboundQ, inbound.Handle, st.Jobs, logger, workerOpts...),
			pipeline.NewWorker("ai-reply", aiReplyQ, reply.Handle, st.Jobs, logger, workerOpts...),
			pipeline.NewWorker("outbound", outboundQ, outbound.Handle, st.Jobs, logger, workerOpts...),
		}
	}

	for _, w := range workers {
		w.Start(ctx)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down pipeline worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		for _, w := range workers {
			w.Wait()
		}
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("pipeline worker stopped")
	case <-doneCtx.Done():
		logger.Error("pipeline worker shutdown timed out", "error", doneCtx.Err())
	}
}

func buildHandlers(
	st *store.Store,
	cryptoSvc *crypto.Service,
	auditSvc *audit.Service,
	publisher *pipeline.Publisher,
	snapshots *snapshot.Store,
	alerter *notify.Service,
	m *metrics.PipelineMetrics,
	orchestrator *episode.Orchestrator,
	llm pipeline.LLMClient,
	model string,
	channel pipeline.ChannelSender,
	cfg *appconfig.Config,
	logger *logging.Logger,
) (*pipeline.Inbound, *pipeline.Reply, *pipeline.Outbound) {
	inbound := pipeline.NewInbound(st.Patients, st.Conversations, st.Messages, cryptoSvc, auditSvc, publisher, logger)

	params := pipeline.ReplyParams{
		Conversations: st.Conversations,
		Patients:      st.Patients,
		Messages:      st.Messages,
		Policies:      st.Policies,
		Opener:        orchestrator,
		Episodes:      st.Episodes,
		Crypto:        cryptoSvc,
		LLM:           llm,
		Model:         model,
		Audit:         auditSvc,
		Publisher:     publisher,
		Snapshots:     snapshots,
		Metrics:       m,
		ContextWindow: cfg.ContextWindow,
		Logger:        logger,
	}
	if alerter != nil {
		params.Alerter = alerter
	}
	reply := pipeline.NewReply(params)

	outbound := pipeline.NewOutbound(st.Conversations, st.Messages, st.Patients, cryptoSvc, channel, auditSvc, logger)
	return inbound, reply, outbound
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
