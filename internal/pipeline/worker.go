package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sanamente-ai/sanamente-platform/internal/observability/metrics"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	defaultMaxAttempts  = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	ackTimeoutSeconds   = 5
)

// HandlerFunc processes one decoded job body. A returned error requeues the
// job until the attempt budget is exhausted.
type HandlerFunc func(ctx context.Context, body string) error

// JobRecorder persists terminal job outcomes.
type JobRecorder interface {
	MarkCompleted(ctx context.Context, jobID, queue string) error
	MarkFailed(ctx context.Context, jobID, queue, errorMessage string) error
}

// Worker consumes one queue with a pool of goroutines.
type Worker struct {
	name    string
	queue   queueClient
	handler HandlerFunc
	jobs    JobRecorder
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	metrics          *metrics.PipelineMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMetrics wires Prometheus instrumentation into the worker.
func WithMetrics(m *metrics.PipelineMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// WithMaxAttempts bounds redeliveries before a job is recorded as failed.
func WithMaxAttempts(attempts int) WorkerOption {
	return func(cfg *workerConfig) {
		if attempts > 0 {
			cfg.maxAttempts = attempts
		}
	}
}

// NewWorker constructs a queue consumer. jobs may be nil when no terminal
// status persistence is wanted (tests, local tools).
func NewWorker(name string, queue queueClient, handler HandlerFunc, jobs JobRecorder, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if name == "" {
		panic("pipeline: worker name cannot be empty")
	}
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if handler == nil {
		panic("pipeline: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		name:    name,
		queue:   queue,
		handler: handler,
		jobs:    jobs,
		metrics: cfg.metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("pipeline worker started", "queue", w.name, "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("pipeline worker stopping", "queue", w.name, "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive pipeline jobs", "error", err, "queue", w.name, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	started := time.Now()

	jobID := decodeJobID(msg.Body)
	if jobID == "" {
		w.logger.Error("dropping malformed pipeline job", "queue", w.name, "msg_id", msg.ID)
		w.metrics.ObserveJob(w.name, "dropped", time.Since(started).Seconds())
		w.ack(msg.ReceiptHandle)
		return
	}

	err := w.handler(ctx, msg.Body)
	if err == nil {
		w.logger.Debug("pipeline job processed", "queue", w.name, "job_id", jobID)
		if w.jobs != nil {
			if storeErr := w.jobs.MarkCompleted(ctx, jobID, w.name); storeErr != nil {
				w.logger.Error("failed to record job completion", "error", storeErr, "job_id", jobID)
			}
		}
		w.metrics.ObserveJob(w.name, "completed", time.Since(started).Seconds())
		w.ack(msg.ReceiptHandle)
		return
	}

	if msg.ReceiveCount >= w.cfg.maxAttempts {
		w.logger.Error("pipeline job failed terminally",
			"error", err,
			"queue", w.name,
			"job_id", jobID,
			"attempts", msg.ReceiveCount,
		)
		if w.jobs != nil {
			if storeErr := w.jobs.MarkFailed(ctx, jobID, w.name, err.Error()); storeErr != nil {
				w.logger.Error("failed to record job failure", "error", storeErr, "job_id", jobID)
			}
		}
		w.metrics.ObserveJob(w.name, "failed", time.Since(started).Seconds())
		w.ack(msg.ReceiptHandle)
		return
	}

	w.logger.Warn("pipeline job failed, will retry",
		"error", err,
		"queue", w.name,
		"job_id", jobID,
		"attempt", msg.ReceiveCount,
		"max_attempts", w.cfg.maxAttempts,
	)
	w.metrics.ObserveJob(w.name, "retried", time.Since(started).Seconds())
	if nackErr := w.queue.Nack(ctx, msg.ReceiptHandle); nackErr != nil {
		// The message stays in flight and comes back after the visibility
		// timeout anyway.
		w.logger.Warn("failed to nack pipeline job", "error", nackErr, "job_id", jobID)
	}
}

func (w *Worker) ack(receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	ackCtx, cancel := context.WithTimeout(context.Background(), ackTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(ackCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete pipeline job", "error", err, "queue", w.name)
	}
}

func decodeJobID(body string) string {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return ""
	}
	return envelope.ID
}
