package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedJobs struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	failedErr []string
	done      chan struct{}
}

func newRecordedJobs() *recordedJobs {
	return &recordedJobs{done: make(chan struct{}, 16)}
}

func (r *recordedJobs) MarkCompleted(_ context.Context, jobID, _ string) error {
	r.mu.Lock()
	r.completed = append(r.completed, jobID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recordedJobs) MarkFailed(_ context.Context, jobID, _, errorMessage string) error {
	r.mu.Lock()
	r.failed = append(r.failed, jobID)
	r.failedErr = append(r.failedErr, errorMessage)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker")
	}
}

func sendJob(t *testing.T, q *MemoryQueue, id string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"id": id})
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), string(body)))
}

func TestWorkerProcessesAndAcks(t *testing.T) {
	queue := NewMemoryQueue(8)
	jobs := newRecordedJobs()

	var handled []string
	var mu sync.Mutex
	handler := func(_ context.Context, body string) error {
		mu.Lock()
		handled = append(handled, body)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(QueueInbound, queue, handler, jobs, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	w.Start(ctx)

	jobID := uuid.NewString()
	sendJob(t, queue, jobID)
	waitSignal(t, jobs.done)

	cancel()
	w.Wait()

	mu.Lock()
	assert.Len(t, handled, 1)
	mu.Unlock()
	jobs.mu.Lock()
	assert.Equal(t, []string{jobID}, jobs.completed)
	assert.Empty(t, jobs.failed)
	jobs.mu.Unlock()

	queue.mu.Lock()
	assert.Empty(t, queue.inFlight, "completed job must be acked")
	queue.mu.Unlock()
}

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	queue := NewMemoryQueue(8)
	jobs := newRecordedJobs()

	var attempts int
	var mu sync.Mutex
	handler := func(_ context.Context, _ string) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(QueueAIReply, queue, handler, jobs, nil,
		WithWorkerCount(1), WithReceiveWaitSeconds(1), WithMaxAttempts(5))
	w.Start(ctx)

	jobID := uuid.NewString()
	sendJob(t, queue, jobID)
	waitSignal(t, jobs.done)

	cancel()
	w.Wait()

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
	jobs.mu.Lock()
	assert.Equal(t, []string{jobID}, jobs.completed)
	assert.Empty(t, jobs.failed)
	jobs.mu.Unlock()
}

func TestWorkerTerminalFailureIsRecorded(t *testing.T) {
	queue := NewMemoryQueue(8)
	jobs := newRecordedJobs()

	handler := func(_ context.Context, _ string) error {
		return errors.New("channel send: 502")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(QueueOutbound, queue, handler, jobs, nil,
		WithWorkerCount(1), WithReceiveWaitSeconds(1), WithMaxAttempts(2))
	w.Start(ctx)

	jobID := uuid.NewString()
	sendJob(t, queue, jobID)
	waitSignal(t, jobs.done)

	cancel()
	w.Wait()

	jobs.mu.Lock()
	assert.Empty(t, jobs.completed)
	require.Equal(t, []string{jobID}, jobs.failed)
	assert.Contains(t, jobs.failedErr[0], "channel send")
	jobs.mu.Unlock()

	queue.mu.Lock()
	assert.Empty(t, queue.inFlight, "terminal failure must still ack the message")
	queue.mu.Unlock()
}

func TestWorkerDropsMalformedJobs(t *testing.T) {
	queue := NewMemoryQueue(8)
	jobs := newRecordedJobs()

	handled := make(chan struct{}, 1)
	handler := func(_ context.Context, _ string) error {
		handled <- struct{}{}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(QueueInbound, queue, handler, jobs, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	w.Start(ctx)

	require.NoError(t, queue.Send(context.Background(), "{not json"))
	sendJob(t, queue, uuid.NewString())
	waitSignal(t, jobs.done)

	cancel()
	w.Wait()

	select {
	case <-handled:
	default:
		t.Fatal("valid job after the malformed one was not handled")
	}
	jobs.mu.Lock()
	assert.Len(t, jobs.completed, 1)
	jobs.mu.Unlock()
}

func TestMemoryQueueNackRedelivers(t *testing.T) {
	queue := NewMemoryQueue(8)
	ctx := context.Background()

	require.NoError(t, queue.Send(ctx, `{"id":"a"}`))

	first, err := queue.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].ReceiveCount)

	require.NoError(t, queue.Nack(ctx, first[0].ReceiptHandle))

	second, err := queue.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Body, second[0].Body)
	assert.Equal(t, 2, second[0].ReceiveCount, "redelivery increments the receive count")

	require.NoError(t, queue.Delete(ctx, second[0].ReceiptHandle))

	none, err := queue.Receive(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPublisherAssignsJobIDs(t *testing.T) {
	inboundQ := NewMemoryQueue(4)
	aiQ := NewMemoryQueue(4)
	outQ := NewMemoryQueue(4)
	p := NewPublisher(inboundQ, aiQ, outQ, nil)
	ctx := context.Background()

	require.NoError(t, p.EnqueueInbound(ctx, InboundJob{TenantID: uuid.New(), FromPhone: "+1", Text: "hi", Source: SourceWeb}))
	require.NoError(t, p.EnqueueAIReply(ctx, AIReplyJob{TenantID: uuid.New(), ConversationID: uuid.New()}))
	require.NoError(t, p.EnqueueOutbound(ctx, OutboundJob{TenantID: uuid.New(), ConversationID: uuid.New(), MessageID: uuid.New()}))

	for _, q := range []*MemoryQueue{inboundQ, aiQ, outQ} {
		msgs, err := q.Receive(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.NotEmpty(t, decodeJobID(msgs[0].Body))
	}
}
