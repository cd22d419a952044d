package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a queueClient backed by an in-memory buffered channel. It is
// used in local development and tests. Received messages sit in an in-flight
// set until they are deleted or nacked, mirroring SQS visibility semantics.
type MemoryQueue struct {
	ch chan queueMessage

	mu       sync.Mutex
	inFlight map[string]queueMessage
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:       make(chan queueMessage, buffer),
		inFlight: make(map[string]queueMessage),
	}
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timer *time.Timer
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
	}

	if timer == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(ctx, msg, maxMessages), nil
	}
}

// Delete acknowledges an in-flight message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, receiptHandle)
	return nil
}

// Nack returns an in-flight message to the queue for redelivery.
func (q *MemoryQueue) Nack(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	msg, ok := q.inFlight[receiptHandle]
	if ok {
		delete(q.inFlight, receiptHandle)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) collect(ctx context.Context, first queueMessage, max int) []queueMessage {
	if ctx == nil {
		ctx = context.Background()
	}
	messages := make([]queueMessage, 0, max)
	messages = append(messages, q.track(first))

	for len(messages) < max {
		select {
		case <-ctx.Done():
			return messages
		case msg := <-q.ch:
			messages = append(messages, q.track(msg))
		default:
			return messages
		}
	}
	return messages
}

func (q *MemoryQueue) track(msg queueMessage) queueMessage {
	msg.ReceiveCount++
	q.mu.Lock()
	q.inFlight[msg.ReceiptHandle] = msg
	q.mu.Unlock()
	return msg
}
