package pipeline

import (
	"context"
	"fmt"

	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// Publisher enqueues pipeline jobs. Enqueue is fire-and-forget from the
// caller's perspective: handlers never wait for job completion.
type Publisher struct {
	inbound  queueClient
	aiReply  queueClient
	outbound queueClient
	logger   *logging.Logger
}

// NewPublisher creates a publisher over the three pipeline queues.
func NewPublisher(inbound, aiReply, outbound queueClient, logger *logging.Logger) *Publisher {
	if inbound == nil || aiReply == nil || outbound == nil {
		panic("pipeline: all three queues are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		inbound:  inbound,
		aiReply:  aiReply,
		outbound: outbound,
		logger:   logger,
	}
}

// EnqueueInbound publishes a raw inbound message job.
func (p *Publisher) EnqueueInbound(ctx context.Context, job InboundJob) error {
	body, err := encodeJob(&job.ID, &job)
	if err != nil {
		return err
	}
	if err := p.inbound.Send(ctx, body); err != nil {
		return fmt.Errorf("pipeline: failed to enqueue inbound job: %w", err)
	}
	p.logger.Debug("inbound job enqueued", "job_id", job.ID, "tenant_id", job.TenantID.String(), "source", job.Source)
	return nil
}

// EnqueueAIReply publishes an AI reply job.
func (p *Publisher) EnqueueAIReply(ctx context.Context, job AIReplyJob) error {
	body, err := encodeJob(&job.ID, &job)
	if err != nil {
		return err
	}
	if err := p.aiReply.Send(ctx, body); err != nil {
		return fmt.Errorf("pipeline: failed to enqueue ai reply job: %w", err)
	}
	p.logger.Debug("ai reply job enqueued", "job_id", job.ID, "conversation_id", job.ConversationID.String())
	return nil
}

// EnqueueOutbound publishes an outbound dispatch job.
func (p *Publisher) EnqueueOutbound(ctx context.Context, job OutboundJob) error {
	body, err := encodeJob(&job.ID, &job)
	if err != nil {
		return err
	}
	if err := p.outbound.Send(ctx, body); err != nil {
		return fmt.Errorf("pipeline: failed to enqueue outbound job: %w", err)
	}
	p.logger.Debug("outbound job enqueued", "job_id", job.ID, "message_id", job.MessageID.String())
	return nil
}
