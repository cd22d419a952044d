// Package pipeline implements the asynchronous message flow: inbound
// ingestion, AI reply generation, and outbound dispatch, connected by three
// durable queues.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Queue names, used for job status records and metrics labels.
const (
	QueueInbound  = "inbound"
	QueueAIReply  = "ai-reply"
	QueueOutbound = "outbound"
)

// Inbound sources.
const (
	SourceWhatsApp = "whatsapp"
	SourceWeb      = "web"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
	// Nack makes an in-flight message immediately receivable again.
	Nack(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	// ReceiveCount counts deliveries of this message, first delivery = 1.
	ReceiveCount int
}

// InboundJob carries one raw patient message from a channel adapter.
type InboundJob struct {
	ID                string    `json:"id"`
	TenantID          uuid.UUID `json:"tenantId"`
	ExternalMessageID string    `json:"externalMessageId,omitempty"`
	FromPhone         string    `json:"fromPhone"`
	Text              string    `json:"text"`
	Source            string    `json:"source"`
}

// AIReplyJob asks the reply processor to answer a conversation.
type AIReplyJob struct {
	ID               string     `json:"id"`
	TenantID         uuid.UUID  `json:"tenantId"`
	ConversationID   uuid.UUID  `json:"conversationId"`
	TriggerMessageID *uuid.UUID `json:"triggerMessageId,omitempty"`
}

// OutboundJob asks the dispatcher to deliver a persisted OUT message.
type OutboundJob struct {
	ID             string    `json:"id"`
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
}

func encodeJob(id *string, job any) (string, error) {
	if *id == "" {
		*id = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("pipeline: failed to encode job: %w", err)
	}
	return string(body), nil
}
