package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/crypto"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

type inboundPatientStore interface {
	FindByChannelAddress(ctx context.Context, tenantID uuid.UUID, address string) (store.Patient, error)
}

type inboundConversationStore interface {
	FindOpenByPatient(ctx context.Context, tenantID, patientID uuid.UUID) (store.Conversation, error)
}

type inboundMessageStore interface {
	Insert(ctx context.Context, tenantID uuid.UUID, m store.Message) (store.Message, error)
}

type inboundAuditor interface {
	RecordInboundIgnored(ctx context.Context, tenantID uuid.UUID, source, reason string) error
	RecordInboundAccepted(ctx context.Context, tenantID, conversationID, messageID uuid.UUID, source string) error
}

type replyEnqueuer interface {
	EnqueueAIReply(ctx context.Context, job AIReplyJob) error
}

// Inbound persists raw patient messages. Unknown senders and closed
// conversations are absorbed with an audit trail instead of failing the job:
// the external channel cannot know our internal state and must not retry
// forever.
type Inbound struct {
	patients      inboundPatientStore
	conversations inboundConversationStore
	messages      inboundMessageStore
	crypto        *crypto.Service
	audit         inboundAuditor
	publisher     replyEnqueuer
	logger        *logging.Logger
}

func NewInbound(
	patients inboundPatientStore,
	conversations inboundConversationStore,
	messages inboundMessageStore,
	cryptoSvc *crypto.Service,
	audit inboundAuditor,
	publisher replyEnqueuer,
	logger *logging.Logger,
) *Inbound {
	if patients == nil || conversations == nil || messages == nil {
		panic("pipeline: inbound stores are required")
	}
	if cryptoSvc == nil {
		panic("pipeline: crypto service is required")
	}
	if audit == nil {
		panic("pipeline: audit service is required")
	}
	if publisher == nil {
		panic("pipeline: publisher is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Inbound{
		patients:      patients,
		conversations: conversations,
		messages:      messages,
		crypto:        cryptoSvc,
		audit:         audit,
		publisher:     publisher,
		logger:        logger,
	}
}

// Handle decodes and processes one inbound queue job.
func (i *Inbound) Handle(ctx context.Context, body string) error {
	var job InboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return fmt.Errorf("pipeline: decode inbound job: %w", err)
	}
	return i.Ingest(ctx, job)
}

// Ingest resolves the sender, encrypts and persists the message, and fans out
// an AI reply job when the conversation has AI enabled. Duplicate deliveries
// from the channel are a success-no-op.
func (i *Inbound) Ingest(ctx context.Context, job InboundJob) error {
	if job.TenantID == uuid.Nil {
		return errors.New("pipeline: inbound job missing tenant id")
	}

	patient, err := i.patients.FindByChannelAddress(ctx, job.TenantID, job.FromPhone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			i.ignore(ctx, job, "unknown sender")
			return nil
		}
		return fmt.Errorf("pipeline: resolve patient: %w", err)
	}

	conv, err := i.conversations.FindOpenByPatient(ctx, job.TenantID, patient.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			i.ignore(ctx, job, "no open conversation")
			return nil
		}
		return fmt.Errorf("pipeline: resolve conversation: %w", err)
	}

	dek, err := i.crypto.UnwrapKey(conv.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("pipeline: unwrap conversation key: %w", err)
	}
	ciphertext, nonce, tag, err := i.crypto.Encrypt([]byte(job.Text), dek)
	if err != nil {
		return fmt.Errorf("pipeline: encrypt inbound message: %w", err)
	}

	msg, err := i.messages.Insert(ctx, job.TenantID, store.Message{
		TenantID:          job.TenantID,
		ConversationID:    conv.ID,
		Direction:         store.DirectionIn,
		Author:            store.AuthorPatient,
		Ciphertext:        ciphertext,
		Nonce:             nonce,
		Tag:               tag,
		ExternalMessageID: job.ExternalMessageID,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateDelivery) {
			i.logger.Info("duplicate inbound delivery ignored",
				"tenant_id", job.TenantID.String(),
				"external_message_id", job.ExternalMessageID,
			)
			i.ignore(ctx, job, "duplicate delivery")
			return nil
		}
		return fmt.Errorf("pipeline: persist inbound message: %w", err)
	}

	if auditErr := i.audit.RecordInboundAccepted(ctx, job.TenantID, conv.ID, msg.ID, job.Source); auditErr != nil {
		i.logger.Warn("failed to audit accepted inbound", "error", auditErr, "message_id", msg.ID.String())
	}

	if conv.AIEnabled {
		if err := i.publisher.EnqueueAIReply(ctx, AIReplyJob{
			TenantID:         job.TenantID,
			ConversationID:   conv.ID,
			TriggerMessageID: &msg.ID,
		}); err != nil {
			return fmt.Errorf("pipeline: enqueue ai reply: %w", err)
		}
	}
	return nil
}

func (i *Inbound) ignore(ctx context.Context, job InboundJob, reason string) {
	if err := i.audit.RecordInboundIgnored(ctx, job.TenantID, job.Source, reason); err != nil {
		i.logger.Warn("failed to audit ignored inbound", "error", err, "reason", reason)
	}
}
