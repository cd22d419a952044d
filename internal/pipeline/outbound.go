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

// ChannelSender delivers plaintext to a patient's external channel address.
type ChannelSender interface {
	Send(ctx context.Context, to, text string) error
}

type outboundConversationStore interface {
	Get(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Conversation, error)
}

type outboundMessageStore interface {
	Get(ctx context.Context, tenantID, messageID uuid.UUID) (store.Message, error)
}

type outboundPatientStore interface {
	Get(ctx context.Context, tenantID, patientID uuid.UUID) (store.Patient, error)
}

type outboundAuditor interface {
	RecordOutboundSent(ctx context.Context, tenantID, conversationID, messageID uuid.UUID, channelAddress string) error
}

// Outbound delivers persisted OUT messages to the external channel. Channel
// send failures propagate so the queue retries delivery.
type Outbound struct {
	conversations outboundConversationStore
	messages      outboundMessageStore
	patients      outboundPatientStore
	crypto        *crypto.Service
	channel       ChannelSender
	audit         outboundAuditor
	logger        *logging.Logger
}

func NewOutbound(
	conversations outboundConversationStore,
	messages outboundMessageStore,
	patients outboundPatientStore,
	cryptoSvc *crypto.Service,
	channel ChannelSender,
	audit outboundAuditor,
	logger *logging.Logger,
) *Outbound {
	if conversations == nil || messages == nil || patients == nil {
		panic("pipeline: outbound stores are required")
	}
	if cryptoSvc == nil {
		panic("pipeline: crypto service is required")
	}
	if channel == nil {
		panic("pipeline: channel sender is required")
	}
	if audit == nil {
		panic("pipeline: audit service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Outbound{
		conversations: conversations,
		messages:      messages,
		patients:      patients,
		crypto:        cryptoSvc,
		channel:       channel,
		audit:         audit,
		logger:        logger,
	}
}

// Handle decodes and processes one outbound queue job.
func (o *Outbound) Handle(ctx context.Context, body string) error {
	var job OutboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return fmt.Errorf("pipeline: decode outbound job: %w", err)
	}
	return o.Dispatch(ctx, job)
}

// Dispatch decrypts and sends one message. Missing rows and non-OUT messages
// are no-ops; there is nothing useful to retry.
func (o *Outbound) Dispatch(ctx context.Context, job OutboundJob) error {
	conv, err := o.conversations.Get(ctx, job.TenantID, job.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Info("outbound skipped: conversation missing", "conversation_id", job.ConversationID.String())
			return nil
		}
		return fmt.Errorf("pipeline: load conversation: %w", err)
	}

	msg, err := o.messages.Get(ctx, job.TenantID, job.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Info("outbound skipped: message missing", "message_id", job.MessageID.String())
			return nil
		}
		return fmt.Errorf("pipeline: load message: %w", err)
	}
	if msg.Direction != store.DirectionOut {
		o.logger.Warn("outbound skipped: message is not outgoing", "message_id", msg.ID.String(), "direction", msg.Direction)
		return nil
	}

	patient, err := o.patients.Get(ctx, job.TenantID, conv.PatientID)
	if err != nil {
		return fmt.Errorf("pipeline: load patient: %w", err)
	}

	dek, err := o.crypto.UnwrapKey(conv.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("pipeline: unwrap conversation key: %w", err)
	}
	plaintext, err := o.crypto.Decrypt(msg.Ciphertext, msg.Nonce, msg.Tag, dek)
	if err != nil {
		return fmt.Errorf("pipeline: decrypt message %s: %w", msg.ID, err)
	}

	if err := o.channel.Send(ctx, patient.ChannelAddress, string(plaintext)); err != nil {
		// Not swallowed: the queue retries delivery with backoff.
		return fmt.Errorf("pipeline: channel send: %w", err)
	}

	if auditErr := o.audit.RecordOutboundSent(ctx, job.TenantID, conv.ID, msg.ID, patient.ChannelAddress); auditErr != nil {
		o.logger.Warn("failed to audit outbound send", "error", auditErr, "message_id", msg.ID.String())
	}
	return nil
}
