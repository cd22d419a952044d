// Package handlers hosts the HTTP endpoints of the API server. Handlers stay
// thin: they validate, delegate to the pipeline or stores, and shape JSON.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/blob"
	"github.com/sanamente-ai/sanamente-platform/internal/crypto"
	"github.com/sanamente-ai/sanamente-platform/internal/pipeline"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

const tenantHeader = "X-Tenant-ID"

// maxAttachmentBytes bounds decoded attachment size (5 MiB).
const maxAttachmentBytes = 5 << 20

type conversationGetter interface {
	Get(ctx context.Context, tenantID, conversationID uuid.UUID) (store.Conversation, error)
}

type patientGetter interface {
	Get(ctx context.Context, tenantID, patientID uuid.UUID) (store.Patient, error)
}

type messageInserter interface {
	Insert(ctx context.Context, tenantID uuid.UUID, m store.Message) (store.Message, error)
}

type sendPublisher interface {
	EnqueueInbound(ctx context.Context, job pipeline.InboundJob) error
	EnqueueOutbound(ctx context.Context, job pipeline.OutboundJob) error
}

// MessagesHandler serves the internal (web) send endpoint.
type MessagesHandler struct {
	conversations conversationGetter
	patients      patientGetter
	messages      messageInserter
	crypto        *crypto.Service
	publisher     sendPublisher
	attachments   *blob.Store // optional
	logger        *logging.Logger
}

// MessagesHandlerParams bundles the constructor dependencies.
type MessagesHandlerParams struct {
	Conversations conversationGetter
	Patients      patientGetter
	Messages      messageInserter
	Crypto        *crypto.Service
	Publisher     sendPublisher
	Attachments   *blob.Store // optional
	Logger        *logging.Logger
}

func NewMessagesHandler(p MessagesHandlerParams) *MessagesHandler {
	if p.Conversations == nil || p.Patients == nil || p.Messages == nil {
		panic("handlers: message stores are required")
	}
	if p.Crypto == nil {
		panic("handlers: crypto service is required")
	}
	if p.Publisher == nil {
		panic("handlers: publisher is required")
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &MessagesHandler{
		conversations: p.Conversations,
		patients:      p.Patients,
		messages:      p.Messages,
		crypto:        p.Crypto,
		publisher:     p.Publisher,
		attachments:   p.Attachments,
		logger:        p.Logger,
	}
}

type sendMessageRequest struct {
	Author     string `json:"author"` // PSYCHOLOGIST or PATIENT
	Text       string `json:"text"`
	Attachment *struct {
		Data string `json:"data"` // base64
		Mime string `json:"mime"`
	} `json:"attachment,omitempty"`
}

type sendMessageResponse struct {
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status"`
}

// Send handles POST /api/conversations/{conversationID}/messages. Psychologist
// messages are persisted encrypted and dispatched to the channel; patient
// messages (web chat) enter the same inbound pipeline as webhook traffic.
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.Header.Get(tenantHeader))
	if err != nil || tenantID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "invalid tenant")
		return
	}
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	conv, err := h.conversations.Get(r.Context(), tenantID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to load conversation", "error", err, "conversation_id", conversationID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch req.Author {
	case store.AuthorPsychologist:
		h.sendPsychologist(w, r, tenantID, conv, req)
	case store.AuthorPatient:
		h.sendPatient(w, r, tenantID, conv, req)
	default:
		respondError(w, http.StatusBadRequest, "author must be PSYCHOLOGIST or PATIENT")
	}
}

func (h *MessagesHandler) sendPsychologist(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID, conv store.Conversation, req sendMessageRequest) {
	dek, err := h.crypto.UnwrapKey(conv.EncryptedDEK)
	if err != nil {
		h.logger.Error("failed to unwrap conversation key", "error", err, "conversation_id", conv.ID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ciphertext, nonce, tag, err := h.crypto.Encrypt([]byte(req.Text), dek)
	if err != nil {
		h.logger.Error("failed to encrypt message", "error", err, "conversation_id", conv.ID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	msg := store.Message{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		Direction:      store.DirectionOut,
		Author:         store.AuthorPsychologist,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Tag:            tag,
	}

	if req.Attachment != nil {
		if !h.attachments.Enabled() {
			respondError(w, http.StatusBadRequest, "attachments are not enabled")
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Attachment.Data)
		if err != nil || len(data) == 0 || len(data) > maxAttachmentBytes {
			respondError(w, http.StatusBadRequest, "invalid attachment")
			return
		}
		attCipher, attNonce, attTag, err := h.crypto.Encrypt(data, dek)
		if err != nil {
			h.logger.Error("failed to encrypt attachment", "error", err, "conversation_id", conv.ID.String())
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		key, err := h.attachments.Put(r.Context(), tenantID, conv.ID, attCipher)
		if err != nil {
			h.logger.Error("failed to store attachment", "error", err, "conversation_id", conv.ID.String())
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		msg.AttachmentKey = key
		msg.AttachmentNonce = attNonce
		msg.AttachmentTag = attTag
		msg.AttachmentMime = req.Attachment.Mime
		msg.AttachmentSize = int64(len(data))
	}

	inserted, err := h.messages.Insert(r.Context(), tenantID, msg)
	if err != nil {
		h.logger.Error("failed to persist psychologist message", "error", err, "conversation_id", conv.ID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.publisher.EnqueueOutbound(r.Context(), pipeline.OutboundJob{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		MessageID:      inserted.ID,
	}); err != nil {
		h.logger.Error("failed to enqueue outbound message", "error", err, "message_id", inserted.ID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusAccepted, sendMessageResponse{MessageID: inserted.ID.String(), Status: "queued"})
}

func (h *MessagesHandler) sendPatient(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID, conv store.Conversation, req sendMessageRequest) {
	patient, err := h.patients.Get(r.Context(), tenantID, conv.PatientID)
	if err != nil {
		h.logger.Error("failed to load patient", "error", err, "conversation_id", conv.ID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.publisher.EnqueueInbound(r.Context(), pipeline.InboundJob{
		TenantID:  tenantID,
		FromPhone: patient.ChannelAddress,
		Text:      req.Text,
		Source:    pipeline.SourceWeb,
	}); err != nil {
		h.logger.Error("failed to enqueue web inbound message", "error", err, "conversation_id", conv.ID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusAccepted, sendMessageResponse{Status: "queued"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
