package whatsapp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/pipeline"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

const (
	tenantHeader = "X-Tenant-ID"
	maxBodyBytes = 1 << 20
)

type inboundEnqueuer interface {
	EnqueueInbound(ctx context.Context, job pipeline.InboundJob) error
}

// WebhookHandler accepts inbound provider callbacks and enqueues them for
// asynchronous processing. The handler itself never touches storage.
type WebhookHandler struct {
	publisher  inboundEnqueuer
	secret     string
	production bool
	logger     *logging.Logger
}

// NewWebhookHandler creates the webhook endpoint. secret is the shared
// webhook token; when empty, unauthenticated calls are allowed only outside
// production.
func NewWebhookHandler(publisher inboundEnqueuer, secret string, production bool, logger *logging.Logger) *WebhookHandler {
	if publisher == nil {
		panic("whatsapp: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		publisher:  publisher,
		secret:     secret,
		production: production,
		logger:     logger,
	}
}

// ServeHTTP handles POST callbacks. Payloads we cannot attribute to a tenant
// or parse a message from are acknowledged with 200 and dropped: the provider
// retries on non-2xx, and retrying an unparseable payload never helps.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	tenantID, err := uuid.Parse(r.Header.Get(tenantHeader))
	if err != nil || tenantID == uuid.Nil {
		h.logger.Warn("webhook rejected: missing or invalid tenant header")
		http.Error(w, "invalid tenant", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	msg, ok := parseInbound(body)
	if !ok {
		h.logger.Info("webhook payload ignored: no extractable message", "tenant_id", tenantID.String())
		w.WriteHeader(http.StatusOK)
		return
	}

	job := pipeline.InboundJob{
		TenantID:          tenantID,
		ExternalMessageID: msg.ID,
		FromPhone:         msg.From,
		Text:              msg.Text,
		Source:            pipeline.SourceWhatsApp,
	}
	if err := h.publisher.EnqueueInbound(r.Context(), job); err != nil {
		h.logger.Error("failed to enqueue inbound webhook", "error", err, "tenant_id", tenantID.String())
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		// Open default for local development; production must configure a
		// secret and rejects everything otherwise.
		return !h.production
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

// inboundMessage is the normalized extraction result.
type inboundMessage struct {
	ID   string
	From string
	Text string
}

// parseInbound probes the known payload shapes best-effort. All three fields
// must come out non-empty for the message to be processable.
func parseInbound(body []byte) (inboundMessage, bool) {
	for _, probe := range []func([]byte) inboundMessage{probeCloudAPI, probeEnvelope, probeFlat} {
		if msg := probe(body); msg.ID != "" && msg.From != "" && msg.Text != "" {
			return msg, true
		}
	}
	return inboundMessage{}, false
}

// probeCloudAPI handles the Cloud-API-style nested shape:
// entry[].changes[].value.messages[] with text.body.
func probeCloudAPI(body []byte) inboundMessage {
	var payload struct {
		Entry []struct {
			Changes []struct {
				Value struct {
					Messages []struct {
						ID   string `json:"id"`
						From string `json:"from"`
						Text struct {
							Body string `json:"body"`
						} `json:"text"`
					} `json:"messages"`
				} `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return inboundMessage{}
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				return inboundMessage{ID: m.ID, From: m.From, Text: m.Text.Body}
			}
		}
	}
	return inboundMessage{}
}

// probeEnvelope handles the generic {"message": {...}} shape.
func probeEnvelope(body []byte) inboundMessage {
	var payload struct {
		Message struct {
			ID   string `json:"id"`
			From string `json:"from"`
			Body string `json:"body"`
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return inboundMessage{}
	}
	text := payload.Message.Body
	if text == "" {
		text = payload.Message.Text
	}
	return inboundMessage{ID: payload.Message.ID, From: payload.Message.From, Text: text}
}

// probeFlat handles the flat shape with top-level fields.
func probeFlat(body []byte) inboundMessage {
	var payload struct {
		ID        string `json:"id"`
		MessageID string `json:"messageId"`
		From      string `json:"from"`
		Text      string `json:"text"`
		Body      string `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return inboundMessage{}
	}
	id := payload.MessageID
	if id == "" {
		id = payload.ID
	}
	text := payload.Text
	if text == "" {
		text = payload.Body
	}
	return inboundMessage{ID: id, From: payload.From, Text: text}
}
