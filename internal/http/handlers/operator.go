package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/audit"
	"github.com/sanamente-ai/sanamente-platform/internal/snapshot"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// OperatorHandler serves the operator debugging surface: prompt snapshots and
// the audit trail. Snapshots expire after their TTL, so a 404 here is normal.
type OperatorHandler struct {
	snapshots *snapshot.Store
	audit     *audit.Service
	logger    *logging.Logger
}

func NewOperatorHandler(snapshots *snapshot.Store, auditSvc *audit.Service, logger *logging.Logger) *OperatorHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OperatorHandler{snapshots: snapshots, audit: auditSvc, logger: logger}
}

// GetPromptSnapshot handles GET /operator/conversations/{conversationID}/prompt-snapshot.
func (h *OperatorHandler) GetPromptSnapshot(w http.ResponseWriter, r *http.Request) {
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

	if h.snapshots == nil {
		respondError(w, http.StatusNotFound, "snapshots are not enabled")
		return
	}

	snap, err := h.snapshots.Get(r.Context(), tenantID, conversationID)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no snapshot for conversation")
			return
		}
		h.logger.Error("failed to load prompt snapshot", "error", err, "conversation_id", conversationID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListAuditEvents handles GET /operator/audit-events. Optional query params:
// conversationId, eventType, limit.
func (h *OperatorHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.Header.Get(tenantHeader))
	if err != nil || tenantID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "invalid tenant")
		return
	}
	if h.audit == nil {
		respondError(w, http.StatusNotFound, "audit trail is not enabled")
		return
	}

	filter := audit.Filter{
		TenantID:  tenantID.String(),
		EventType: audit.EventType(r.URL.Query().Get("eventType")),
		Limit:     100,
	}
	if convID := r.URL.Query().Get("conversationId"); convID != "" {
		parsed, err := uuid.Parse(convID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
		filter.ConversationID = parsed.String()
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "error", err, "tenant_id", tenantID.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}
