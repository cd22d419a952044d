// Package audit provides the immutable clinical audit trail. Events record
// what the pipeline did and why, never message plaintext.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an audit event.
type EventType string

const (
	// EventInboundAccepted is logged when an inbound patient message is persisted.
	EventInboundAccepted EventType = "pipeline.inbound_accepted"
	// EventInboundIgnored is logged when an inbound message is dropped (unknown
	// sender, no open conversation, duplicate delivery).
	EventInboundIgnored EventType = "pipeline.inbound_ignored"
	// EventReplyGenerated is logged when an AI reply is produced, with the
	// fired signal names.
	EventReplyGenerated EventType = "pipeline.reply_generated"
	// EventEpisodeClosed is logged when an AI episode reaches a terminal state.
	EventEpisodeClosed EventType = "pipeline.episode_closed"
	// EventOutboundSent is logged when a reply is delivered to the channel.
	EventOutboundSent EventType = "pipeline.outbound_sent"
	// EventHighRiskAlert is logged when the owning psychologist is alerted.
	EventHighRiskAlert EventType = "safety.high_risk_alert"
)

// Event is one immutable audit record.
type Event struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	TenantID       string          `json:"tenant_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Details carries event-specific fields. Only signal names and reasons are
// recorded here, never decrypted content.
type Details struct {
	Reason         string   `json:"reason,omitempty"`
	Source         string   `json:"source,omitempty"`
	Signals        []string `json:"signals,omitempty"`
	Action         string   `json:"action,omitempty"`
	EpisodeNumber  int      `json:"episode_number,omitempty"`
	CloseReason    string   `json:"close_reason,omitempty"`
	ChannelAddress string   `json:"channel_address,omitempty"`
	Recipient      string   `json:"recipient,omitempty"`
}

// Service writes audit events.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record persists one audit event.
func (s *Service) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, tenant_id, conversation_id, message_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.TenantID,
		nullString(event.ConversationID),
		nullString(event.MessageID),
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// RecordInboundIgnored logs a dropped inbound message with its reason.
func (s *Service) RecordInboundIgnored(ctx context.Context, tenantID uuid.UUID, source, reason string) error {
	details, _ := json.Marshal(Details{Reason: reason, Source: source})
	return s.Record(ctx, Event{
		EventType: EventInboundIgnored,
		TenantID:  tenantID.String(),
		Details:   details,
	})
}

// RecordInboundAccepted logs a persisted inbound patient message.
func (s *Service) RecordInboundAccepted(ctx context.Context, tenantID, conversationID, messageID uuid.UUID, source string) error {
	details, _ := json.Marshal(Details{Source: source})
	return s.Record(ctx, Event{
		EventType:      EventInboundAccepted,
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
		MessageID:      messageID.String(),
		Details:        details,
	})
}

// RecordReplyGenerated logs an AI reply with the fired signal names and the
// action taken.
func (s *Service) RecordReplyGenerated(ctx context.Context, tenantID, conversationID, messageID uuid.UUID, signals []string, action string) error {
	details, _ := json.Marshal(Details{Signals: signals, Action: action})
	return s.Record(ctx, Event{
		EventType:      EventReplyGenerated,
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
		MessageID:      messageID.String(),
		Details:        details,
	})
}

// RecordEpisodeClosed logs a terminal episode state.
func (s *Service) RecordEpisodeClosed(ctx context.Context, tenantID, conversationID uuid.UUID, episodeNumber int, closeReason string) error {
	details, _ := json.Marshal(Details{EpisodeNumber: episodeNumber, CloseReason: closeReason})
	return s.Record(ctx, Event{
		EventType:      EventEpisodeClosed,
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
		Details:        details,
	})
}

// RecordOutboundSent logs a successful channel delivery.
func (s *Service) RecordOutboundSent(ctx context.Context, tenantID, conversationID, messageID uuid.UUID, channelAddress string) error {
	details, _ := json.Marshal(Details{ChannelAddress: channelAddress})
	return s.Record(ctx, Event{
		EventType:      EventOutboundSent,
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
		MessageID:      messageID.String(),
		Details:        details,
	})
}

// RecordHighRiskAlert logs a psychologist alert.
func (s *Service) RecordHighRiskAlert(ctx context.Context, tenantID, conversationID uuid.UUID, recipient string) error {
	details, _ := json.Marshal(Details{Recipient: recipient})
	return s.Record(ctx, Event{
		EventType:      EventHighRiskAlert,
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
		Details:        details,
	})
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	TenantID       string
	ConversationID string
	EventType      EventType
	Limit          int
}

// Query retrieves audit events for operator review, newest first.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, tenant_id, conversation_id, message_id, details, created_at
		FROM audit_events
		WHERE tenant_id = $1
	`
	args := []interface{}{filter.TenantID}
	argIdx := 2

	if filter.ConversationID != "" {
		query += fmt.Sprintf(" AND conversation_id = $%d", argIdx)
		args = append(args, filter.ConversationID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var convID, msgID sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.TenantID, &convID, &msgID, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.ConversationID = convID.String
		e.MessageID = msgID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
