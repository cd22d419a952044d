package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sanamente-ai/sanamente-platform/internal/store"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// userGetter resolves the alert recipient.
type userGetter interface {
	Get(ctx context.Context, tenantID, userID uuid.UUID) (store.User, error)
}

// auditor records that an alert went out.
type auditor interface {
	RecordHighRiskAlert(ctx context.Context, tenantID, conversationID uuid.UUID, recipient string) error
}

// Service sends high-risk alerts to the psychologist who owns a conversation.
type Service struct {
	email  EmailSender
	users  userGetter
	audit  auditor
	logger *logging.Logger
}

// NewService creates the alert service. email may be nil when alerts are
// disabled; the service then logs and returns without sending.
func NewService(email EmailSender, users userGetter, audit auditor, logger *logging.Logger) *Service {
	if users == nil {
		panic("notify: users cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:  email,
		users:  users,
		audit:  audit,
		logger: logger,
	}
}

// NotifyHighRisk emails the owning psychologist that a patient message fired
// the high-risk signal. The email names the conversation, never its content.
func (s *Service) NotifyHighRisk(ctx context.Context, tenantID, conversationID, psychologistID uuid.UUID) error {
	if s.email == nil {
		s.logger.Info("high risk alert skipped: email sender not configured",
			"tenant_id", tenantID.String(), "conversation_id", conversationID.String())
		return nil
	}

	user, err := s.users.Get(ctx, tenantID, psychologistID)
	if err != nil {
		return fmt.Errorf("notify: resolve psychologist: %w", err)
	}

	msg := EmailMessage{
		To:      user.Email,
		Subject: "Alerta: mensaje de alto riesgo de un paciente",
		Body: fmt.Sprintf(`Se detectó un mensaje de alto riesgo en una de tus conversaciones.

Conversación: %s

El asistente envió la respuesta de seguridad y pausó las respuestas automáticas. Por favor revisa la conversación lo antes posible.`, conversationID.String()),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send high risk alert: %w", err)
	}

	s.logger.Warn("high risk alert sent",
		"tenant_id", tenantID.String(),
		"conversation_id", conversationID.String(),
		"psychologist_id", psychologistID.String())

	if s.audit != nil {
		if err := s.audit.RecordHighRiskAlert(ctx, tenantID, conversationID, user.Email); err != nil {
			s.logger.Warn("failed to audit high risk alert", "error", err)
		}
	}
	return nil
}
