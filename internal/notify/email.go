// Package notify alerts the owning psychologist when the pipeline detects a
// high-risk patient message. Alerts carry identifiers only, never message
// content.
package notify

import (
	"context"

	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// EmailSender sends alert emails. Implementations can be swapped (SES, SMTP)
// without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// StubEmailSender is a no-op sender for testing or when alerts are disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}
