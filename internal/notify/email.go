package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/quote"
)

// EmailConfig carries SMTP settings. Disabled senders accept every call as a
// silent no-op so callers never need to special-case the channel being off.
type EmailConfig struct {
	Enabled          bool
	From             string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	ProductionEmails []string
}

// SMTPEmailSender delivers plain-text lifecycle emails over SMTP.
type SMTPEmailSender struct {
	cfg    EmailConfig
	logger *zap.Logger
}

// NewSMTPEmailSender returns an SMTP-backed sender.
func NewSMTPEmailSender(cfg EmailConfig, logger *zap.Logger) *SMTPEmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPEmailSender{cfg: cfg, logger: logger}
}

// SendQuoteApproved notifies the production team that a quote was signed.
func (s *SMTPEmailSender) SendQuoteApproved(ctx context.Context, record *quote.Quote) error {
	if !s.cfg.Enabled {
		s.logger.Debug("email disabled, skipping approved notification")
		return nil
	}
	if len(s.cfg.ProductionEmails) == 0 {
		s.logger.Warn("no production recipients configured for approved notification")
		return nil
	}

	subject := fmt.Sprintf("Quote %s approved by %s", record.QuoteNumber, record.CustomerName)
	body, err := approvedBody(record)
	if err != nil {
		return err
	}
	return s.send(ctx, s.cfg.ProductionEmails, subject, body)
}

// SendQuoteRejected notifies the quote's creator of the customer's refusal.
func (s *SMTPEmailSender) SendQuoteRejected(ctx context.Context, record *quote.Quote, recipient string) error {
	if !s.cfg.Enabled {
		s.logger.Debug("email disabled, skipping rejected notification")
		return nil
	}
	if recipient == "" {
		return nil
	}

	subject := fmt.Sprintf("Quote %s rejected by %s", record.QuoteNumber, record.CustomerName)
	body, err := rejectedBody(record)
	if err != nil {
		return err
	}
	return s.send(ctx, []string{recipient}, subject, body)
}

func approvedBody(record *quote.Quote) (string, error) {
	items, err := record.LineItems()
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Quote %s was signed by %s.\n\n", record.QuoteNumber, record.CustomerName)
	if record.SignedAt != nil {
		fmt.Fprintf(&builder, "Signed at: %s\n", record.SignedAt.Format("2006-01-02 15:04:05 MST"))
	}
	builder.WriteString("\nItems:\n")
	for _, item := range items {
		fmt.Fprintf(&builder, "  - %s x%d @ %s = %s\n",
			item.Name, item.Quantity,
			item.UnitPrice.StringFixed(2), item.EffectiveSubtotal().StringFixed(2))
	}
	fmt.Fprintf(&builder, "\nTotal: %s\n", record.TotalPrice.StringFixed(2))
	return builder.String(), nil
}

func rejectedBody(record *quote.Quote) (string, error) {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Quote %s was rejected by %s.\n", record.QuoteNumber, record.CustomerName)
	if record.RejectedAt != nil {
		fmt.Fprintf(&builder, "Rejected at: %s\n", record.RejectedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if record.RejectionReason != "" {
		fmt.Fprintf(&builder, "Reason: %s\n", record.RejectionReason)
	}
	fmt.Fprintf(&builder, "Total: %s\n", record.TotalPrice.StringFixed(2))
	return builder.String(), nil
}

func (s *SMTPEmailSender) send(ctx context.Context, recipients []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + strings.Join(recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	address := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	if err := smtp.SendMail(address, auth, s.cfg.From, recipients, []byte(message)); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}

	s.logger.Info("email delivered",
		zap.String("subject", subject),
		zap.Int("recipients", len(recipients)))
	return nil
}
