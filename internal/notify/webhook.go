package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/quote"
)

const webhookUserAgent = "QuoteFlow-Webhook/1.0"

// WebhookConfig carries the endpoint settings for lifecycle webhooks. An
// empty URL disables the corresponding event.
type WebhookConfig struct {
	SignedURL   string
	RejectedURL string
	Timeout     time.Duration
}

// HTTPWebhookSender posts lifecycle events as JSON to configured endpoints.
type HTTPWebhookSender struct {
	signedURL   string
	rejectedURL string
	httpClient  *http.Client
	clock       func() time.Time
	logger      *zap.Logger
}

// NewHTTPWebhookSender returns a sender bounded by the configured timeout.
func NewHTTPWebhookSender(cfg WebhookConfig, logger *zap.Logger) *HTTPWebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rejectedURL := cfg.RejectedURL
	if rejectedURL == "" {
		rejectedURL = cfg.SignedURL
	}
	return &HTTPWebhookSender{
		signedURL:   cfg.SignedURL,
		rejectedURL: rejectedURL,
		httpClient:  &http.Client{Timeout: timeout},
		clock:       time.Now,
		logger:      logger,
	}
}

type webhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      webhookData `json:"data"`
}

type webhookData struct {
	QuoteNumber     string               `json:"quoteNumber"`
	CustomerName    string               `json:"customerName"`
	CustomerEmail   string               `json:"customerEmail,omitempty"`
	CustomerPhone   string               `json:"customerPhone,omitempty"`
	Products        []quote.LineItem     `json:"products"`
	TotalPrice      string               `json:"totalPrice"`
	SignedAt        *time.Time           `json:"signedAt,omitempty"`
	SignatureData   *quote.SignatureData `json:"signatureData,omitempty"`
	RejectedAt      *time.Time           `json:"rejectedAt,omitempty"`
	RejectionReason string               `json:"rejectionReason,omitempty"`
	Status          string               `json:"status,omitempty"`
}

// QuoteSigned posts the quote.signed event.
func (s *HTTPWebhookSender) QuoteSigned(ctx context.Context, record *quote.Quote) error {
	if s.signedURL == "" {
		s.logger.Debug("signed webhook not configured, skipping")
		return nil
	}
	payload, err := buildPayload("quote.signed", s.clock().UTC(), record)
	if err != nil {
		return err
	}
	return s.post(ctx, s.signedURL, payload)
}

// QuoteRejected posts the quote.rejected event.
func (s *HTTPWebhookSender) QuoteRejected(ctx context.Context, record *quote.Quote) error {
	if s.rejectedURL == "" {
		s.logger.Debug("rejected webhook not configured, skipping")
		return nil
	}
	payload, err := buildPayload("quote.rejected", s.clock().UTC(), record)
	if err != nil {
		return err
	}
	return s.post(ctx, s.rejectedURL, payload)
}

func buildPayload(event string, timestamp time.Time, record *quote.Quote) (webhookPayload, error) {
	items, err := record.LineItems()
	if err != nil {
		return webhookPayload{}, err
	}
	evidence, err := record.SignatureEvidence()
	if err != nil {
		return webhookPayload{}, err
	}
	return webhookPayload{
		Event:     event,
		Timestamp: timestamp,
		Data: webhookData{
			QuoteNumber:     record.QuoteNumber,
			CustomerName:    record.CustomerName,
			CustomerEmail:   record.CustomerEmail,
			CustomerPhone:   record.CustomerPhone,
			Products:        items,
			TotalPrice:      record.TotalPrice.StringFixed(2),
			SignedAt:        record.SignedAt,
			SignatureData:   evidence,
			RejectedAt:      record.RejectedAt,
			RejectionReason: record.RejectionReason,
			Status:          string(record.Status),
		},
	}, nil
}

func (s *HTTPWebhookSender) post(ctx context.Context, url string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", webhookUserAgent)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, 4096)) //nolint:errcheck

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook %s returned status %d", payload.Event, response.StatusCode)
	}

	s.logger.Info("webhook delivered",
		zap.String("event", payload.Event),
		zap.String("quote_number", payload.Data.QuoteNumber),
		zap.Int("status", response.StatusCode))
	return nil
}
