package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/quoteflow/backend/internal/quote"
)

type capturedRequest struct {
	path      string
	userAgent string
	payload   webhookPayload
}

type webhookRecorder struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var payload webhookPayload
		_ = json.NewDecoder(req.Body).Decode(&payload)
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{
			path:      req.URL.Path,
			userAgent: req.Header.Get("User-Agent"),
			payload:   payload,
		})
		r.mu.Unlock()
		status := r.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func TestWebhookSignedPayload(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sender := NewHTTPWebhookSender(WebhookConfig{SignedURL: server.URL + "/signed"}, nil)

	record := sampleQuote("QT-2026-000010")
	signedAt := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	record.SignedAt = &signedAt

	if err := sender.QuoteSigned(context.Background(), record); err != nil {
		t.Fatalf("signed webhook failed: %v", err)
	}

	if len(recorder.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(recorder.requests))
	}
	request := recorder.requests[0]
	if request.path != "/signed" {
		t.Fatalf("unexpected path %q", request.path)
	}
	if request.userAgent != webhookUserAgent {
		t.Fatalf("unexpected user agent %q", request.userAgent)
	}
	if request.payload.Event != "quote.signed" {
		t.Fatalf("unexpected event %q", request.payload.Event)
	}
	if request.payload.Data.QuoteNumber != "QT-2026-000010" {
		t.Fatalf("unexpected quote number %q", request.payload.Data.QuoteNumber)
	}
	if request.payload.Data.TotalPrice != "300.00" {
		t.Fatalf("unexpected total %q", request.payload.Data.TotalPrice)
	}
	if len(request.payload.Data.Products) != 1 {
		t.Fatalf("expected frozen line items, got %v", request.payload.Data.Products)
	}
	if request.payload.Data.SignedAt == nil || !request.payload.Data.SignedAt.Equal(signedAt) {
		t.Fatalf("expected signedAt in the payload")
	}
}

func TestWebhookRejectedFallsBackToSignedURL(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sender := NewHTTPWebhookSender(WebhookConfig{SignedURL: server.URL + "/events"}, nil)

	record := sampleQuote("QT-2026-000011")
	record.Status = quote.StatusRejected
	record.RejectionReason = "too expensive"

	if err := sender.QuoteRejected(context.Background(), record); err != nil {
		t.Fatalf("rejected webhook failed: %v", err)
	}

	if len(recorder.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(recorder.requests))
	}
	request := recorder.requests[0]
	if request.path != "/events" {
		t.Fatalf("expected fallback to the signed URL, got %q", request.path)
	}
	if request.payload.Event != "quote.rejected" {
		t.Fatalf("unexpected event %q", request.payload.Event)
	}
	if request.payload.Data.RejectionReason != "too expensive" {
		t.Fatalf("unexpected reason %q", request.payload.Data.RejectionReason)
	}
}

func TestWebhookNon2xxIsAnError(t *testing.T) {
	recorder := &webhookRecorder{status: http.StatusBadGateway}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sender := NewHTTPWebhookSender(WebhookConfig{SignedURL: server.URL}, nil)

	if err := sender.QuoteSigned(context.Background(), sampleQuote("QT-2026-000012")); err == nil {
		t.Fatalf("expected an error for a 502 response")
	}
}

func TestWebhookUnconfiguredIsNoop(t *testing.T) {
	sender := NewHTTPWebhookSender(WebhookConfig{}, nil)
	if err := sender.QuoteSigned(context.Background(), sampleQuote("QT-2026-000013")); err != nil {
		t.Fatalf("unconfigured sender must be a noop, got %v", err)
	}
}
