// Package notify delivers quote lifecycle notifications on a fire-and-forget
// basis: callers enqueue and move on, failures are logged and swallowed, and
// delivery never blocks or fails the request that triggered it.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/quote"
)

const (
	defaultQueueDepth   = 64
	defaultTaskDeadline = 30 * time.Second
)

// EmailSender delivers lifecycle emails. Implementations must be safe for
// concurrent use.
type EmailSender interface {
	SendQuoteApproved(ctx context.Context, record *quote.Quote) error
	SendQuoteRejected(ctx context.Context, record *quote.Quote, recipient string) error
}

// WebhookSender posts lifecycle events to the configured endpoints.
type WebhookSender interface {
	QuoteSigned(ctx context.Context, record *quote.Quote) error
	QuoteRejected(ctx context.Context, record *quote.Quote) error
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Dispatcher owns the outbound notification queue. A single worker drains it
// so delivery failures surface in logs without risking the primary request.
type Dispatcher struct {
	email   EmailSender
	webhook WebhookSender
	logger  *zap.Logger

	tasks chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// DispatcherConfig carries the dependencies for constructing a Dispatcher.
// Email and Webhook may be nil when the corresponding channel is disabled.
type DispatcherConfig struct {
	Email      EmailSender
	Webhook    WebhookSender
	Logger     *zap.Logger
	QueueDepth int
}

// NewDispatcher starts the worker and returns the Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	dispatcher := &Dispatcher{
		email:   cfg.Email,
		webhook: cfg.Webhook,
		logger:  logger,
		tasks:   make(chan task, depth),
	}
	dispatcher.wg.Add(1)
	go dispatcher.work()
	return dispatcher
}

// QuoteSigned enqueues the approved-quote notifications: an email to the
// production team and the signed webhook.
func (d *Dispatcher) QuoteSigned(record *quote.Quote) {
	if d.email != nil {
		d.enqueue(task{
			name: "email.quote_approved",
			run: func(ctx context.Context) error {
				return d.email.SendQuoteApproved(ctx, record)
			},
		})
	}
	if d.webhook != nil {
		d.enqueue(task{
			name: "webhook.quote_signed",
			run: func(ctx context.Context) error {
				return d.webhook.QuoteSigned(ctx, record)
			},
		})
	}
}

// QuoteRejected enqueues the rejected-quote notifications. The creator email
// is optional; when empty only the webhook fires.
func (d *Dispatcher) QuoteRejected(record *quote.Quote, creatorEmail string) {
	if d.email != nil && creatorEmail != "" {
		d.enqueue(task{
			name: "email.quote_rejected",
			run: func(ctx context.Context) error {
				return d.email.SendQuoteRejected(ctx, record, creatorEmail)
			},
		})
	}
	if d.webhook != nil {
		d.enqueue(task{
			name: "webhook.quote_rejected",
			run: func(ctx context.Context) error {
				return d.webhook.QuoteRejected(ctx, record)
			},
		})
	}
}

// Close stops accepting tasks and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.tasks)
	})
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(t task) {
	defer func() {
		// Enqueue after Close is a programming error upstream; drop the task
		// rather than crash the request that produced it.
		if recovered := recover(); recovered != nil {
			d.logger.Warn("notification enqueued after dispatcher close",
				zap.String("task", t.name))
		}
	}()

	select {
	case d.tasks <- t:
	default:
		d.logger.Warn("notification queue full, dropping task",
			zap.String("task", t.name))
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for t := range d.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTaskDeadline)
		if err := t.run(ctx); err != nil {
			d.logger.Error("notification delivery failed",
				zap.String("task", t.name),
				zap.Error(err))
		} else {
			d.logger.Info("notification delivered", zap.String("task", t.name))
		}
		cancel()
	}
}
