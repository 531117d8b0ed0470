// Package signature implements the public, token-authenticated path a
// customer uses to view, sign or refuse a quote. The token is the credential;
// no other authentication applies.
package signature

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/catalog"
	"github.com/quoteflow/backend/internal/quote"
)

var (
	errMissingQuotes  = errors.New("signature: quote service is required")
	errMissingCatalog = errors.New("signature: catalog store is required")
)

// Code classifies a token lookup for the public page.
type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeExpired       Code = "EXPIRED"
	CodeAlreadySigned Code = "ALREADY_SIGNED"
	CodeRejected      Code = "REJECTED"
	CodeLive          Code = "LIVE"
)

// Notifier is the fire-and-forget notification contract the flow hands
// completed transitions to. Implementations must never block or panic.
type Notifier interface {
	QuoteSigned(record *quote.Quote)
	QuoteRejected(record *quote.Quote, creatorEmail string)
}

// CreatorEmailResolver maps a creator user id to a contact address. May be
// nil when no directory is available.
type CreatorEmailResolver func(ctx context.Context, userID string) (string, bool)

// PublicQuote is the customer-safe projection of a quote: no internal ids,
// no creator identity beyond a display name.
type PublicQuote struct {
	QuoteNumber   string           `json:"quoteNumber"`
	CustomerName  string           `json:"customerName"`
	CustomerEmail string           `json:"customerEmail,omitempty"`
	Products      []quote.LineItem `json:"products"`
	TotalPrice    decimal.Decimal  `json:"totalPrice"`
	ExpiresAt     *time.Time       `json:"expiresAt"`
	Status        quote.Status     `json:"status"`
	CreatedByName string           `json:"createdByName,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// Lookup is the classified result of resolving a token.
type Lookup struct {
	Code        Code
	Quote       *PublicQuote
	QuoteNumber string
	SignedAt    *time.Time
	RejectedAt  *time.Time
	ExpiredAt   *time.Time
}

// ServiceConfig carries the dependencies for constructing a Service.
type ServiceConfig struct {
	Quotes       *quote.Service
	Catalog      *catalog.Store
	Notifier     Notifier
	ResolveEmail CreatorEmailResolver
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service validates tokens and drives the confirm/reject transitions.
type Service struct {
	quotes       *quote.Service
	catalog      *catalog.Store
	notifier     Notifier
	resolveEmail CreatorEmailResolver
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService validates dependencies and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Quotes == nil {
		return nil, errMissingQuotes
	}
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		quotes:       cfg.Quotes,
		catalog:      cfg.Catalog,
		notifier:     cfg.Notifier,
		resolveEmail: cfg.ResolveEmail,
		clock:        clock,
		logger:       logger,
	}, nil
}

// GetByToken classifies the token and, when the quote is still open, returns
// its public projection.
func (s *Service) GetByToken(ctx context.Context, token string) (Lookup, error) {
	record, err := s.quotes.GetByToken(ctx, token)
	if errors.Is(err, quote.ErrNotFound) {
		return Lookup{Code: CodeNotFound}, nil
	}
	if err != nil {
		return Lookup{}, err
	}

	if record.LinkExpired(s.clock().UTC()) {
		return Lookup{Code: CodeExpired, QuoteNumber: record.QuoteNumber, ExpiredAt: record.ExpiresAt}, nil
	}
	switch record.Status {
	case quote.StatusApproved:
		return Lookup{Code: CodeAlreadySigned, QuoteNumber: record.QuoteNumber, SignedAt: record.SignedAt}, nil
	case quote.StatusRejected:
		return Lookup{Code: CodeRejected, QuoteNumber: record.QuoteNumber, RejectedAt: record.RejectedAt}, nil
	}

	items, err := record.LineItems()
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{
		Code:        CodeLive,
		QuoteNumber: record.QuoteNumber,
		Quote: &PublicQuote{
			QuoteNumber:   record.QuoteNumber,
			CustomerName:  record.CustomerName,
			CustomerEmail: record.CustomerEmail,
			Products:      items,
			TotalPrice:    record.TotalPrice,
			ExpiresAt:     record.ExpiresAt,
			Status:        record.Status,
			CreatedByName: record.CreatedByName,
			Notes:         record.Notes,
		},
	}, nil
}

// RecordView appends a view audit row. Writing the row is best-effort: a
// storage failure is logged and reported as success so reading the quote
// never breaks over analytics.
func (s *Service) RecordView(ctx context.Context, token, ip, userAgent string, geo *quote.Geolocation) error {
	record, err := s.quotes.GetByToken(ctx, token)
	if err != nil {
		return err
	}

	if err := s.quotes.RecordView(ctx, record.ID, ip, userAgent, geo); err != nil {
		s.logger.Warn("failed to record quote view",
			zap.String("quote_id", record.ID),
			zap.Error(err))
		return nil
	}

	s.logger.Info("quote viewed",
		zap.String("quote_id", record.ID),
		zap.String("ip", ip))
	return nil
}

// ConfirmRequest carries the client context captured with a signature.
type ConfirmRequest struct {
	IP              string
	UserAgent       string
	ClientTimestamp string
	Geolocation     *quote.Geolocation
}

// Confirm signs the quote behind the token. The catalog cross-check is
// best-effort: missing or inactive products are logged and frozen into the
// signature evidence, never a reason to block the customer's approval. The
// notification fires after the transition commits and its outcome does not
// affect the returned result.
func (s *Service) Confirm(ctx context.Context, token string, request ConfirmRequest) (*quote.Quote, error) {
	current, err := s.quotes.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	evidence := quote.SignatureData{
		IP:              request.IP,
		UserAgent:       request.UserAgent,
		ClientTimestamp: request.ClientTimestamp,
		Geolocation:     request.Geolocation,
	}
	evidence.ProductValidation = s.validateLineItems(ctx, current)

	updated, err := s.quotes.ConfirmByToken(ctx, token, evidence)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.QuoteSigned(updated)
	}
	return updated, nil
}

// Reject refuses the quote behind the token.
func (s *Service) Reject(ctx context.Context, token, reason, ip, userAgent string) (*quote.Quote, error) {
	updated, err := s.quotes.RejectByToken(ctx, token, reason)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		creatorEmail := ""
		if s.resolveEmail != nil && updated.CreatedByID != "" {
			if email, ok := s.resolveEmail(ctx, updated.CreatedByID); ok {
				creatorEmail = email
			}
		}
		s.notifier.QuoteRejected(updated, creatorEmail)
	}
	return updated, nil
}

func (s *Service) validateLineItems(ctx context.Context, record *quote.Quote) *quote.ValidationSnapshot {
	items, err := record.LineItems()
	if err != nil {
		s.logger.Warn("cannot decode line items for catalog validation",
			zap.String("quote_id", record.ID),
			zap.Error(err))
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.ProductID > 0 {
			ids = append(ids, item.ProductID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	validation, err := s.catalog.ValidateProducts(ctx, ids)
	if err != nil {
		s.logger.Warn("catalog validation failed, approving without snapshot",
			zap.String("quote_id", record.ID),
			zap.Error(err))
		return nil
	}

	if len(validation.Invalid) > 0 || len(validation.Missing) > 0 {
		s.logger.Warn("quote references products absent or inactive in catalog cache",
			zap.String("quote_id", record.ID),
			zap.String("quote_number", record.QuoteNumber),
			zap.Int64s("invalid", validation.Invalid),
			zap.Int64s("missing", validation.Missing))
	}

	return &quote.ValidationSnapshot{
		Valid:   validation.Valid,
		Invalid: validation.Invalid,
		Missing: validation.Missing,
	}
}
