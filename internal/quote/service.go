package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	defaultLinkTTL    = 7 * 24 * time.Hour
	signaturePathSeg  = "/sign/"
	quoteNumberPrefix = "QT"
)

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// TokenProvider mints signature-link tokens. Tokens are credentials and must
// come from an unguessable 128-bit space.
type TokenProvider func() (string, error)

// ServiceConfig carries the dependencies for constructing a Service.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	TokenProvider TokenProvider
	Logger        *zap.Logger
	LinkTTL       time.Duration
	AppBaseURL    string
}

// Service owns quote records and enforces the lifecycle state machine.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	newToken   TokenProvider
	logger     *zap.Logger
	linkTTL    time.Duration
	appBaseURL string
}

// NewService validates dependencies and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tokenProvider := cfg.TokenProvider
	if tokenProvider == nil {
		tokenProvider = NewUUIDTokenProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	linkTTL := cfg.LinkTTL
	if linkTTL <= 0 {
		linkTTL = defaultLinkTTL
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		newToken:   tokenProvider,
		logger:     logger,
		linkTTL:    linkTTL,
		appBaseURL: strings.TrimRight(cfg.AppBaseURL, "/"),
	}, nil
}

// CreateRequest is the input for a new quote.
type CreateRequest struct {
	CustomerName       string
	CustomerEmail      string
	CustomerPhone      string
	CustomerCompany    string
	CustomerTaxID      string
	CustomerPostalCode string
	CustomerAddress    string
	CustomerCity       string
	CustomerState      string
	LineItems          []LineItem
	Notes              string
	PaymentTerms       *PaymentTerms
	CreatedByID        string
	CreatedByName      string
}

// UpdateRequest carries partial quote edits; nil fields are left untouched.
type UpdateRequest struct {
	CustomerName       *string
	CustomerEmail      *string
	CustomerPhone      *string
	CustomerCompany    *string
	CustomerTaxID      *string
	CustomerPostalCode *string
	CustomerAddress    *string
	CustomerCity       *string
	CustomerState      *string
	LineItems          *[]LineItem
	Notes              *string
	PaymentTerms       *PaymentTerms
}

// ListFilters narrows quote listings.
type ListFilters struct {
	Status      *Status
	Search      string
	StartDate   *time.Time
	EndDate     *time.Time
	CreatedByID string
}

// QuoteWithViews decorates a quote with read-side view analytics.
type QuoteWithViews struct {
	Quote
	ViewCount    int64
	LastViewedAt *time.Time
}

// LinkIssue is the result of minting a signature link.
type LinkIssue struct {
	SignatureLink string
	Token         string
	ExpiresAt     time.Time
	Version       int64
}

// Create persists a new draft quote. The total is always recomputed from the
// line items; a client-submitted total is never trusted.
func (s *Service) Create(ctx context.Context, request CreateRequest) (*Quote, error) {
	if strings.TrimSpace(request.CustomerName) == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	if len(request.LineItems) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrValidation)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, fmt.Errorf("quote: generate id: %w", err)
	}

	now := s.clock().UTC()
	record := &Quote{
		ID:                 id,
		CustomerName:       strings.TrimSpace(request.CustomerName),
		CustomerEmail:      request.CustomerEmail,
		CustomerPhone:      request.CustomerPhone,
		CustomerCompany:    request.CustomerCompany,
		CustomerTaxID:      request.CustomerTaxID,
		CustomerPostalCode: request.CustomerPostalCode,
		CustomerAddress:    request.CustomerAddress,
		CustomerCity:       request.CustomerCity,
		CustomerState:      request.CustomerState,
		TotalPrice:         sumLineItems(request.LineItems),
		Status:             StatusDraft,
		CreatedByID:        request.CreatedByID,
		CreatedByName:      request.CreatedByName,
		CreatedAt:          now,
		UpdatedAt:          now,
		Notes:              request.Notes,
	}
	if err := record.SetLineItems(request.LineItems); err != nil {
		return nil, err
	}
	if request.PaymentTerms != nil {
		if err := setPaymentTerms(record, request.PaymentTerms); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := nextQuoteNumber(tx, now)
		if err != nil {
			return err
		}
		record.QuoteNumber = number
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("quote: create: %w", err)
	}

	s.logger.Info("quote created",
		zap.String("quote_id", record.ID),
		zap.String("quote_number", record.QuoteNumber),
		zap.String("total_price", record.TotalPrice.String()))
	return record, nil
}

// Get returns one quote by id.
func (s *Service) Get(ctx context.Context, id string) (*Quote, error) {
	var record Quote
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("quote: get %s: %w", id, err)
	}
	return &record, nil
}

// GetByToken returns the quote holding the given signature token.
func (s *Service) GetByToken(ctx context.Context, token string) (*Quote, error) {
	var record Quote
	err := s.db.WithContext(ctx).Where("signature_token = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("quote: get by token: %w", err)
	}
	return &record, nil
}

// List returns quotes matching the filters, newest first, each decorated with
// its view count and most recent view time.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]QuoteWithViews, error) {
	query := s.db.WithContext(ctx).Model(&Quote{}).Order("created_at DESC")
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.CreatedByID != "" {
		query = query.Where("created_by_id = ?", filters.CreatedByID)
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(customer_name) LIKE ? OR LOWER(quote_number) LIKE ?", pattern, pattern)
	}
	if filters.StartDate != nil {
		query = query.Where("created_at >= ?", *filters.StartDate)
	}
	if filters.EndDate != nil {
		query = query.Where("created_at <= ?", *filters.EndDate)
	}

	var records []Quote
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("quote: list: %w", err)
	}
	if len(records) == 0 {
		return []QuoteWithViews{}, nil
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}

	type viewAggregate struct {
		QuoteID      string
		ViewCount    int64
		LastViewedAt *time.Time
	}
	var aggregates []viewAggregate
	err := s.db.WithContext(ctx).Model(&QuoteView{}).
		Select("quote_id, COUNT(*) AS view_count, MAX(viewed_at) AS last_viewed_at").
		Where("quote_id IN ?", ids).
		Group("quote_id").
		Scan(&aggregates).Error
	if err != nil {
		return nil, fmt.Errorf("quote: list view counts: %w", err)
	}

	byQuote := make(map[string]viewAggregate, len(aggregates))
	for _, aggregate := range aggregates {
		byQuote[aggregate.QuoteID] = aggregate
	}

	decorated := make([]QuoteWithViews, 0, len(records))
	for _, record := range records {
		aggregate := byQuote[record.ID]
		decorated = append(decorated, QuoteWithViews{
			Quote:        record,
			ViewCount:    aggregate.ViewCount,
			LastViewedAt: aggregate.LastViewedAt,
		})
	}
	return decorated, nil
}

// Update applies a partial edit. Converted quotes refuse edits. When the quote
// is sent with a live link, the same write atomically nulls the link and
// reverts the status to draft: an edit silently invalidates any outstanding
// customer-facing link.
func (s *Service) Update(ctx context.Context, id string, request UpdateRequest) (*Quote, error) {
	var updated Quote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Quote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current.Status == StatusConverted {
			return ErrConverted
		}

		updates := map[string]interface{}{
			"updated_at": s.clock().UTC(),
		}
		applyString(updates, "customer_name", request.CustomerName)
		applyString(updates, "customer_email", request.CustomerEmail)
		applyString(updates, "customer_phone", request.CustomerPhone)
		applyString(updates, "customer_company", request.CustomerCompany)
		applyString(updates, "customer_tax_id", request.CustomerTaxID)
		applyString(updates, "customer_postal_code", request.CustomerPostalCode)
		applyString(updates, "customer_address", request.CustomerAddress)
		applyString(updates, "customer_city", request.CustomerCity)
		applyString(updates, "customer_state", request.CustomerState)
		applyString(updates, "notes", request.Notes)

		if request.LineItems != nil {
			if len(*request.LineItems) == 0 {
				return fmt.Errorf("%w: at least one line item is required", ErrValidation)
			}
			staged := Quote{}
			if err := staged.SetLineItems(*request.LineItems); err != nil {
				return err
			}
			updates["line_items_json"] = staged.LineItemsJSON
			updates["total_price"] = sumLineItems(*request.LineItems)
		}
		if request.PaymentTerms != nil {
			staged := Quote{}
			if err := setPaymentTerms(&staged, request.PaymentTerms); err != nil {
				return err
			}
			updates["payment_terms_json"] = staged.PaymentTermsJSON
		}

		if current.Status == StatusSent && current.SignatureToken != nil {
			updates["signature_token"] = nil
			updates["signature_link_created_at"] = nil
			updates["expires_at"] = nil
			updates["status"] = StatusDraft
			s.logger.Warn("quote edit invalidated active signature link",
				zap.String("quote_id", current.ID),
				zap.String("quote_number", current.QuoteNumber))
		}

		if err := tx.Model(&Quote{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&updated).Error
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("quote: update %s: %w", id, err)
	}

	s.logger.Info("quote updated", zap.String("quote_id", updated.ID))
	return &updated, nil
}

// GenerateSignatureLink mints a fresh token, marks the quote sent, and bumps
// the link version. The version bump is a per-row conditional update so two
// concurrent generations for the same quote cannot both succeed.
func (s *Service) GenerateSignatureLink(ctx context.Context, id string) (*LinkIssue, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case StatusDraft, StatusSent:
	default:
		return nil, ErrInvalidStatus
	}
	return s.issueLink(ctx, current)
}

// RegenerateLink reissues a link only when the current one has expired.
func (s *Service) RegenerateLink(ctx context.Context, id string) (*LinkIssue, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusSent {
		return nil, ErrInvalidStatus
	}
	if !current.LinkExpired(s.clock().UTC()) {
		return nil, ErrLinkStillValid
	}
	return s.issueLink(ctx, current)
}

func (s *Service) issueLink(ctx context.Context, current *Quote) (*LinkIssue, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("quote: mint token: %w", err)
	}

	now := s.clock().UTC()
	expiresAt := now.Add(s.linkTTL)
	newVersion := current.SignatureLinkVersion + 1

	result := s.db.WithContext(ctx).Model(&Quote{}).
		Where("id = ? AND signature_link_version = ?", current.ID, current.SignatureLinkVersion).
		Updates(map[string]interface{}{
			"signature_token":           token,
			"signature_link_created_at": now,
			"expires_at":                expiresAt,
			"status":                    StatusSent,
			"signature_link_version":    newVersion,
			"updated_at":                now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("quote: issue link for %s: %w", current.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}

	s.logger.Info("signature link issued",
		zap.String("quote_id", current.ID),
		zap.String("quote_number", current.QuoteNumber),
		zap.Int64("link_version", newVersion),
		zap.Time("expires_at", expiresAt))

	return &LinkIssue{
		SignatureLink: s.appBaseURL + signaturePathSeg + token,
		Token:         token,
		ExpiresAt:     expiresAt,
		Version:       newVersion,
	}, nil
}

// ConfirmByToken transitions a sent, unexpired quote to approved and stores
// the signature evidence. A second confirm, or a confirm racing a reject,
// fails with ErrInvalidStatus; the update is conditional on status so at most
// one writer wins.
func (s *Service) ConfirmByToken(ctx context.Context, token string, evidence SignatureData) (*Quote, error) {
	current, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if current.LinkExpired(now) {
		return nil, ErrExpired
	}
	if current.Status != StatusSent {
		return nil, ErrInvalidStatus
	}

	evidence.Timestamp = now
	staged := Quote{}
	if err := setSignatureData(&staged, &evidence); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).Model(&Quote{}).
		Where("signature_token = ? AND status = ?", token, StatusSent).
		Updates(map[string]interface{}{
			"status":              StatusApproved,
			"signed_at":           now,
			"signature_data_json": staged.SignatureDataJSON,
			"updated_at":          now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("quote: confirm: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race to another confirm or reject.
		return nil, ErrInvalidStatus
	}

	updated, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	s.logger.Info("quote signed",
		zap.String("quote_id", updated.ID),
		zap.String("quote_number", updated.QuoteNumber),
		zap.String("customer", updated.CustomerName),
		zap.String("ip", evidence.IP))
	return updated, nil
}

// RejectByToken transitions a sent, unexpired quote to rejected.
func (s *Service) RejectByToken(ctx context.Context, token, reason string) (*Quote, error) {
	current, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if current.LinkExpired(now) {
		return nil, ErrExpired
	}
	if current.Status != StatusSent {
		return nil, ErrInvalidStatus
	}

	result := s.db.WithContext(ctx).Model(&Quote{}).
		Where("signature_token = ? AND status = ?", token, StatusSent).
		Updates(map[string]interface{}{
			"status":           StatusRejected,
			"rejected_at":      now,
			"rejection_reason": reason,
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("quote: reject: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInvalidStatus
	}

	updated, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	s.logger.Info("quote rejected",
		zap.String("quote_id", updated.ID),
		zap.String("quote_number", updated.QuoteNumber),
		zap.String("reason", reason))
	return updated, nil
}

// RecordView appends one audit row for a public page visit.
func (s *Service) RecordView(ctx context.Context, quoteID, ip, userAgent string, geo *Geolocation) error {
	id, err := s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("quote: generate view id: %w", err)
	}
	view := QuoteView{
		ID:        id,
		QuoteID:   quoteID,
		ViewedAt:  s.clock().UTC(),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if geo != nil {
		encoded, err := encodeGeo(geo)
		if err != nil {
			return err
		}
		view.GeolocationJSON = encoded
	}
	if err := s.db.WithContext(ctx).Create(&view).Error; err != nil {
		return fmt.Errorf("quote: record view: %w", err)
	}
	return nil
}

// ListViews returns a quote's audit trail, most recent first.
func (s *Service) ListViews(ctx context.Context, quoteID string) ([]QuoteView, error) {
	var views []QuoteView
	err := s.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("viewed_at DESC").
		Find(&views).Error
	if err != nil {
		return nil, fmt.Errorf("quote: list views: %w", err)
	}
	return views, nil
}

// Delete removes a quote and its view trail. Converted quotes are permanent.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Quote
		err := tx.Select("id", "status", "quote_number").
			Where("id = ?", id).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current.Status == StatusConverted {
			return ErrConverted
		}
		if err := tx.Where("quote_id = ?", id).Delete(&QuoteView{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Quote{}).Error
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return fmt.Errorf("quote: delete %s: %w", id, err)
	}
	s.logger.Info("quote deleted", zap.String("quote_id", id))
	return nil
}

// MarkConverted records the order produced from an approved quote. Converted
// is terminal: subsequent edits and deletion are refused.
func (s *Service) MarkConverted(ctx context.Context, id, orderID string) (*Quote, error) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Quote{}).
		Where("id = ? AND status <> ?", id, StatusConverted).
		Updates(map[string]interface{}{
			"status":                StatusConverted,
			"converted_to_order_id": orderID,
			"updated_at":            now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("quote: mark converted %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		existing, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing.Status == StatusConverted {
			return nil, ErrConverted
		}
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func sumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.EffectiveSubtotal())
	}
	return total
}

func nextQuoteNumber(tx *gorm.DB, now time.Time) (string, error) {
	year := now.Year()
	var sequence NumberSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year = ?", year).Take(&sequence).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sequence = NumberSequence{Year: year, LastValue: 1}
		if err := tx.Create(&sequence).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		sequence.LastValue++
		if err := tx.Model(&NumberSequence{}).
			Where("year = ?", year).
			Update("last_value", sequence.LastValue).Error; err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s-%d-%06d", quoteNumberPrefix, year, sequence.LastValue), nil
}

func applyString(updates map[string]interface{}, column string, value *string) {
	if value != nil {
		updates[column] = *value
	}
}

func setPaymentTerms(record *Quote, terms *PaymentTerms) error {
	encoded, err := encodeJSON(terms)
	if err != nil {
		return fmt.Errorf("quote: encode payment terms: %w", err)
	}
	record.PaymentTermsJSON = encoded
	return nil
}

func setSignatureData(record *Quote, data *SignatureData) error {
	encoded, err := encodeJSON(data)
	if err != nil {
		return fmt.Errorf("quote: encode signature data: %w", err)
	}
	record.SignatureDataJSON = encoded
	return nil
}

func encodeGeo(geo *Geolocation) (string, error) {
	encoded, err := encodeJSON(geo)
	if err != nil {
		return "", fmt.Errorf("quote: encode geolocation: %w", err)
	}
	return encoded, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLinkStillValid) ||
		errors.Is(err, ErrConverted) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrConflict)
}
