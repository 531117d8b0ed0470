package quote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusConverted Status = "converted"
)

// ParseStatus validates a raw status value.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusDraft, StatusSent, StatusApproved, StatusRejected, StatusConverted:
		return Status(value), true
	default:
		return "", false
	}
}

// Finishing captures the print-finishing options selected for one line item.
type Finishing struct {
	HotStamp      bool   `json:"hotStamp"`
	HotStampColor string `json:"hotStampColor,omitempty"`
	Eyelets       bool   `json:"eyelets"`
	EyeletColor   string `json:"eyeletColor,omitempty"`
	GiftHole      bool   `json:"giftHole,omitempty"`
	Cord          bool   `json:"cord"`
	CordType      string `json:"cordType,omitempty"`
	CordColor     string `json:"cordColor,omitempty"`
}

// LineItem is a denormalized copy of one quoted product. Prices are frozen at
// quoting time; the catalog cache is consulted only as a best-effort sanity
// check at signature time.
type LineItem struct {
	ProductID  int64             `json:"productId"`
	Name       string            `json:"name"`
	SKU        string            `json:"sku,omitempty"`
	UnitPrice  decimal.Decimal   `json:"unitPrice"`
	Quantity   int64             `json:"quantity"`
	Width      float64           `json:"width,omitempty"`
	Height     float64           `json:"height,omitempty"`
	Color      string            `json:"color,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Finishing  Finishing         `json:"finishing"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	ImageURL   string            `json:"imageUrl,omitempty"`
}

// EffectiveSubtotal returns the caller-provided subtotal, falling back to
// unit price times quantity when the caller left it unset.
func (item LineItem) EffectiveSubtotal() decimal.Decimal {
	if item.Subtotal.IsZero() && !item.UnitPrice.IsZero() {
		return item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
	}
	return item.Subtotal
}

// Geolocation is the optional client-reported position attached to views and
// signatures.
type Geolocation struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
}

// ValidationSnapshot is the catalog check result frozen alongside the
// signature evidence. Partition semantics match the catalog store.
type ValidationSnapshot struct {
	Valid   []int64 `json:"valid"`
	Invalid []int64 `json:"invalid"`
	Missing []int64 `json:"missing"`
}

// SignatureData is the evidence captured when a customer signs.
type SignatureData struct {
	IP                string              `json:"ip"`
	UserAgent         string              `json:"userAgent"`
	Timestamp         time.Time           `json:"timestamp"`
	ClientTimestamp   string              `json:"clientTimestamp,omitempty"`
	Geolocation       *Geolocation        `json:"geolocation,omitempty"`
	ProductValidation *ValidationSnapshot `json:"productValidation,omitempty"`
}

// PaymentTerms describes how the customer intends to pay.
type PaymentTerms struct {
	Method       string          `json:"method"`
	Installments int             `json:"installments,omitempty"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Notes        string          `json:"notes,omitempty"`
}

// Quote is the persisted proposal record. JSON-typed attributes are stored as
// text columns and decoded through the accessors below, which are the only
// mapping sites between rows and entities.
type Quote struct {
	ID          string `gorm:"column:id;primaryKey;size:36"`
	QuoteNumber string `gorm:"column:quote_number;size:32;not null;uniqueIndex"`

	CustomerName       string `gorm:"column:customer_name;size:320;not null;index"`
	CustomerEmail      string `gorm:"column:customer_email;size:320"`
	CustomerPhone      string `gorm:"column:customer_phone;size:64"`
	CustomerCompany    string `gorm:"column:customer_company;size:320"`
	CustomerTaxID      string `gorm:"column:customer_tax_id;size:32"`
	CustomerPostalCode string `gorm:"column:customer_postal_code;size:16"`
	CustomerAddress    string `gorm:"column:customer_address;size:512"`
	CustomerCity       string `gorm:"column:customer_city;size:190"`
	CustomerState      string `gorm:"column:customer_state;size:64"`

	LineItemsJSON string          `gorm:"column:line_items_json;type:text;not null;default:'[]'"`
	TotalPrice    decimal.Decimal `gorm:"column:total_price;type:decimal(12,2);not null"`

	Status Status `gorm:"column:status;size:16;not null;index"`

	CreatedByID   string `gorm:"column:created_by_id;size:190;index"`
	CreatedByName string `gorm:"column:created_by_name;size:320"`

	CreatedAt time.Time  `gorm:"column:created_at;not null;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`

	SignatureToken         *string    `gorm:"column:signature_token;size:36;uniqueIndex"`
	SignatureLinkCreatedAt *time.Time `gorm:"column:signature_link_created_at"`
	SignatureLinkVersion   int64      `gorm:"column:signature_link_version;not null;default:0"`

	SignedAt          *time.Time `gorm:"column:signed_at"`
	SignatureDataJSON string     `gorm:"column:signature_data_json;type:text"`

	RejectedAt      *time.Time `gorm:"column:rejected_at"`
	RejectionReason string     `gorm:"column:rejection_reason;type:text"`

	ConvertedToOrderID *string `gorm:"column:converted_to_order_id;size:64"`

	Notes            string `gorm:"column:notes;type:text"`
	PaymentTermsJSON string `gorm:"column:payment_terms_json;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Quote) TableName() string {
	return "quotes"
}

// LineItems decodes the stored line items.
func (q *Quote) LineItems() ([]LineItem, error) {
	if q.LineItemsJSON == "" {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal([]byte(q.LineItemsJSON), &items); err != nil {
		return nil, fmt.Errorf("quote %s: decode line items: %w", q.ID, err)
	}
	return items, nil
}

// SetLineItems encodes and stores the line items.
func (q *Quote) SetLineItems(items []LineItem) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("quote %s: encode line items: %w", q.ID, err)
	}
	q.LineItemsJSON = string(encoded)
	return nil
}

// SignatureEvidence decodes the stored signature data, if any.
func (q *Quote) SignatureEvidence() (*SignatureData, error) {
	if q.SignatureDataJSON == "" {
		return nil, nil
	}
	var data SignatureData
	if err := json.Unmarshal([]byte(q.SignatureDataJSON), &data); err != nil {
		return nil, fmt.Errorf("quote %s: decode signature data: %w", q.ID, err)
	}
	return &data, nil
}

// PaymentMethod decodes the stored payment terms, if any.
func (q *Quote) PaymentMethod() (*PaymentTerms, error) {
	if q.PaymentTermsJSON == "" {
		return nil, nil
	}
	var terms PaymentTerms
	if err := json.Unmarshal([]byte(q.PaymentTermsJSON), &terms); err != nil {
		return nil, fmt.Errorf("quote %s: decode payment terms: %w", q.ID, err)
	}
	return &terms, nil
}

// LinkExpired reports whether the signature link's expiry has passed.
func (q *Quote) LinkExpired(now time.Time) bool {
	return q.ExpiresAt != nil && q.ExpiresAt.Before(now)
}

// QuoteView is the append-only audit record of one customer visit to the
// public signature page.
type QuoteView struct {
	ID              string    `gorm:"column:id;primaryKey;size:36"`
	QuoteID         string    `gorm:"column:quote_id;size:36;not null;index:idx_quote_views_quote_time,priority:1"`
	ViewedAt        time.Time `gorm:"column:viewed_at;not null;index:idx_quote_views_quote_time,priority:2"`
	IPAddress       string    `gorm:"column:ip_address;size:64"`
	UserAgent       string    `gorm:"column:user_agent;size:512"`
	GeolocationJSON string    `gorm:"column:geolocation_json;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (QuoteView) TableName() string {
	return "quote_views"
}

// Geo decodes the stored geolocation, if any.
func (v *QuoteView) Geo() (*Geolocation, error) {
	if v.GeolocationJSON == "" {
		return nil, nil
	}
	var geo Geolocation
	if err := json.Unmarshal([]byte(v.GeolocationJSON), &geo); err != nil {
		return nil, fmt.Errorf("quote view %s: decode geolocation: %w", v.ID, err)
	}
	return &geo, nil
}

// NumberSequence backs sequential quote number assignment, one row per year.
type NumberSequence struct {
	Year      int   `gorm:"column:year;primaryKey"`
	LastValue int64 `gorm:"column:last_value;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NumberSequence) TableName() string {
	return "quote_number_sequences"
}
