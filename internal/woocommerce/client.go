// Package woocommerce implements the catalog source contract against a
// WooCommerce REST API (wc/v3).
package woocommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/catalog"
)

const (
	apiBasePath = "/wp-json/wc/v3"

	// Upstream meta key carrying the store's quantity-tier price table.
	tierPricingMetaKey = "precos_por_quantidade"

	// WooCommerce GMT timestamps carry no zone designator.
	wcTimeLayout = "2006-01-02T15:04:05"
)

// Config carries the connection settings for one WooCommerce store.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Client fetches catalog pages from a WooCommerce store. All requests are
// bounded by the configured timeout.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	logger         *zap.Logger
}

// NewClient returns a Client for the given store.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

type wireMeta struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type wireProduct struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	SKU              string            `json:"sku"`
	Price            string            `json:"price"`
	RegularPrice     string            `json:"regular_price"`
	Description      string            `json:"description"`
	ShortDescription string            `json:"short_description"`
	StockStatus      string            `json:"stock_status"`
	StockQuantity    *int64            `json:"stock_quantity"`
	ManageStock      bool              `json:"manage_stock"`
	Images           []json.RawMessage `json:"images"`
	Categories       []json.RawMessage `json:"categories"`
	Attributes       []json.RawMessage `json:"attributes"`
	Variations       []json.RawMessage `json:"variations"`
	MetaData         []wireMeta        `json:"meta_data"`
	DateModifiedGMT  string            `json:"date_modified_gmt"`
}

type wireCustomer struct {
	ID              int64           `json:"id"`
	Email           string          `json:"email"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Username        string          `json:"username"`
	Billing         json.RawMessage `json:"billing"`
	Shipping        json.RawMessage `json:"shipping"`
	Role            string          `json:"role"`
	DateModifiedGMT string          `json:"date_modified_gmt"`
}

// FetchProducts returns one page of products, optionally limited to items
// modified after the watermark.
func (c *Client) FetchProducts(ctx context.Context, page, perPage int, modifiedAfter *time.Time) ([]catalog.CachedProduct, error) {
	var wire []wireProduct
	if err := c.getPage(ctx, "products", page, perPage, modifiedAfter, &wire); err != nil {
		return nil, err
	}

	records := make([]catalog.CachedProduct, 0, len(wire))
	for _, product := range wire {
		records = append(records, mapProduct(product))
	}
	return records, nil
}

// FetchCustomers returns one page of customers, optionally limited to items
// modified after the watermark.
func (c *Client) FetchCustomers(ctx context.Context, page, perPage int, modifiedAfter *time.Time) ([]catalog.CachedCustomer, error) {
	var wire []wireCustomer
	if err := c.getPage(ctx, "customers", page, perPage, modifiedAfter, &wire); err != nil {
		return nil, err
	}

	records := make([]catalog.CachedCustomer, 0, len(wire))
	for _, customer := range wire {
		records = append(records, mapCustomer(customer))
	}
	return records, nil
}

func (c *Client) getPage(ctx context.Context, resource string, page, perPage int, modifiedAfter *time.Time, out interface{}) error {
	endpoint, err := url.Parse(c.baseURL + apiBasePath + "/" + resource)
	if err != nil {
		return fmt.Errorf("woocommerce: invalid base url: %w", err)
	}

	query := endpoint.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("consumer_key", c.consumerKey)
	query.Set("consumer_secret", c.consumerSecret)
	if modifiedAfter != nil {
		query.Set("modified_after", modifiedAfter.UTC().Format(wcTimeLayout))
	}
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("woocommerce: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("woocommerce: fetch %s page %d: %w", resource, page, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("woocommerce: fetch %s page %d: unexpected status %d: %s",
			resource, page, response.StatusCode, string(body))
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("woocommerce: decode %s page %d: %w", resource, page, err)
	}
	return nil
}

// mapProduct is the single translation site from the WooCommerce wire format
// to the cache record.
func mapProduct(wire wireProduct) catalog.CachedProduct {
	return catalog.CachedProduct{
		ID:               wire.ID,
		Name:             wire.Name,
		SKU:              wire.SKU,
		Price:            parsePrice(wire.Price),
		RegularPrice:     parsePrice(wire.RegularPrice),
		Description:      wire.Description,
		ShortDescription: wire.ShortDescription,
		StockStatus:      wire.StockStatus,
		StockQuantity:    wire.StockQuantity,
		ManageStock:      wire.ManageStock,
		ImagesJSON:       encodeList(wire.Images),
		CategoriesJSON:   encodeList(wire.Categories),
		AttributesJSON:   encodeList(wire.Attributes),
		VariationsJSON:   encodeList(wire.Variations),
		MetaJSON:         encodeMeta(wire.MetaData),
		TierPricingJSON:  extractTierPricing(wire.MetaData),
		SourceModifiedAt: parseModified(wire.DateModifiedGMT),
	}
}

// mapCustomer is the single translation site from the WooCommerce wire format
// to the cache record.
func mapCustomer(wire wireCustomer) catalog.CachedCustomer {
	return catalog.CachedCustomer{
		ID:               wire.ID,
		Email:            wire.Email,
		FirstName:        wire.FirstName,
		LastName:         wire.LastName,
		Username:         wire.Username,
		BillingJSON:      encodeObject(wire.Billing),
		ShippingJSON:     encodeObject(wire.Shipping),
		Role:             wire.Role,
		SourceModifiedAt: parseModified(wire.DateModifiedGMT),
	}
}

func parsePrice(raw string) decimal.NullDecimal {
	if raw == "" {
		return decimal.NullDecimal{}
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: value, Valid: true}
}

func parseModified(raw string) time.Time {
	if raw != "" {
		if parsed, err := time.Parse(wcTimeLayout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

func encodeList(items []json.RawMessage) string {
	if len(items) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func encodeObject(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func encodeMeta(meta []wireMeta) string {
	if len(meta) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// extractTierPricing pulls the quantity-tier price table out of the product
// meta. The value arrives either as a JSON structure or as a JSON-encoded
// string; both forms are normalised to the raw structure.
func extractTierPricing(meta []wireMeta) string {
	for _, entry := range meta {
		if entry.Key != tierPricingMetaKey || len(entry.Value) == 0 {
			continue
		}
		var asString string
		if err := json.Unmarshal(entry.Value, &asString); err == nil {
			if json.Valid([]byte(asString)) {
				return asString
			}
			continue
		}
		return string(entry.Value)
	}
	return ""
}
