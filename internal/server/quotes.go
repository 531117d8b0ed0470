package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/quote"
)

type quotePayload struct {
	ID                   string               `json:"id"`
	QuoteNumber          string               `json:"quoteNumber"`
	CustomerName         string               `json:"customerName"`
	CustomerEmail        string               `json:"customerEmail,omitempty"`
	CustomerPhone        string               `json:"customerPhone,omitempty"`
	CustomerCompany      string               `json:"customerCompany,omitempty"`
	CustomerTaxID        string               `json:"customerTaxId,omitempty"`
	CustomerPostalCode   string               `json:"customerPostalCode,omitempty"`
	CustomerAddress      string               `json:"customerAddress,omitempty"`
	CustomerCity         string               `json:"customerCity,omitempty"`
	CustomerState        string               `json:"customerState,omitempty"`
	LineItems            []quote.LineItem     `json:"lineItems"`
	TotalPrice           decimal.Decimal      `json:"totalPrice"`
	Status               quote.Status         `json:"status"`
	CreatedByID          string               `json:"createdById,omitempty"`
	CreatedByName        string               `json:"createdByName,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
	ExpiresAt            *time.Time           `json:"expiresAt,omitempty"`
	SignatureLinkVersion int64                `json:"signatureLinkVersion"`
	SignedAt             *time.Time           `json:"signedAt,omitempty"`
	SignatureData        *quote.SignatureData `json:"signatureData,omitempty"`
	RejectedAt           *time.Time           `json:"rejectedAt,omitempty"`
	RejectionReason      string               `json:"rejectionReason,omitempty"`
	ConvertedToOrderID   *string              `json:"convertedToOrderId,omitempty"`
	Notes                string               `json:"notes,omitempty"`
	PaymentTerms         *quote.PaymentTerms  `json:"paymentTerms,omitempty"`
}

type quoteListEntry struct {
	quotePayload
	ViewCount    int64      `json:"viewCount"`
	LastViewedAt *time.Time `json:"lastViewedAt,omitempty"`
}

func toQuotePayload(record *quote.Quote) (quotePayload, error) {
	items, err := record.LineItems()
	if err != nil {
		return quotePayload{}, err
	}
	evidence, err := record.SignatureEvidence()
	if err != nil {
		return quotePayload{}, err
	}
	terms, err := record.PaymentMethod()
	if err != nil {
		return quotePayload{}, err
	}
	if items == nil {
		items = []quote.LineItem{}
	}
	return quotePayload{
		ID:                   record.ID,
		QuoteNumber:          record.QuoteNumber,
		CustomerName:         record.CustomerName,
		CustomerEmail:        record.CustomerEmail,
		CustomerPhone:        record.CustomerPhone,
		CustomerCompany:      record.CustomerCompany,
		CustomerTaxID:        record.CustomerTaxID,
		CustomerPostalCode:   record.CustomerPostalCode,
		CustomerAddress:      record.CustomerAddress,
		CustomerCity:         record.CustomerCity,
		CustomerState:        record.CustomerState,
		LineItems:            items,
		TotalPrice:           record.TotalPrice,
		Status:               record.Status,
		CreatedByID:          record.CreatedByID,
		CreatedByName:        record.CreatedByName,
		CreatedAt:            record.CreatedAt,
		UpdatedAt:            record.UpdatedAt,
		ExpiresAt:            record.ExpiresAt,
		SignatureLinkVersion: record.SignatureLinkVersion,
		SignedAt:             record.SignedAt,
		SignatureData:        evidence,
		RejectedAt:           record.RejectedAt,
		RejectionReason:      record.RejectionReason,
		ConvertedToOrderID:   record.ConvertedToOrderID,
		Notes:                record.Notes,
		PaymentTerms:         terms,
	}, nil
}

type quoteCreatePayload struct {
	CustomerName       string              `json:"customerName"`
	CustomerEmail      string              `json:"customerEmail"`
	CustomerPhone      string              `json:"customerPhone"`
	CustomerCompany    string              `json:"customerCompany"`
	CustomerTaxID      string              `json:"customerTaxId"`
	CustomerPostalCode string              `json:"customerPostalCode"`
	CustomerAddress    string              `json:"customerAddress"`
	CustomerCity       string              `json:"customerCity"`
	CustomerState      string              `json:"customerState"`
	LineItems          []quote.LineItem    `json:"lineItems"`
	Notes              string              `json:"notes"`
	PaymentTerms       *quote.PaymentTerms `json:"paymentTerms"`
}

type quoteUpdatePayload struct {
	CustomerName       *string             `json:"customerName"`
	CustomerEmail      *string             `json:"customerEmail"`
	CustomerPhone      *string             `json:"customerPhone"`
	CustomerCompany    *string             `json:"customerCompany"`
	CustomerTaxID      *string             `json:"customerTaxId"`
	CustomerPostalCode *string             `json:"customerPostalCode"`
	CustomerAddress    *string             `json:"customerAddress"`
	CustomerCity       *string             `json:"customerCity"`
	CustomerState      *string             `json:"customerState"`
	LineItems          *[]quote.LineItem   `json:"lineItems"`
	Notes              *string             `json:"notes"`
	PaymentTerms       *quote.PaymentTerms `json:"paymentTerms"`
}

func (h *httpHandler) handleCreateQuote(c *gin.Context) {
	var payload quoteCreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.quotes.Create(c.Request.Context(), quote.CreateRequest{
		CustomerName:       payload.CustomerName,
		CustomerEmail:      payload.CustomerEmail,
		CustomerPhone:      payload.CustomerPhone,
		CustomerCompany:    payload.CustomerCompany,
		CustomerTaxID:      payload.CustomerTaxID,
		CustomerPostalCode: payload.CustomerPostalCode,
		CustomerAddress:    payload.CustomerAddress,
		CustomerCity:       payload.CustomerCity,
		CustomerState:      payload.CustomerState,
		LineItems:          payload.LineItems,
		Notes:              payload.Notes,
		PaymentTerms:       payload.PaymentTerms,
		CreatedByID:        c.GetString(userIDContextKey),
		CreatedByName:      c.GetString(userNameContextKey),
	})
	if err != nil {
		h.respondQuoteError(c, err, "create")
		return
	}

	response, err := toQuotePayload(record)
	if err != nil {
		h.respondQuoteError(c, err, "create")
		return
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleGetQuote(c *gin.Context) {
	record, err := h.quotes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondQuoteError(c, err, "get")
		return
	}
	response, err := toQuotePayload(record)
	if err != nil {
		h.respondQuoteError(c, err, "get")
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListQuotes(c *gin.Context) {
	filters := quote.ListFilters{
		Search:      c.Query("search"),
		CreatedByID: c.Query("createdBy"),
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := quote.ParseStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status_filter"})
			return
		}
		filters.Status = &status
	}
	if raw := c.Query("startDate"); raw != "" {
		parsed, err := parseDateParam(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_start_date"})
			return
		}
		filters.StartDate = &parsed
	}
	if raw := c.Query("endDate"); raw != "" {
		parsed, err := parseDateParam(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_end_date"})
			return
		}
		filters.EndDate = &parsed
	}

	records, err := h.quotes.List(c.Request.Context(), filters)
	if err != nil {
		h.respondQuoteError(c, err, "list")
		return
	}

	response := make([]quoteListEntry, 0, len(records))
	for index := range records {
		payload, err := toQuotePayload(&records[index].Quote)
		if err != nil {
			h.respondQuoteError(c, err, "list")
			return
		}
		response = append(response, quoteListEntry{
			quotePayload: payload,
			ViewCount:    records[index].ViewCount,
			LastViewedAt: records[index].LastViewedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUpdateQuote(c *gin.Context) {
	var payload quoteUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.quotes.Update(c.Request.Context(), c.Param("id"), quote.UpdateRequest{
		CustomerName:       payload.CustomerName,
		CustomerEmail:      payload.CustomerEmail,
		CustomerPhone:      payload.CustomerPhone,
		CustomerCompany:    payload.CustomerCompany,
		CustomerTaxID:      payload.CustomerTaxID,
		CustomerPostalCode: payload.CustomerPostalCode,
		CustomerAddress:    payload.CustomerAddress,
		CustomerCity:       payload.CustomerCity,
		CustomerState:      payload.CustomerState,
		LineItems:          payload.LineItems,
		Notes:              payload.Notes,
		PaymentTerms:       payload.PaymentTerms,
	})
	if err != nil {
		h.respondQuoteError(c, err, "update")
		return
	}

	response, err := toQuotePayload(record)
	if err != nil {
		h.respondQuoteError(c, err, "update")
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDeleteQuote(c *gin.Context) {
	if err := h.quotes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondQuoteError(c, err, "delete")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type linkPayload struct {
	SignatureLink string    `json:"signatureLink"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Version       int64     `json:"version"`
}

func (h *httpHandler) handleGenerateLink(c *gin.Context) {
	issue, err := h.quotes.GenerateSignatureLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondQuoteError(c, err, "generate_link")
		return
	}
	c.JSON(http.StatusOK, linkPayload{
		SignatureLink: issue.SignatureLink,
		Token:         issue.Token,
		ExpiresAt:     issue.ExpiresAt,
		Version:       issue.Version,
	})
}

func (h *httpHandler) handleRegenerateLink(c *gin.Context) {
	issue, err := h.quotes.RegenerateLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondQuoteError(c, err, "regenerate_link")
		return
	}
	c.JSON(http.StatusOK, linkPayload{
		SignatureLink: issue.SignatureLink,
		Token:         issue.Token,
		ExpiresAt:     issue.ExpiresAt,
		Version:       issue.Version,
	})
}

type viewPayload struct {
	ViewedAt    time.Time          `json:"viewedAt"`
	IPAddress   string             `json:"ipAddress,omitempty"`
	UserAgent   string             `json:"userAgent,omitempty"`
	Geolocation *quote.Geolocation `json:"geolocation,omitempty"`
}

func (h *httpHandler) handleListViews(c *gin.Context) {
	views, err := h.quotes.ListViews(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondQuoteError(c, err, "list_views")
		return
	}

	response := make([]viewPayload, 0, len(views))
	for index := range views {
		geo, err := views[index].Geo()
		if err != nil {
			h.logger.Warn("skipping view with undecodable geolocation",
				zap.String("view_id", views[index].ID), zap.Error(err))
			geo = nil
		}
		response = append(response, viewPayload{
			ViewedAt:    views[index].ViewedAt,
			IPAddress:   views[index].IPAddress,
			UserAgent:   views[index].UserAgent,
			Geolocation: geo,
		})
	}
	c.JSON(http.StatusOK, response)
}

func parseDateParam(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}
