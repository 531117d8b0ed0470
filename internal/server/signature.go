package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/quote"
	"github.com/quoteflow/backend/internal/signature"
)

// Public handlers below must stay opaque on unexpected failures: the caller
// is an unauthenticated customer and gets no internal detail.

func (h *httpHandler) handleGetByToken(c *gin.Context) {
	lookup, err := h.signatures.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.logger.Error("signature lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	switch lookup.Code {
	case signature.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"status": lookup.Code})
	case signature.CodeExpired:
		c.JSON(http.StatusGone, gin.H{
			"status":      lookup.Code,
			"quoteNumber": lookup.QuoteNumber,
			"expiredAt":   lookup.ExpiredAt,
		})
	case signature.CodeAlreadySigned:
		c.JSON(http.StatusOK, gin.H{
			"status":      lookup.Code,
			"quoteNumber": lookup.QuoteNumber,
			"signedAt":    lookup.SignedAt,
		})
	case signature.CodeRejected:
		c.JSON(http.StatusOK, gin.H{
			"status":      lookup.Code,
			"quoteNumber": lookup.QuoteNumber,
			"rejectedAt":  lookup.RejectedAt,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status": signature.CodeLive,
			"quote":  lookup.Quote,
		})
	}
}

type recordViewPayload struct {
	Geolocation *quote.Geolocation `json:"geolocation"`
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	var payload recordViewPayload
	_ = c.ShouldBindJSON(&payload)

	err := h.signatures.RecordView(c.Request.Context(), c.Param("token"), c.ClientIP(), c.Request.UserAgent(), payload.Geolocation)
	if errors.Is(err, quote.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "quote not found"})
		return
	}
	if err != nil {
		h.logger.Error("view recording failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type confirmPayload struct {
	ClientTimestamp string             `json:"clientTimestamp"`
	Geolocation     *quote.Geolocation `json:"geolocation"`
}

func (h *httpHandler) handleConfirm(c *gin.Context) {
	var payload confirmPayload
	_ = c.ShouldBindJSON(&payload)

	record, err := h.signatures.Confirm(c.Request.Context(), c.Param("token"), signature.ConfirmRequest{
		IP:              c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		ClientTimestamp: payload.ClientTimestamp,
		Geolocation:     payload.Geolocation,
	})
	if err != nil {
		h.respondSignatureError(c, err, "confirm")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "quote signed",
		"quoteNumber": record.QuoteNumber,
	})
}

type rejectPayload struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleReject(c *gin.Context) {
	var payload rejectPayload
	_ = c.ShouldBindJSON(&payload)

	record, err := h.signatures.Reject(c.Request.Context(), c.Param("token"), payload.Reason, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.respondSignatureError(c, err, "reject")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "quote rejected",
		"quoteNumber": record.QuoteNumber,
	})
}

func (h *httpHandler) respondSignatureError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, quote.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
	case errors.Is(err, quote.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"success": false, "error": "link_expired"})
	case errors.Is(err, quote.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_status"})
	default:
		h.logger.Error("signature operation failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
	}
}
