// Package server exposes the HTTP surface: staff quote and sync routes behind
// bearer-token auth, and the public token-keyed signature routes.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/auth"
	"github.com/quoteflow/backend/internal/catalog"
	"github.com/quoteflow/backend/internal/quote"
	"github.com/quoteflow/backend/internal/signature"
	syncpkg "github.com/quoteflow/backend/internal/sync"
)

const (
	userIDContextKey   = "quoteflow_user_id"
	userNameContextKey = "quoteflow_user_name"

	defaultStaleThreshold = 24 * time.Hour
	defaultCleanupDays    = 90
)

var (
	errMissingQuoteService     = errors.New("quote service dependency required")
	errMissingSignatureService = errors.New("signature service dependency required")
	errMissingSyncEngine       = errors.New("sync engine dependency required")
	errMissingCatalogStore     = errors.New("catalog store dependency required")
	errMissingTokenValidator   = errors.New("token validator dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// TokenValidator authenticates staff bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (auth.Principal, error)
}

// Directory records authenticated principals. Optional.
type Directory interface {
	Touch(ctx context.Context, principal auth.Principal) error
}

// Dependencies wires the handler graph.
type Dependencies struct {
	Quotes         *quote.Service
	Signatures     *signature.Service
	SyncEngine     *syncpkg.Engine
	Catalog        *catalog.Store
	Tokens         TokenValidator
	Directory      Directory
	StaleThreshold time.Duration
	SyncBatchSize  int
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Quotes == nil {
		return nil, errMissingQuoteService
	}
	if deps.Signatures == nil {
		return nil, errMissingSignatureService
	}
	if deps.SyncEngine == nil {
		return nil, errMissingSyncEngine
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalogStore
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	staleThreshold := deps.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		quotes:         deps.Quotes,
		signatures:     deps.Signatures,
		syncEngine:     deps.SyncEngine,
		catalog:        deps.Catalog,
		tokens:         deps.Tokens,
		directory:      deps.Directory,
		staleThreshold: staleThreshold,
		syncBatchSize:  deps.SyncBatchSize,
		logger:         logger,
	}

	public := router.Group("/signature")
	public.GET("/:token", handler.handleGetByToken)
	public.POST("/:token/view", handler.handleRecordView)
	public.POST("/:token/confirm", handler.handleConfirm)
	public.POST("/:token/reject", handler.handleReject)

	quotes := router.Group("/quotes")
	quotes.Use(handler.authorizeRequest)
	quotes.GET("", handler.handleListQuotes)
	quotes.POST("", handler.handleCreateQuote)
	quotes.GET("/:id", handler.handleGetQuote)
	quotes.PUT("/:id", handler.handleUpdateQuote)
	quotes.DELETE("/:id", handler.handleDeleteQuote)
	quotes.POST("/:id/signature-link", handler.handleGenerateLink)
	quotes.POST("/:id/regenerate-link", handler.handleRegenerateLink)
	quotes.GET("/:id/views", handler.handleListViews)

	syncRoutes := router.Group("/sync")
	syncRoutes.Use(handler.authorizeRequest)
	syncRoutes.POST("", handler.handleTriggerSync)
	syncRoutes.GET("/status", handler.handleSyncStatus)
	syncRoutes.GET("/stats", handler.handleCacheStats)
	syncRoutes.POST("/cleanup", handler.handleCacheCleanup)

	return router, nil
}

type httpHandler struct {
	quotes         *quote.Service
	signatures     *signature.Service
	syncEngine     *syncpkg.Engine
	catalog        *catalog.Store
	tokens         TokenValidator
	directory      Directory
	staleThreshold time.Duration
	syncBatchSize  int
	logger         *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.directory != nil {
		if err := h.directory.Touch(c.Request.Context(), principal); err != nil {
			h.logger.Warn("staff directory touch failed", zap.String("user_id", principal.UserID), zap.Error(err))
		}
	}
	c.Set(userIDContextKey, principal.UserID)
	c.Set(userNameContextKey, principal.Name)
	c.Next()
}

// respondQuoteError maps domain errors onto the contract's status codes.
// Anything unrecognized becomes a generic 500 without internal detail.
func (h *httpHandler) respondQuoteError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, quote.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "quote_not_found"})
	case errors.Is(err, quote.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, quote.ErrLinkStillValid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "link_still_valid"})
	case errors.Is(err, quote.ErrConverted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "quote_converted"})
	case errors.Is(err, quote.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "link_expired"})
	case errors.Is(err, quote.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
	case errors.Is(err, quote.ErrConflict):
		c.JSON(http.StatusBadRequest, gin.H{"error": "conflict"})
	default:
		h.logger.Error("quote operation failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
