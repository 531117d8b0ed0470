package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	syncpkg "github.com/quoteflow/backend/internal/sync"
)

type triggerSyncPayload struct {
	SyncType      string `json:"syncType"`
	ForceFullSync bool   `json:"forceFullSync"`
	BatchSize     int    `json:"batchSize"`
}

// handleTriggerSync kicks off a run and answers immediately. The run outcome
// is observable through /sync/status, never through this response.
func (h *httpHandler) handleTriggerSync(c *gin.Context) {
	var payload triggerSyncPayload
	_ = c.ShouldBindJSON(&payload)

	kind := syncpkg.KindIncremental
	if payload.SyncType != "" {
		parsed, ok := syncpkg.ParseKind(payload.SyncType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sync_type"})
			return
		}
		kind = parsed
	}
	batchSize := payload.BatchSize
	if batchSize <= 0 {
		batchSize = h.syncBatchSize
	}

	opts := syncpkg.Options{
		Kind:          kind,
		TriggeredBy:   syncpkg.TriggerManual,
		UserID:        c.GetString(userIDContextKey),
		ForceFullSync: payload.ForceFullSync,
		BatchSize:     batchSize,
	}

	go func() {
		run := h.syncEngine.Sync(context.Background(), opts)
		h.logger.Info("manual sync finished",
			zap.String("kind", string(run.Kind)),
			zap.String("status", string(run.Status)),
			zap.Int64("processed", run.ItemsProcessed),
			zap.Int64("failed", run.ItemsFailed))
	}()

	c.JSON(http.StatusOK, gin.H{
		"message":     "sync started",
		"syncType":    kind,
		"triggeredBy": syncpkg.TriggerManual,
	})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	var kind *syncpkg.Kind
	if raw := c.Query("syncType"); raw != "" {
		parsed, ok := syncpkg.ParseKind(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sync_type"})
			return
		}
		kind = &parsed
	}

	lastRun, err := h.syncEngine.LastRun(c.Request.Context(), kind)
	if err != nil {
		h.logger.Error("failed to load last sync run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	stale, err := h.syncEngine.IsStale(c.Request.Context(), h.staleThreshold)
	if err != nil {
		h.logger.Error("failed to determine sync staleness", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lastSync": lastRun,
		"isStale":  stale,
	})
}

func (h *httpHandler) handleCacheStats(c *gin.Context) {
	stats, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load cache stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	empty, err := h.catalog.IsEmpty(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to check cache emptiness", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products":  stats.Products,
		"customers": stats.Customers,
		"isEmpty":   empty,
	})
}

type cleanupPayload struct {
	DaysToKeep int `json:"daysToKeep"`
}

func (h *httpHandler) handleCacheCleanup(c *gin.Context) {
	var payload cleanupPayload
	_ = c.ShouldBindJSON(&payload)

	daysToKeep := payload.DaysToKeep
	if daysToKeep <= 0 {
		daysToKeep = defaultCleanupDays
	}

	cleaned, err := h.catalog.Cleanup(c.Request.Context(), daysToKeep)
	if err != nil {
		h.logger.Error("cache cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleanedCount": cleaned})
}
