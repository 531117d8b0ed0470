package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quoteflow/backend/internal/catalog"
)

var (
	errMissingDatabase = errors.New("sync: database handle is required")
	errMissingStore    = errors.New("sync: catalog store is required")
	errMissingSource   = errors.New("sync: catalog source is required")
)

const defaultBatchSize = 100

// Cache is the slice of the catalog store the engine reconciles into. It is
// an interface so delivery-level tests can fail individual writes.
type Cache interface {
	UpsertProduct(ctx context.Context, record catalog.CachedProduct) (catalog.UpsertResult, error)
	UpsertCustomer(ctx context.Context, record catalog.CachedCustomer) (catalog.UpsertResult, error)
	LatestSourceModifiedAt(ctx context.Context, model interface{}) (*time.Time, error)
}

// Options parameterises one reconciliation run.
type Options struct {
	Kind          Kind
	TriggeredBy   Trigger
	UserID        string
	ForceFullSync bool
	BatchSize     int
}

// Engine pulls the external catalog page by page and reconciles it into the
// cache store, recording progress on a SyncRun row. Nothing here serialises
// overlapping runs of the same kind; callers are expected to rate-limit
// invocation (documented gap, see DESIGN.md).
type Engine struct {
	db     *gorm.DB
	store  Cache
	source Source
	clock  func() time.Time
	logger *zap.Logger
}

// EngineConfig carries the dependencies for constructing an Engine.
type EngineConfig struct {
	Database *gorm.DB
	Store    Cache
	Source   Source
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewEngine validates dependencies and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     cfg.Database,
		store:  cfg.Store,
		source: cfg.Source,
		clock:  clock,
		logger: logger,
	}, nil
}

// Sync executes one run to completion and returns its persisted record. The
// engine never propagates errors past this method: callers observe outcomes
// only through the returned run's status, counters and error message.
func (e *Engine) Sync(ctx context.Context, opts Options) *SyncRun {
	kind := opts.Kind
	if _, ok := ParseKind(string(kind)); !ok {
		kind = KindIncremental
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	run := &SyncRun{
		Kind:        kind,
		StartedAt:   e.clock().UTC(),
		Status:      StatusRunning,
		TriggeredBy: opts.TriggeredBy,
		UserID:      opts.UserID,
	}
	if err := e.db.WithContext(ctx).Create(run).Error; err != nil {
		e.logger.Error("failed to create sync run record", zap.Error(err))
		run.Status = StatusFailed
		run.ErrorMessage = fmt.Sprintf("create sync run: %v", err)
		return run
	}

	e.logger.Info("sync run started",
		zap.Int64("run_id", run.ID),
		zap.String("kind", string(kind)),
		zap.String("triggered_by", string(opts.TriggeredBy)),
		zap.Bool("force_full", opts.ForceFullSync))

	var runErr error
	if kind == KindProducts || kind == KindFull || kind == KindIncremental {
		runErr = e.syncProducts(ctx, run, opts.ForceFullSync, batchSize)
	}
	if runErr == nil && (kind == KindCustomers || kind == KindFull || kind == KindIncremental) {
		runErr = e.syncCustomers(ctx, run, opts.ForceFullSync, batchSize)
	}

	now := e.clock().UTC()
	if runErr != nil {
		run.Status = StatusFailed
		run.ErrorMessage = runErr.Error()
		run.CompletedAt = &now
		e.logger.Error("sync run failed",
			zap.Int64("run_id", run.ID),
			zap.Int64("items_processed", run.ItemsProcessed),
			zap.Error(runErr))
	} else {
		run.Status = StatusCompleted
		run.CompletedAt = &now
		e.logger.Info("sync run completed",
			zap.Int64("run_id", run.ID),
			zap.Int64("items_processed", run.ItemsProcessed),
			zap.Int64("items_created", run.ItemsCreated),
			zap.Int64("items_updated", run.ItemsUpdated),
			zap.Int64("items_failed", run.ItemsFailed))
	}

	if err := e.persistRun(ctx, run); err != nil {
		e.logger.Error("failed to persist terminal sync run state",
			zap.Int64("run_id", run.ID), zap.Error(err))
	}
	return run
}

// LastRun returns the most recently started run, optionally narrowed to one
// kind, or nil when no run has ever been recorded.
func (e *Engine) LastRun(ctx context.Context, kind *Kind) (*SyncRun, error) {
	var run SyncRun
	query := e.db.WithContext(ctx).Order("started_at DESC")
	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}
	err := query.Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync: last run: %w", err)
	}
	return &run, nil
}

// IsStale reports whether no successful run has completed within maxAge.
func (e *Engine) IsStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	var run SyncRun
	err := e.db.WithContext(ctx).
		Where("status = ?", StatusCompleted).
		Order("completed_at DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("sync: staleness check: %w", err)
	}
	completedAt := run.StartedAt
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}
	return e.clock().UTC().Sub(completedAt) > maxAge, nil
}

func (e *Engine) syncProducts(ctx context.Context, run *SyncRun, forceFullSync bool, batchSize int) error {
	watermark, err := e.watermark(ctx, KindProducts, forceFullSync)
	if err != nil {
		return fmt.Errorf("resolve products watermark: %w", err)
	}

	for page := 1; ; page++ {
		items, err := e.source.FetchProducts(ctx, page, batchSize, watermark)
		if err != nil {
			return fmt.Errorf("fetch products page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			result, err := e.store.UpsertProduct(ctx, item)
			if err != nil {
				run.ItemsFailed++
				e.logger.Warn("product upsert failed during sync",
					zap.Int64("run_id", run.ID),
					zap.Int64("product_id", item.ID),
					zap.Error(err))
				continue
			}
			run.ItemsProcessed++
			if result == catalog.UpsertCreated {
				run.ItemsCreated++
			} else {
				run.ItemsUpdated++
			}
		}

		if err := e.persistRun(ctx, run); err != nil {
			e.logger.Warn("failed to flush sync progress",
				zap.Int64("run_id", run.ID), zap.Error(err))
		}

		if len(items) < batchSize {
			break
		}
	}

	return e.advanceWatermark(ctx, run, &catalog.CachedProduct{})
}

func (e *Engine) syncCustomers(ctx context.Context, run *SyncRun, forceFullSync bool, batchSize int) error {
	watermark, err := e.watermark(ctx, KindCustomers, forceFullSync)
	if err != nil {
		return fmt.Errorf("resolve customers watermark: %w", err)
	}

	for page := 1; ; page++ {
		items, err := e.source.FetchCustomers(ctx, page, batchSize, watermark)
		if err != nil {
			return fmt.Errorf("fetch customers page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			result, err := e.store.UpsertCustomer(ctx, item)
			if err != nil {
				run.ItemsFailed++
				e.logger.Warn("customer upsert failed during sync",
					zap.Int64("run_id", run.ID),
					zap.Int64("customer_id", item.ID),
					zap.Error(err))
				continue
			}
			run.ItemsProcessed++
			if result == catalog.UpsertCreated {
				run.ItemsCreated++
			} else {
				run.ItemsUpdated++
			}
		}

		if err := e.persistRun(ctx, run); err != nil {
			e.logger.Warn("failed to flush sync progress",
				zap.Int64("run_id", run.ID), zap.Error(err))
		}

		if len(items) < batchSize {
			break
		}
	}

	return e.advanceWatermark(ctx, run, &catalog.CachedCustomer{})
}

// watermark resolves the incremental lower bound: the last_synced_at of the
// newest completed run covering the entity kind. Returns nil for a full fetch.
func (e *Engine) watermark(ctx context.Context, entityKind Kind, forceFullSync bool) (*time.Time, error) {
	if forceFullSync {
		return nil, nil
	}
	var run SyncRun
	err := e.db.WithContext(ctx).
		Where("kind IN ? AND status = ? AND last_synced_at IS NOT NULL",
			[]Kind{entityKind, KindFull, KindIncremental}, StatusCompleted).
		Order("started_at DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run.LastSyncedAt, nil
}

// advanceWatermark records the max upstream modification timestamp currently
// cached for the entity. The run-level watermark only moves forward.
func (e *Engine) advanceWatermark(ctx context.Context, run *SyncRun, model interface{}) error {
	latest, err := e.store.LatestSourceModifiedAt(ctx, model)
	if err != nil {
		return fmt.Errorf("compute watermark: %w", err)
	}
	if latest == nil {
		return nil
	}
	if run.LastSyncedAt == nil || latest.After(*run.LastSyncedAt) {
		run.LastSyncedAt = latest
	}
	return nil
}

func (e *Engine) persistRun(ctx context.Context, run *SyncRun) error {
	return e.db.WithContext(ctx).Save(run).Error
}
