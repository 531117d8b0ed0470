package sync

import (
	"context"
	"time"

	"github.com/quoteflow/backend/internal/catalog"
)

// Source is the paginated view of the external catalog the engine pulls from.
// Implementations translate upstream payloads into cache records; the engine
// never sees the wire format. A nil modifiedAfter requests an unconditional
// (full) fetch, otherwise only items modified after the watermark are returned.
type Source interface {
	FetchProducts(ctx context.Context, page, perPage int, modifiedAfter *time.Time) ([]catalog.CachedProduct, error)
	FetchCustomers(ctx context.Context, page, perPage int, modifiedAfter *time.Time) ([]catalog.CachedCustomer, error)
}
