package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("catalog: database handle is required")

const defaultSearchLimit = 100

// Store is the durable mirror of the external catalog. All writes are local
// persistence only; the store never calls upstream.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// StoreConfig carries the dependencies for constructing a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewStore validates dependencies and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// UpsertProduct inserts or refreshes one product row keyed by its upstream id.
// The record's SyncedAt, IsActive and SearchText fields are owned by the store
// and overwritten on every call, so repeated calls with identical input are safe.
func (s *Store) UpsertProduct(ctx context.Context, record CachedProduct) (UpsertResult, error) {
	record.SyncedAt = s.clock().UTC()
	record.IsActive = true
	record.SearchText = buildSearchText(record.Name, record.SKU, record.ShortDescription)

	result := UpsertUpdated
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CachedProduct
		err := tx.Select("id").Where("id = ?", record.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = UpsertCreated
			return tx.Create(&record).Error
		case err != nil:
			return err
		default:
			return tx.Model(&CachedProduct{}).Where("id = ?", record.ID).
				Select("*").Omit("id").Updates(record).Error
		}
	})
	if err != nil {
		return "", fmt.Errorf("catalog: upsert product %d: %w", record.ID, err)
	}
	return result, nil
}

// UpsertCustomer inserts or refreshes one customer row keyed by its upstream id.
func (s *Store) UpsertCustomer(ctx context.Context, record CachedCustomer) (UpsertResult, error) {
	record.SyncedAt = s.clock().UTC()
	record.IsActive = true
	record.SearchText = buildSearchText(record.FirstName, record.LastName, record.Email, record.Username)

	result := UpsertUpdated
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CachedCustomer
		err := tx.Select("id").Where("id = ?", record.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = UpsertCreated
			return tx.Create(&record).Error
		case err != nil:
			return err
		default:
			return tx.Model(&CachedCustomer{}).Where("id = ?", record.ID).
				Select("*").Omit("id").Updates(record).Error
		}
	})
	if err != nil {
		return "", fmt.Errorf("catalog: upsert customer %d: %w", record.ID, err)
	}
	return result, nil
}

// GetProductByID returns a product row regardless of its active flag, or nil
// when the id has never been cached.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*CachedProduct, error) {
	var record CachedProduct
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get product %d: %w", id, err)
	}
	return &record, nil
}

// GetProductsByIDs returns the currently active products among the requested ids.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]CachedProduct, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []CachedProduct
	err := s.db.WithContext(ctx).
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("catalog: get products by ids: %w", err)
	}
	return records, nil
}

// GetCustomerByID returns a customer row regardless of its active flag, or nil
// when the id has never been cached.
func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*CachedCustomer, error) {
	var record CachedCustomer
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get customer %d: %w", id, err)
	}
	return &record, nil
}

// GetCustomerByEmail returns the active customer with the exact email, or nil.
func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*CachedCustomer, error) {
	var record CachedCustomer
	err := s.db.WithContext(ctx).
		Where("email = ? AND is_active = ?", email, true).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get customer by email: %w", err)
	}
	return &record, nil
}

// SearchProducts lists cached products matching the filters, ordered by name.
func (s *Store) SearchProducts(ctx context.Context, filters ProductFilters) ([]CachedProduct, error) {
	var records []CachedProduct
	query := s.productQuery(ctx, filters).Order("name ASC")

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query = query.Limit(limit).Offset(filters.Offset)

	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog: search products: %w", err)
	}
	return records, nil
}

// CountProducts counts cached products matching the filters.
func (s *Store) CountProducts(ctx context.Context, filters ProductFilters) (int64, error) {
	var count int64
	if err := s.productQuery(ctx, filters).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("catalog: count products: %w", err)
	}
	return count, nil
}

// SearchCustomers lists cached customers matching the filters, ordered by email.
func (s *Store) SearchCustomers(ctx context.Context, filters CustomerFilters) ([]CachedCustomer, error) {
	var records []CachedCustomer
	query := s.customerQuery(ctx, filters).Order("email ASC")

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query = query.Limit(limit).Offset(filters.Offset)

	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog: search customers: %w", err)
	}
	return records, nil
}

// CountCustomers counts cached customers matching the filters.
func (s *Store) CountCustomers(ctx context.Context, filters CustomerFilters) (int64, error) {
	var count int64
	if err := s.customerQuery(ctx, filters).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("catalog: count customers: %w", err)
	}
	return count, nil
}

// ValidateProducts classifies every requested id as valid (cached and active),
// invalid (cached but inactive) or missing (never cached). The three classes
// are disjoint and cover the input.
func (s *Store) ValidateProducts(ctx context.Context, ids []int64) (ProductValidation, error) {
	validation := ProductValidation{
		Valid:   make([]int64, 0, len(ids)),
		Invalid: []int64{},
		Missing: []int64{},
	}
	if len(ids) == 0 {
		return validation, nil
	}

	var records []CachedProduct
	err := s.db.WithContext(ctx).
		Select("id", "is_active").
		Where("id IN ?", ids).
		Find(&records).Error
	if err != nil {
		return ProductValidation{}, fmt.Errorf("catalog: validate products: %w", err)
	}

	active := make(map[int64]bool, len(records))
	for _, record := range records {
		active[record.ID] = record.IsActive
	}

	for _, id := range ids {
		isActive, present := active[id]
		switch {
		case !present:
			validation.Missing = append(validation.Missing, id)
		case isActive:
			validation.Valid = append(validation.Valid, id)
		default:
			validation.Invalid = append(validation.Invalid, id)
		}
	}
	return validation, nil
}

// Stats reports total/active/inactive counts and the most recent sync write per
// entity type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	products, err := s.entityStats(ctx, &CachedProduct{})
	if err != nil {
		return Stats{}, fmt.Errorf("catalog: product stats: %w", err)
	}
	customers, err := s.entityStats(ctx, &CachedCustomer{})
	if err != nil {
		return Stats{}, fmt.Errorf("catalog: customer stats: %w", err)
	}
	return Stats{Products: products, Customers: customers}, nil
}

// Cleanup flags rows whose last sync write is older than the retention window
// as inactive. Rows are never physically deleted here.
func (s *Store) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = 30
	}
	cutoff := s.clock().UTC().AddDate(0, 0, -daysToKeep)

	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		productResult := tx.Model(&CachedProduct{}).
			Where("synced_at < ? AND is_active = ?", cutoff, true).
			Update("is_active", false)
		if productResult.Error != nil {
			return productResult.Error
		}
		customerResult := tx.Model(&CachedCustomer{}).
			Where("synced_at < ? AND is_active = ?", cutoff, true).
			Update("is_active", false)
		if customerResult.Error != nil {
			return customerResult.Error
		}
		affected = productResult.RowsAffected + customerResult.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: cleanup: %w", err)
	}

	s.logger.Info("catalog cache cleanup completed",
		zap.Int("days_to_keep", daysToKeep),
		zap.Int64("rows_deactivated", affected))
	return affected, nil
}

// IsEmpty reports whether the cache holds zero active rows of either entity
// type. Used to force a first full sync before serving catalog-backed requests.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var productCount int64
	err := s.db.WithContext(ctx).Model(&CachedProduct{}).
		Where("is_active = ?", true).Count(&productCount).Error
	if err != nil {
		return false, fmt.Errorf("catalog: count active products: %w", err)
	}
	if productCount > 0 {
		return false, nil
	}

	var customerCount int64
	err = s.db.WithContext(ctx).Model(&CachedCustomer{}).
		Where("is_active = ?", true).Count(&customerCount).Error
	if err != nil {
		return false, fmt.Errorf("catalog: count active customers: %w", err)
	}
	return customerCount == 0, nil
}

// LatestSourceModifiedAt returns the newest upstream modification timestamp
// currently cached for the entity table, used as the sync watermark.
func (s *Store) LatestSourceModifiedAt(ctx context.Context, model interface{}) (*time.Time, error) {
	var latest struct {
		SourceModifiedAt *time.Time
	}
	err := s.db.WithContext(ctx).Model(model).
		Select("MAX(source_modified_at) AS source_modified_at").
		Scan(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("catalog: latest source modification: %w", err)
	}
	return latest.SourceModifiedAt, nil
}

func (s *Store) productQuery(ctx context.Context, filters ProductFilters) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&CachedProduct{})
	if !filters.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		for _, term := range strings.Fields(strings.ToLower(search)) {
			query = query.Where("search_text LIKE ?", "%"+term+"%")
		}
	}
	if filters.SKU != "" {
		query = query.Where("LOWER(sku) LIKE ?", "%"+strings.ToLower(filters.SKU)+"%")
	}
	if filters.Category != "" {
		// Categories are stored as a serialized JSON array of {id,name} objects;
		// containment is a substring match on the name member.
		query = query.Where("categories_json LIKE ?", `%"name":"`+filters.Category+`"%`)
	}
	return query
}

func (s *Store) customerQuery(ctx context.Context, filters CustomerFilters) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&CachedCustomer{})
	if !filters.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		for _, term := range strings.Fields(strings.ToLower(search)) {
			query = query.Where("search_text LIKE ?", "%"+term+"%")
		}
	}
	if filters.Email != "" {
		query = query.Where("LOWER(email) LIKE ?", "%"+strings.ToLower(filters.Email)+"%")
	}
	return query
}

func (s *Store) entityStats(ctx context.Context, model interface{}) (EntityStats, error) {
	var stats EntityStats
	if err := s.db.WithContext(ctx).Model(model).Count(&stats.Total).Error; err != nil {
		return EntityStats{}, err
	}
	err := s.db.WithContext(ctx).Model(model).
		Where("is_active = ?", true).Count(&stats.Active).Error
	if err != nil {
		return EntityStats{}, err
	}
	stats.Inactive = stats.Total - stats.Active

	var latest struct {
		SyncedAt *time.Time
	}
	err = s.db.WithContext(ctx).Model(model).
		Select("MAX(synced_at) AS synced_at").
		Scan(&latest).Error
	if err != nil {
		return EntityStats{}, err
	}
	stats.LastSync = latest.SyncedAt
	return stats, nil
}

func buildSearchText(parts ...string) string {
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, strings.ToLower(trimmed))
		}
	}
	return strings.Join(fields, " ")
}
