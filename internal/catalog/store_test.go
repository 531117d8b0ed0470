package catalog

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, clock func() time.Time) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&CachedProduct{}, &CachedCustomer{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func decimalPtr(value string) decimal.NullDecimal {
	parsed, _ := decimal.NewFromString(value)
	return decimal.NullDecimal{Decimal: parsed, Valid: true}
}

func TestUpsertProductIdempotent(t *testing.T) {
	now := time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	record := CachedProduct{
		ID:               10,
		Name:             "Vinyl Banner",
		SKU:              "VB-10",
		Price:            decimalPtr("49.90"),
		SourceModifiedAt: now.Add(-time.Hour),
	}

	result, err := store.UpsertProduct(ctx, record)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if result != UpsertCreated {
		t.Fatalf("expected first upsert to create, got %s", result)
	}

	// same id with changed fields and an advanced clock must update in place.
	now = now.Add(30 * time.Minute)
	record.Name = "Vinyl Banner XL"
	record.Price = decimalPtr("59.90")
	result, err = store.UpsertProduct(ctx, record)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if result != UpsertUpdated {
		t.Fatalf("expected second upsert to update, got %s", result)
	}

	count, err := store.CountProducts(ctx, ProductFilters{IncludeInactive: true})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}

	stored, err := store.GetProductByID(ctx, 10)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored == nil {
		t.Fatalf("expected stored product")
	}
	if stored.Name != "Vinyl Banner XL" {
		t.Fatalf("expected latest name, got %q", stored.Name)
	}
	if !stored.SyncedAt.Equal(now) {
		t.Fatalf("expected synced_at to advance to %v, got %v", now, stored.SyncedAt)
	}
	if !stored.IsActive {
		t.Fatalf("expected upsert to reactivate the row")
	}
}

func TestUpsertBuildsSearchText(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()

	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 1, Name: "Acrylic Sign", SKU: "AS-01"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	matches, err := store.SearchProducts(ctx, ProductFilters{Search: "acrylic as-01"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != 1 {
		t.Fatalf("expected search to find the product, got %#v", matches)
	}
}

func TestSearchProductsFiltersAndPagination(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()

	seed := []CachedProduct{
		{ID: 1, Name: "Banner Small", SKU: "BAN-S", CategoriesJSON: `[{"id":3,"name":"Banners"}]`},
		{ID: 2, Name: "Banner Large", SKU: "BAN-L", CategoriesJSON: `[{"id":3,"name":"Banners"}]`},
		{ID: 3, Name: "Sticker Pack", SKU: "STK-1", CategoriesJSON: `[{"id":9,"name":"Stickers"}]`},
	}
	for _, record := range seed {
		if _, err := store.UpsertProduct(ctx, record); err != nil {
			t.Fatalf("seed upsert failed: %v", err)
		}
	}

	banners, err := store.SearchProducts(ctx, ProductFilters{Category: "Banners"})
	if err != nil {
		t.Fatalf("category search failed: %v", err)
	}
	if len(banners) != 2 {
		t.Fatalf("expected two banner products, got %d", len(banners))
	}
	// name ordering: Banner Large before Banner Small.
	if banners[0].ID != 2 || banners[1].ID != 1 {
		t.Fatalf("unexpected ordering: %d, %d", banners[0].ID, banners[1].ID)
	}

	bySKU, err := store.SearchProducts(ctx, ProductFilters{SKU: "stk"})
	if err != nil {
		t.Fatalf("sku search failed: %v", err)
	}
	if len(bySKU) != 1 || bySKU[0].ID != 3 {
		t.Fatalf("expected sku filter to find the sticker pack, got %#v", bySKU)
	}

	paged, err := store.SearchProducts(ctx, ProductFilters{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged search failed: %v", err)
	}
	if len(paged) != 1 {
		t.Fatalf("expected a single page entry, got %d", len(paged))
	}
}

func TestSearchExcludesInactiveByDefault(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()

	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 5, Name: "Retired Flag", SKU: "RF-5"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.db.Model(&CachedProduct{}).Where("id = ?", 5).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	visible, err := store.SearchProducts(ctx, ProductFilters{Search: "retired"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("expected inactive rows to be hidden, got %d", len(visible))
	}

	all, err := store.SearchProducts(ctx, ProductFilters{Search: "retired", IncludeInactive: true})
	if err != nil {
		t.Fatalf("search with inactive failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected includeInactive to surface the row, got %d", len(all))
	}
}

func TestValidateProductsPartitionsInput(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()

	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 1, Name: "Active"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 2, Name: "Inactive"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.db.Model(&CachedProduct{}).Where("id = ?", 2).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	validation, err := store.ValidateProducts(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if len(validation.Valid) != 1 || validation.Valid[0] != 1 {
		t.Fatalf("unexpected valid set: %v", validation.Valid)
	}
	if len(validation.Invalid) != 1 || validation.Invalid[0] != 2 {
		t.Fatalf("unexpected invalid set: %v", validation.Invalid)
	}
	if len(validation.Missing) != 1 || validation.Missing[0] != 3 {
		t.Fatalf("unexpected missing set: %v", validation.Missing)
	}

	total := len(validation.Valid) + len(validation.Invalid) + len(validation.Missing)
	if total != 3 {
		t.Fatalf("partition must cover the input exactly, covered %d of 3", total)
	}
}

func TestCleanupDeactivatesStaleRows(t *testing.T) {
	now := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 1, Name: "Stale"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := store.UpsertCustomer(ctx, CachedCustomer{ID: 1, Email: "old@example.com"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	now = now.AddDate(0, 0, 40)
	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 2, Name: "Fresh"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	cleaned, err := store.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if cleaned != 2 {
		t.Fatalf("expected two stale rows deactivated, got %d", cleaned)
	}

	stale, err := store.GetProductByID(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stale == nil || stale.IsActive {
		t.Fatalf("expected stale product to remain but be inactive: %#v", stale)
	}
	fresh, err := store.GetProductByID(ctx, 2)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fresh == nil || !fresh.IsActive {
		t.Fatalf("expected fresh product to stay active")
	}
}

func TestStatsAndIsEmpty(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	empty, err := store.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("isEmpty failed: %v", err)
	}
	if !empty {
		t.Fatalf("expected a fresh cache to be empty")
	}

	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 1, Name: "One"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := store.UpsertProduct(ctx, CachedProduct{ID: 2, Name: "Two"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.db.Model(&CachedProduct{}).Where("id = ?", 2).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Products.Total != 2 || stats.Products.Active != 1 || stats.Products.Inactive != 1 {
		t.Fatalf("unexpected product stats: %#v", stats.Products)
	}
	if stats.Products.LastSync == nil || !stats.Products.LastSync.Equal(now) {
		t.Fatalf("expected last sync %v, got %v", now, stats.Products.LastSync)
	}
	if stats.Customers.Total != 0 {
		t.Fatalf("expected no customers, got %#v", stats.Customers)
	}

	empty, err = store.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("isEmpty failed: %v", err)
	}
	if empty {
		t.Fatalf("expected cache with an active product to be non-empty")
	}
}

func TestGetProductsByIDsActiveOnly(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()

	seed := []CachedProduct{
		{ID: 1, Name: "Banner"},
		{ID: 2, Name: "Retired Sign"},
		{ID: 3, Name: "Sticker"},
	}
	for _, record := range seed {
		if _, err := store.UpsertProduct(ctx, record); err != nil {
			t.Fatalf("seed upsert failed: %v", err)
		}
	}
	if err := store.db.Model(&CachedProduct{}).Where("id = ?", 2).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	records, err := store.GetProductsByIDs(ctx, []int64{1, 2, 3, 99})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	found := make(map[int64]bool, len(records))
	for _, record := range records {
		found[record.ID] = true
	}
	if len(found) != 2 || !found[1] || !found[3] {
		t.Fatalf("expected only the active cached products 1 and 3, got %v", found)
	}

	none, err := store.GetProductsByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("empty lookup failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for an empty id set, got %#v", none)
	}
}

func seedCustomers(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	seed := []CachedCustomer{
		{ID: 1, Email: "ana@acme.example", FirstName: "Ana", LastName: "Silva"},
		{ID: 2, Email: "bruno@acme.example", FirstName: "Bruno", LastName: "Costa"},
		{ID: 3, Email: "carla@other.example", FirstName: "Carla", LastName: "Silva"},
		{ID: 4, Email: "gone@acme.example", FirstName: "Gone", LastName: "Client"},
	}
	for _, record := range seed {
		if _, err := store.UpsertCustomer(ctx, record); err != nil {
			t.Fatalf("seed upsert failed: %v", err)
		}
	}
	if err := store.db.Model(&CachedCustomer{}).Where("id = ?", 4).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
}

func TestSearchCustomersFiltersAndOrdering(t *testing.T) {
	store := newTestStore(t, time.Now)
	seedCustomers(t, store)
	ctx := context.Background()

	// email filter is a case-insensitive substring; inactive rows are hidden.
	byDomain, err := store.SearchCustomers(ctx, CustomerFilters{Email: "ACME.example"})
	if err != nil {
		t.Fatalf("email search failed: %v", err)
	}
	if len(byDomain) != 2 {
		t.Fatalf("expected two active acme customers, got %d", len(byDomain))
	}
	if byDomain[0].Email != "ana@acme.example" || byDomain[1].Email != "bruno@acme.example" {
		t.Fatalf("expected email ascending ordering, got %q, %q", byDomain[0].Email, byDomain[1].Email)
	}

	// every search term must match independently against the search text.
	byName, err := store.SearchCustomers(ctx, CustomerFilters{Search: "silva carla"})
	if err != nil {
		t.Fatalf("name search failed: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != 3 {
		t.Fatalf("expected only carla silva, got %#v", byName)
	}

	withInactive, err := store.SearchCustomers(ctx, CustomerFilters{Email: "acme.example", IncludeInactive: true})
	if err != nil {
		t.Fatalf("inactive search failed: %v", err)
	}
	if len(withInactive) != 3 {
		t.Fatalf("expected includeInactive to surface the deactivated row, got %d", len(withInactive))
	}

	paged, err := store.SearchCustomers(ctx, CustomerFilters{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged search failed: %v", err)
	}
	if len(paged) != 1 || paged[0].Email != "bruno@acme.example" {
		t.Fatalf("expected the second customer by email, got %#v", paged)
	}
}

func TestCountCustomersMatchesFilters(t *testing.T) {
	store := newTestStore(t, time.Now)
	seedCustomers(t, store)
	ctx := context.Background()

	active, err := store.CountCustomers(ctx, CustomerFilters{})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if active != 3 {
		t.Fatalf("expected three active customers, got %d", active)
	}

	all, err := store.CountCustomers(ctx, CustomerFilters{IncludeInactive: true})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if all != 4 {
		t.Fatalf("expected four customers overall, got %d", all)
	}

	byDomain, err := store.CountCustomers(ctx, CustomerFilters{Email: "acme.example"})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if byDomain != 2 {
		t.Fatalf("expected two active acme customers, got %d", byDomain)
	}
}

func TestGetCustomerByEmail(t *testing.T) {
	store := newTestStore(t, time.Now)
	ctx := context.Background()

	if _, err := store.UpsertCustomer(ctx, CachedCustomer{ID: 7, Email: "client@example.com", FirstName: "Rita"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	found, err := store.GetCustomerByEmail(ctx, "client@example.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found == nil || found.ID != 7 {
		t.Fatalf("expected customer 7, got %#v", found)
	}

	missing, err := store.GetCustomerByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown email, got %#v", missing)
	}
}
