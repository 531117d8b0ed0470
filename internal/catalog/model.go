package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedProduct mirrors one product record from the external catalog. Rows are
// keyed by the upstream id and survive across syncs; records that disappear
// upstream are flagged inactive rather than deleted.
type CachedProduct struct {
	ID               int64               `gorm:"column:id;primaryKey"`
	Name             string              `gorm:"column:name;size:512;not null"`
	SKU              string              `gorm:"column:sku;size:190;index"`
	Price            decimal.NullDecimal `gorm:"column:price;type:decimal(12,2)"`
	RegularPrice     decimal.NullDecimal `gorm:"column:regular_price;type:decimal(12,2)"`
	Description      string              `gorm:"column:description;type:text"`
	ShortDescription string              `gorm:"column:short_description;type:text"`
	StockStatus      string              `gorm:"column:stock_status;size:32"`
	StockQuantity    *int64              `gorm:"column:stock_quantity"`
	ManageStock      bool                `gorm:"column:manage_stock;not null;default:false"`
	ImagesJSON       string              `gorm:"column:images_json;type:text;not null;default:'[]'"`
	CategoriesJSON   string              `gorm:"column:categories_json;type:text;not null;default:'[]'"`
	AttributesJSON   string              `gorm:"column:attributes_json;type:text;not null;default:'[]'"`
	VariationsJSON   string              `gorm:"column:variations_json;type:text;not null;default:'[]'"`
	MetaJSON         string              `gorm:"column:meta_json;type:text;not null;default:'[]'"`
	TierPricingJSON  string              `gorm:"column:tier_pricing_json;type:text"`
	SearchText       string              `gorm:"column:search_text;type:text;not null;default:'';index"`
	SourceModifiedAt time.Time           `gorm:"column:source_modified_at;not null;index"`
	SyncedAt         time.Time           `gorm:"column:synced_at;not null;index"`
	IsActive         bool                `gorm:"column:is_active;not null;default:true;index"`
}

// TableName provides the explicit table binding for GORM.
func (CachedProduct) TableName() string {
	return "catalog_products"
}

// CachedCustomer mirrors one customer record from the external catalog.
type CachedCustomer struct {
	ID               int64     `gorm:"column:id;primaryKey"`
	Email            string    `gorm:"column:email;size:320;not null;index"`
	FirstName        string    `gorm:"column:first_name;size:190"`
	LastName         string    `gorm:"column:last_name;size:190"`
	Username         string    `gorm:"column:username;size:190"`
	BillingJSON      string    `gorm:"column:billing_json;type:text;not null;default:'{}'"`
	ShippingJSON     string    `gorm:"column:shipping_json;type:text;not null;default:'{}'"`
	Role             string    `gorm:"column:role;size:64"`
	SearchText       string    `gorm:"column:search_text;type:text;not null;default:'';index"`
	SourceModifiedAt time.Time `gorm:"column:source_modified_at;not null;index"`
	SyncedAt         time.Time `gorm:"column:synced_at;not null;index"`
	IsActive         bool      `gorm:"column:is_active;not null;default:true;index"`
}

// TableName provides the explicit table binding for GORM.
func (CachedCustomer) TableName() string {
	return "catalog_customers"
}

// UpsertResult reports whether an upsert created a new row or refreshed an
// existing one. Sync counters depend on the distinction.
type UpsertResult string

const (
	// UpsertCreated indicates the record was first observed by this upsert.
	UpsertCreated UpsertResult = "created"
	// UpsertUpdated indicates an existing record was refreshed.
	UpsertUpdated UpsertResult = "updated"
)

// ProductFilters narrows product searches. Zero values mean "no filter".
type ProductFilters struct {
	Search          string
	SKU             string
	Category        string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// CustomerFilters narrows customer searches. Zero values mean "no filter".
type CustomerFilters struct {
	Search          string
	Email           string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// ProductValidation partitions a set of requested product ids into the three
// disjoint classes used by the signature flow's pre-approval check.
type ProductValidation struct {
	Valid   []int64 `json:"valid"`
	Invalid []int64 `json:"invalid"`
	Missing []int64 `json:"missing"`
}

// EntityStats summarises cache coverage for one entity type.
type EntityStats struct {
	Total    int64      `json:"total"`
	Active   int64      `json:"active"`
	Inactive int64      `json:"inactive"`
	LastSync *time.Time `json:"lastSync"`
}

// Stats aggregates operational cache statistics across both entity types.
type Stats struct {
	Products  EntityStats `json:"products"`
	Customers EntityStats `json:"customers"`
}
