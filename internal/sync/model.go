package sync

import (
	"time"
)

// Kind selects which catalog entities a run reconciles. Full and incremental
// runs cover products then customers in sequence.
type Kind string

const (
	KindProducts    Kind = "products"
	KindCustomers   Kind = "customers"
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// ParseKind validates a raw sync kind value.
func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindProducts, KindCustomers, KindFull, KindIncremental:
		return Kind(value), true
	default:
		return "", false
	}
}

// Trigger records what initiated a run.
type Trigger string

const (
	TriggerLogin     Trigger = "login"
	TriggerManual    Trigger = "manual"
	TriggerWebhook   Trigger = "webhook"
	TriggerScheduled Trigger = "scheduled"
)

// Status is the lifecycle state of a run. Running is the only mutable state;
// completed and failed are terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SyncRun is the persisted record of one reconciliation invocation. Counters
// are flushed after every batch so a long run can be observed in flight.
type SyncRun struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Kind           Kind       `gorm:"column:kind;size:32;not null;index:idx_sync_runs_kind_started,priority:1" json:"kind"`
	StartedAt      time.Time  `gorm:"column:started_at;not null;index:idx_sync_runs_kind_started,priority:2" json:"startedAt"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completedAt"`
	Status         Status     `gorm:"column:status;size:16;not null" json:"status"`
	ItemsProcessed int64      `gorm:"column:items_processed;not null;default:0" json:"itemsProcessed"`
	ItemsCreated   int64      `gorm:"column:items_created;not null;default:0" json:"itemsCreated"`
	ItemsUpdated   int64      `gorm:"column:items_updated;not null;default:0" json:"itemsUpdated"`
	ItemsFailed    int64      `gorm:"column:items_failed;not null;default:0" json:"itemsFailed"`
	ErrorMessage   string     `gorm:"column:error_message;type:text" json:"errorMessage,omitempty"`
	LastSyncedAt   *time.Time `gorm:"column:last_synced_at" json:"lastSyncedAt"`
	TriggeredBy    Trigger    `gorm:"column:triggered_by;size:32;not null" json:"triggeredBy"`
	UserID         string     `gorm:"column:user_id;size:190" json:"userId,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (SyncRun) TableName() string {
	return "sync_runs"
}
