package users

import (
	"strings"
	"time"
)

// Account is one staff member known to the quote backend. Rows are written
// lazily the first time a bearer token for the user id is seen.
type Account struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing staff accounts.
func (Account) TableName() string {
	return "staff_accounts"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
