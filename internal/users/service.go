package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/quoteflow/backend/internal/auth"
)

// ErrInvalidAccount indicates the principal did not carry a usable identifier.
var ErrInvalidAccount = errors.New("users: invalid account")

// ServiceConfig describes the dependencies required for the staff directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maintains the staff directory. It records who has authenticated
// and answers contact lookups for rejected-quote notifications.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Touch upserts the directory row for an authenticated principal, refreshing
// contact fields the token carries and the last-seen timestamp.
func (s *Service) Touch(ctx context.Context, principal auth.Principal) error {
	userID := normalize(principal.UserID)
	if userID == "" {
		return ErrInvalidAccount
	}

	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = Account{
			UserID:      userID,
			Email:       normalize(principal.Email),
			DisplayName: normalize(principal.Name),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
			return err
		}
		s.cache.Store(userID, account.Email)
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
	if email := normalize(principal.Email); email != "" && email != account.Email {
		updates["email"] = email
		account.Email = email
	}
	if display := normalize(principal.Name); display != "" && display != account.DisplayName {
		updates["display_name"] = display
	}
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
		return err
	}

	s.cache.Store(userID, account.Email)
	return nil
}

// EmailFor resolves a staff member's contact address. The second return is
// false when the user is unknown or has no address on file.
func (s *Service) EmailFor(ctx context.Context, userID string) (string, bool) {
	userID = normalize(userID)
	if userID == "" {
		return "", false
	}

	if cached, ok := s.cache.Load(userID); ok {
		if email, ok := cached.(string); ok && email != "" {
			return email, true
		}
	}

	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		return "", false
	}

	s.cache.Store(userID, account.Email)
	if account.Email == "" {
		return "", false
	}
	return account.Email, true
}
