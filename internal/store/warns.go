package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncrementWarn bumps the anti-link warning count for user in group and
// returns the new count.
func (s *Store) IncrementWarn(ctx context.Context, group, user string) (int, error) {
	var out AntiLinkWarn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		rec := AntiLinkWarn{GroupID: group, UserID: user, WarnCount: 1, LastWarnAt: now}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"warn_count":   gorm.Expr("warn_count + 1"),
				"last_warn_at": now,
			}),
		}).Create(&rec).Error
		if err != nil {
			return err
		}
		return tx.Where("group_id = ? AND user_id = ?", group, user).First(&out).Error
	})
	if err != nil {
		return 0, fmt.Errorf("increment warn: %w", err)
	}
	return out.WarnCount, nil
}

// WarnCount returns the current warning count, zero when none exists.
func (s *Store) WarnCount(ctx context.Context, group, user string) (int, error) {
	var rec AntiLinkWarn
	err := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", group, user).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load warn: %w", err)
	}
	return rec.WarnCount, nil
}

// ResetWarn clears the count and reports whether one existed.
func (s *Store) ResetWarn(ctx context.Context, group, user string) (bool, error) {
	res := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", group, user).Delete(&AntiLinkWarn{})
	if res.Error != nil {
		return false, fmt.Errorf("reset warn: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
