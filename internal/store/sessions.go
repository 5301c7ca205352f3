package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadSession returns the stored credentials for number, or ErrNotFound.
func (s *Store) LoadSession(ctx context.Context, number string) ([]byte, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return rec.Credentials, nil
}

// SaveSession upserts the credentials for number.
func (s *Store) SaveSession(ctx context.Context, number string, creds []byte) error {
	rec := SessionRecord{Number: number, Credentials: creds}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{"credentials", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes the credentials and the active marker for number.
func (s *Store) DeleteSession(ctx context.Context, number string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("number = ?", number).Delete(&SessionRecord{}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if err := tx.Where("number = ?", number).Delete(&ActiveNumber{}).Error; err != nil {
			return fmt.Errorf("delete active marker: %w", err)
		}
		return nil
	})
}

// AddActiveNumber marks number for reconnection at startup.
func (s *Store) AddActiveNumber(ctx context.Context, number string) error {
	rec := ActiveNumber{Number: number, LastConnected: s.now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_connected"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("add active number: %w", err)
	}
	return nil
}

func (s *Store) RemoveActiveNumber(ctx context.Context, number string) error {
	if err := s.db.WithContext(ctx).Where("number = ?", number).Delete(&ActiveNumber{}).Error; err != nil {
		return fmt.Errorf("remove active number: %w", err)
	}
	return nil
}

// ActiveNumbers lists the Numbers marked for reconnection, oldest first.
func (s *Store) ActiveNumbers(ctx context.Context) ([]string, error) {
	var numbers []string
	err := s.db.WithContext(ctx).Model(&ActiveNumber{}).
		Order("last_connected ASC, number ASC").
		Pluck("number", &numbers).Error
	if err != nil {
		return nil, fmt.Errorf("list active numbers: %w", err)
	}
	return numbers, nil
}
