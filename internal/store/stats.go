package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatField names one daily counter.
type StatField string

const (
	StatMessagesReceived StatField = "messages_received"
	StatCommandsUsed     StatField = "commands_used"
	StatGroupsInteracted StatField = "groups_interacted"
)

const (
	statsDateLayout = "2006-01-02"
	statsWindowDays = 30
)

// StatTotals sums a set of daily counters.
type StatTotals struct {
	MessagesReceived int64 `json:"messagesReceived"`
	CommandsUsed     int64 `json:"commandsUsed"`
	GroupsInteracted int64 `json:"groupsInteracted"`
}

func (t *StatTotals) add(d DailyStat) {
	t.MessagesReceived += d.MessagesReceived
	t.CommandsUsed += d.CommandsUsed
	t.GroupsInteracted += d.GroupsInteracted
}

// Stats is the recent history for one Number.
type Stats struct {
	Days   []DailyStat
	Totals StatTotals
}

// IncrementStat adds one to field on today's record for number, creating the
// record if needed.
func (s *Store) IncrementStat(ctx context.Context, number string, field StatField) error {
	rec := DailyStat{Number: number, Date: s.now().UTC().Format(statsDateLayout)}
	switch field {
	case StatMessagesReceived:
		rec.MessagesReceived = 1
	case StatCommandsUsed:
		rec.CommandsUsed = 1
	case StatGroupsInteracted:
		rec.GroupsInteracted = 1
	default:
		return fmt.Errorf("unknown stat field %q", field)
	}

	col := string(field)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "number"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:          gorm.Expr(col + " + 1"),
			"updated_at": s.now(),
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("increment %s: %w", col, err)
	}
	return nil
}

// GetStats returns the last 30 daily records for number, newest first, and
// their totals.
func (s *Store) GetStats(ctx context.Context, number string) (*Stats, error) {
	var days []DailyStat
	err := s.db.WithContext(ctx).
		Where("number = ?", number).
		Order("date DESC").
		Limit(statsWindowDays).
		Find(&days).Error
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	st := &Stats{Days: days}
	for _, d := range days {
		st.Totals.add(d)
	}
	return st, nil
}

// PruneStats deletes daily records older than before and returns the count.
func (s *Store) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("date < ?", before.UTC().Format(statsDateLayout)).
		Delete(&DailyStat{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune stats: %w", res.Error)
	}
	return res.RowsAffected, nil
}
