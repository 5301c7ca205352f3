// Package jobs runs periodic store housekeeping.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/gateway/internal/clock"
)

const (
	PurgeOTPSchedule     = "@every 1m"
	PruneStatsSchedule   = "@daily"
	SaveSessionsSchedule = "@every 5m"
)

// Store is the housekeeping surface of the database.
type Store interface {
	PurgeExpiredOTPs(ctx context.Context) (int64, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}

// Sessions persists the credentials of live connections.
type Sessions interface {
	SaveAll(ctx context.Context) (int64, error)
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	sched     *cron.Cron
	store     Store
	retention time.Duration
	clock     clock.Clock
	log       *logrus.Entry
}

// New builds a scheduler; retentionDays <= 0 disables stats pruning.
func New(st Store, retentionDays int, clk clock.Clock, log *logrus.Entry) (*Scheduler, error) {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Scheduler{
		sched:     cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser)),
		store:     st,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		clock:     clk,
		log:       log.WithField("component", "jobs"),
	}

	if _, err := s.sched.AddFunc(PurgeOTPSchedule, s.job("purge_otps", s.PurgeOTPs)); err != nil {
		return nil, fmt.Errorf("schedule otp purge: %w", err)
	}
	if s.retention > 0 {
		if _, err := s.sched.AddFunc(PruneStatsSchedule, s.job("prune_stats", s.PruneStats)); err != nil {
			return nil, fmt.Errorf("schedule stats prune: %w", err)
		}
	}
	return s, nil
}

// job wraps fn so a failure or panic is logged and never kills the scheduler.
func (s *Scheduler) job(name string, fn func(context.Context) (int64, error)) func() {
	return func() {
		log := s.log.WithField("job", name)
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Job panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := fn(ctx)
		if err != nil {
			log.WithError(err).Error("Job failed")
			return
		}
		if n > 0 {
			log.WithField("rows", n).Info("Job done")
		}
	}
}

func (s *Scheduler) PurgeOTPs(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredOTPs(ctx)
}

// PruneStats deletes daily stats older than the retention window.
func (s *Scheduler) PruneStats(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	return s.store.PruneStats(ctx, s.clock.Now().Add(-s.retention))
}

// AddSessionSnapshots schedules a periodic credentials snapshot of every
// live session, bounding what a crash can lose.
func (s *Scheduler) AddSessionSnapshots(sessions Sessions) error {
	if _, err := s.sched.AddFunc(SaveSessionsSchedule, s.job("save_sessions", sessions.SaveAll)); err != nil {
		return fmt.Errorf("schedule session snapshots: %w", err)
	}
	return nil
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.sched.Entries())
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.sched.Stop().Done():
	case <-ctx.Done():
	}
}
