package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/gateway/internal/clock"
)

type fakeStore struct {
	purged    int
	pruneArgs []time.Time
	err       error
	panicOn   bool
}

func (f *fakeStore) PurgeExpiredOTPs(context.Context) (int64, error) {
	if f.panicOn {
		panic("db gone")
	}
	f.purged++
	return 2, f.err
}

func (f *fakeStore) PruneStats(_ context.Context, before time.Time) (int64, error) {
	f.pruneArgs = append(f.pruneArgs, before)
	return 5, f.err
}

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestPruneUsesRetentionWindow(t *testing.T) {
	log, _ := test.NewNullLogger()
	st := &fakeStore{}
	s, err := New(st, 90, clock.NewFake(now), log.WithField("test", t.Name()))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())

	n, err := s.PruneStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, []time.Time{now.AddDate(0, 0, -90)}, st.pruneArgs)
}

func TestZeroRetentionSkipsPrune(t *testing.T) {
	log, _ := test.NewNullLogger()
	st := &fakeStore{}
	s, err := New(st, 0, clock.NewFake(now), log.WithField("test", t.Name()))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Entries())

	n, err := s.PruneStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.pruneArgs)
}

func TestJobLogsFailuresAndPanics(t *testing.T) {
	log, hook := test.NewNullLogger()
	st := &fakeStore{err: errors.New("locked")}
	s, err := New(st, 90, clock.NewFake(now), log.WithField("test", t.Name()))
	require.NoError(t, err)

	s.job("purge_otps", s.PurgeOTPs)()
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "Job failed", hook.LastEntry().Message)

	st.panicOn = true
	assert.NotPanics(t, s.job("purge_otps", s.PurgeOTPs))
	assert.Equal(t, "Job panicked", hook.LastEntry().Message)
}

func TestStartStop(t *testing.T) {
	log, _ := test.NewNullLogger()
	s, err := New(&fakeStore{}, 90, nil, log.WithField("test", t.Name()))
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

type fakeSessions struct {
	calls int
}

func (f *fakeSessions) SaveAll(context.Context) (int64, error) {
	f.calls++
	return 3, nil
}

func TestSessionSnapshotsScheduled(t *testing.T) {
	log, hook := test.NewNullLogger()
	s, err := New(&fakeStore{}, 0, clock.NewFake(now), log.WithField("test", t.Name()))
	require.NoError(t, err)

	sessions := &fakeSessions{}
	require.NoError(t, s.AddSessionSnapshots(sessions))
	assert.Equal(t, 2, s.Entries())

	s.job("save_sessions", sessions.SaveAll)()
	assert.Equal(t, 1, sessions.calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Job done", hook.LastEntry().Message)
	assert.EqualValues(t, 3, hook.LastEntry().Data["rows"])
}
