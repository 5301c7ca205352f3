package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/whatsapp-automation/gateway/internal/clock"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 60 * time.Second, MaxAttempts: 10}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{10, 60 * time.Second},
		{200, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := Backoff{}.withDefaults()
	assert.Equal(t, DefaultReconnectBase, b.Base)
	assert.Equal(t, DefaultReconnectMax, b.Max)
	assert.Equal(t, DefaultReconnectAttempts, b.MaxAttempts)
}

func TestScheduleSupersedesPendingAttempt(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewSupervisor(Backoff{Base: time.Second, Max: time.Minute, MaxAttempts: 5}, clk)

	var fired []string
	s.Schedule("1", func() { fired = append(fired, "first") })
	attempt, delay, ok := s.Schedule("1", func() { fired = append(fired, "second") })

	assert.True(t, ok)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, 2*time.Second, delay)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Pending())

	clk.Advance(time.Minute)
	assert.Equal(t, []string{"second"}, fired)
	assert.False(t, s.Pending("1"))
	assert.Equal(t, 2, s.Attempts("1"))
}

func TestResetClearsCounter(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewSupervisor(Backoff{Base: time.Second, Max: time.Minute, MaxAttempts: 5}, clk)

	s.Schedule("1", func() {})
	s.Reset("1")

	assert.Zero(t, s.Attempts("1"))
	assert.Empty(t, clk.Pending())
	_, delay, _ := s.Schedule("1", func() {})
	assert.Equal(t, time.Second, delay)
}

func TestScheduleStopsAtBudget(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewSupervisor(Backoff{Base: time.Second, Max: time.Minute, MaxAttempts: 2}, clk)

	_, _, ok := s.Schedule("1", func() {})
	assert.True(t, ok)
	_, _, ok = s.Schedule("1", func() {})
	assert.True(t, ok)
	attempt, _, ok := s.Schedule("1", func() {})
	assert.False(t, ok)
	assert.Equal(t, 2, attempt)

	states := s.States()
	if assert.Len(t, states, 1) {
		assert.True(t, states[0].Exhausted)
		assert.False(t, states[0].Pending)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewSupervisor(Backoff{}, clk)

	called := false
	s.Schedule("1", func() { called = true })
	s.Schedule("2", func() { called = true })
	s.Stop()
	clk.Advance(time.Hour)

	assert.False(t, called)
	_, _, ok := s.Schedule("1", func() {})
	assert.False(t, ok)
	assert.Empty(t, s.States())
}

func TestCancelReportsPending(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewSupervisor(Backoff{}, clk)

	assert.False(t, s.Cancel("1"))
	s.Schedule("1", func() {})
	assert.True(t, s.Cancel("1"))
	assert.False(t, s.Pending("1"))
}
