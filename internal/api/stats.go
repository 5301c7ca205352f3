package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whatsapp-automation/gateway/internal/registry"
	"github.com/whatsapp-automation/gateway/internal/store"
)

// statsFanOut bounds concurrent store reads in /stats-overall.
const statsFanOut = 8

// GET /stats?number=
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	number, ok := parseNumber(w, r)
	if !ok {
		return
	}

	stats, err := s.store.GetStats(r.Context(), number)
	if err != nil {
		s.log.WithError(err).WithField("number", number).Error("Failed to get stats, reporting zero")
		stats = &store.Stats{}
	}
	if stats.Days == nil {
		stats.Days = []store.DailyStat{}
	}

	st := s.sessions.Registry().Status(number)
	conn := "Disconnected"
	if st.IsConnected {
		conn = "Connected"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"number":           number,
		"connectionStatus": conn,
		"uptime":           st.Uptime,
		"uptimeHuman":      s.uptimeHuman(st),
		"stats":            stats.Totals,
		"days":             stats.Days,
	})
}

type overallStats struct {
	TotalActive   int       `json:"totalActive"`
	TotalMessages int64     `json:"totalMessages"`
	TotalCommands int64     `json:"totalCommands"`
	TotalGroups   int64     `json:"totalGroups"`
	ServerUptime  int64     `json:"serverUptime"`
	UptimeHuman   string    `json:"uptimeHuman"`
	Timestamp     time.Time `json:"timestamp"`
}

// GET /stats-overall
func (s *Server) handleStatsOverall(w http.ResponseWriter, r *http.Request) {
	numbers := s.sessions.Registry().Numbers()

	var (
		mu     sync.Mutex
		totals store.StatTotals
		g      errgroup.Group
	)
	g.SetLimit(statsFanOut)
	for _, n := range numbers {
		g.Go(func() error {
			st, err := s.store.GetStats(r.Context(), n)
			if err != nil {
				// counted as zero
				s.log.WithError(err).WithField("number", n).Warn("Failed to get stats")
				return nil
			}
			mu.Lock()
			totals.MessagesReceived += st.Totals.MessagesReceived
			totals.CommandsUsed += st.Totals.CommandsUsed
			totals.GroupsInteracted += st.Totals.GroupsInteracted
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	now := s.clock.Now()
	started := s.started
	writeJSON(w, http.StatusOK, overallStats{
		TotalActive:   len(numbers),
		TotalMessages: totals.MessagesReceived,
		TotalCommands: totals.CommandsUsed,
		TotalGroups:   totals.GroupsInteracted,
		ServerUptime:  int64(now.Sub(started) / time.Second),
		UptimeHuman:   s.uptimeHuman(registry.Status{ConnectionTime: &started}),
		Timestamp:     now.UTC(),
	})
}
