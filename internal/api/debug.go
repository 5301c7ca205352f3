package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/whatsapp-automation/gateway/internal/session"
)

type debugConnection struct {
	Number           string     `json:"number"`
	HasHandle        bool       `json:"inActiveSockets"`
	HasStartTime     bool       `json:"inSocketCreationTime"`
	ConnectionTime   *time.Time `json:"creationTime"`
	UptimeSeconds    int64      `json:"uptimeSeconds"`
	UptimeHumanShort string     `json:"uptimeFormatted"`
}

type mismatches struct {
	HandleWithoutStart []string `json:"inActiveSockets_notInCreationTime"`
	StartWithoutHandle []string `json:"inCreationTime_notInActiveSockets"`
}

// GET /debug-status
func (s *Server) handleDebugStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.sessions.Registry()
	snap := reg.Snapshot()

	startKeys := make([]string, 0, len(snap.StartTimes))
	for n := range snap.StartTimes {
		startKeys = append(startKeys, n)
	}
	sort.Strings(startKeys)

	handles := make(map[string]bool, len(snap.Handles))
	for _, n := range snap.Handles {
		handles[n] = true
	}

	mm := mismatches{HandleWithoutStart: []string{}, StartWithoutHandle: []string{}}
	conns := make([]debugConnection, 0, len(snap.Handles))
	for _, n := range snap.Handles {
		st := reg.Status(n)
		_, hasStart := snap.StartTimes[n]
		if !hasStart {
			mm.HandleWithoutStart = append(mm.HandleWithoutStart, n)
		}
		conns = append(conns, debugConnection{
			Number:           n,
			HasHandle:        true,
			HasStartTime:     hasStart,
			ConnectionTime:   st.ConnectionTime,
			UptimeSeconds:    st.Uptime,
			UptimeHumanShort: (time.Duration(st.Uptime) * time.Second).String(),
		})
	}
	for _, n := range startKeys {
		if !handles[n] {
			mm.StartWithoutHandle = append(mm.StartWithoutHandle, n)
		}
	}

	retries := s.sessions.Supervisor().States()
	if retries == nil {
		retries = []session.RetryState{}
	}
	inFlight := s.sessions.InFlight()
	if inFlight == nil {
		inFlight = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalActive":            len(snap.Handles),
		"totalCreationTimes":     len(snap.StartTimes),
		"capacity":               snap.Capacity,
		"activeSocketsKeys":      snap.Handles,
		"socketCreationTimeKeys": startKeys,
		"mismatches":             mm,
		"activeConnections":      conns,
		"retries":                retries,
		"inFlight":               inFlight,
		"timestamp":              s.clock.Now().UTC(),
	})
}
