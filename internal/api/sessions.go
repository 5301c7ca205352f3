package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/registry"
	"github.com/whatsapp-automation/gateway/internal/session"
)

var hasDigits = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s != "" && phone.Normalize(s) == "" {
		return errors.New("must contain digits")
	}
	return nil
})

// numberQuery is the ?number= parameter shared by most endpoints.
type numberQuery struct {
	Number string `json:"number"`
}

func (q numberQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Number, validation.Required, hasDigits),
	)
}

// parseNumber reads and validates ?number= and returns the normalized Number.
// On failure it has already written a 400.
func parseNumber(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := numberQuery{Number: r.URL.Query().Get("number")}
	if err := q.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Number parameter is required", err)
		return "", false
	}
	return phone.Normalize(q.Number), true
}

func (s *Server) uptimeHuman(st registry.Status) string {
	if st.ConnectionTime == nil {
		return ""
	}
	return strings.TrimSpace(humanize.RelTime(*st.ConnectionTime, s.clock.Now(), "", ""))
}

// GET /code?number=
func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	number, ok := parseNumber(w, r)
	if !ok {
		return
	}

	res, err := s.sessions.Start(r.Context(), number)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, session.ErrInvalidNumber):
		writeError(w, http.StatusBadRequest, "Invalid number", err)
	case errors.Is(err, registry.ErrCapacity):
		writeError(w, http.StatusServiceUnavailable, "server_full", err)
	default:
		s.log.WithError(err).WithField("number", number).Error("Start failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error", err)
	}
}

type connectionInfo struct {
	Number         string     `json:"number"`
	Status         string     `json:"status"`
	ConnectionTime *time.Time `json:"connectionTime"`
	Uptime         int64      `json:"uptime"`
	UptimeHuman    string     `json:"uptimeHuman"`
}

type numberStatus struct {
	registry.Status
	UptimeHuman string `json:"uptimeHuman"`
	Message     string `json:"message"`
}

// GET /status[?number=]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.sessions.Registry()
	if r.URL.Query().Get("number") == "" {
		all := reg.All()
		conns := make([]connectionInfo, 0, len(all))
		for _, st := range all {
			conns = append(conns, connectionInfo{
				Number:         st.Number,
				Status:         "connected",
				ConnectionTime: st.ConnectionTime,
				Uptime:         st.Uptime,
				UptimeHuman:    s.uptimeHuman(st),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"totalActive": len(conns),
			"connections": conns,
		})
		return
	}

	number, ok := parseNumber(w, r)
	if !ok {
		return
	}
	st := reg.Status(number)
	msg := "Number is not connected"
	if st.IsConnected {
		msg = "Number is actively connected"
	}
	writeJSON(w, http.StatusOK, numberStatus{Status: st, UptimeHuman: s.uptimeHuman(st), Message: msg})
}

// GET /active
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	numbers := s.sessions.Registry().Numbers()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(numbers),
		"numbers": numbers,
	})
}

// GET /disconnect?number=
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	number, ok := parseNumber(w, r)
	if !ok {
		return
	}

	err := s.sessions.Disconnect(r.Context(), number)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Number disconnected successfully",
		})
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusNotFound, "Number not found in active connections", nil)
	default:
		s.log.WithError(err).WithField("number", number).Error("Disconnect failed")
		writeError(w, http.StatusInternalServerError, "Failed to disconnect number", err)
	}
}

// GET /connect-all
func (s *Server) handleConnectAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.sessions.ReconnectAll(r.Context(), s.spacing)
	if err != nil {
		s.log.WithError(err).Error("Connect all failed")
		writeError(w, http.StatusInternalServerError, "Failed to connect all bots", err)
		return
	}
	if len(outcomes) == 0 {
		writeError(w, http.StatusNotFound, "No numbers found to connect", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"total":       len(outcomes),
		"connections": outcomes,
	})
}
