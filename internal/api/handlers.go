package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/gateway/internal/clock"
	"github.com/whatsapp-automation/gateway/internal/session"
	"github.com/whatsapp-automation/gateway/internal/store"
)

// Store is the persistence the HTTP surface reads and writes directly.
type Store interface {
	GetConfig(ctx context.Context, number string) (store.FeatureConfig, error)
	SaveConfig(ctx context.Context, number string, cfg store.FeatureConfig) error
	GetStats(ctx context.Context, number string) (*store.Stats, error)
}

type Config struct {
	Sessions *session.Manager
	Store    Store
	OTPs     store.OTPStore
	Clock    clock.Clock
	Log      *logrus.Entry

	OTPTTL time.Duration
	// SweepSpacing is waited between starts in /connect-all.
	SweepSpacing time.Duration
	// Started is reported as the server start for serverUptime.
	Started time.Time
}

// Server is the HTTP API.
type Server struct {
	sessions *session.Manager
	store    Store
	otps     store.OTPStore
	clock    clock.Clock
	log      *logrus.Entry
	otpTTL   time.Duration
	spacing  time.Duration
	started  time.Time
	newOTP   func() (string, error)
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Started.IsZero() {
		cfg.Started = cfg.Clock.Now()
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	return &Server{
		sessions: cfg.Sessions,
		store:    cfg.Store,
		otps:     cfg.OTPs,
		clock:    cfg.Clock,
		log:      cfg.Log.WithField("component", "api"),
		otpTTL:   cfg.OTPTTL,
		spacing:  cfg.SweepSpacing,
		started:  cfg.Started,
		newOTP:   generateOTP,
	}
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, s.logRequests)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers HTTP routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	get := func(path string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(http.MethodGet)
	}
	fresh := func(path string, h http.HandlerFunc) {
		r.Handle(path, noCache(h)).Methods(http.MethodGet)
	}

	// Sessions
	get("/code", s.handleCode)
	fresh("/status", s.handleStatus)
	fresh("/active", s.handleActive)
	get("/disconnect", s.handleDisconnect)
	get("/connect-all", s.handleConnectAll)

	// Config
	get("/update-config", s.handleUpdateConfig)
	get("/verify-otp", s.handleVerifyOTP)

	// Stats
	fresh("/stats", s.handleStats)
	fresh("/stats-overall", s.handleStatsOverall)

	// Health
	fresh("/ping", s.handlePing)
	fresh("/debug-status", s.handleDebugStatus)
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// GET /ping
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"activeSessions": s.sessions.Registry().Count(),
		"timestamp":      s.clock.Now().UTC(),
	})
}
