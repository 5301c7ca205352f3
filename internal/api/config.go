package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/whatsapp-automation/gateway/internal/phone"
	"github.com/whatsapp-automation/gateway/internal/store"
)

var (
	otpRange   = big.NewInt(900000)
	otpPattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// generateOTP returns a uniformly random code in 100000-999999.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

type updateConfigQuery struct {
	Number string `json:"number"`
	Config string `json:"config"`
}

func (q updateConfigQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Number, validation.Required, hasDigits),
		validation.Field(&q.Config, validation.Required),
	)
}

type verifyOTPQuery struct {
	Number string `json:"number"`
	OTP    string `json:"otp"`
}

func (q verifyOTPQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Number, validation.Required, hasDigits),
		validation.Field(&q.OTP, validation.Required, validation.Match(otpPattern)),
	)
}

// GET /update-config?number=&config=
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	q := updateConfigQuery{Number: r.URL.Query().Get("number"), Config: r.URL.Query().Get("config")}
	if err := q.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Number and config are required", err)
		return
	}
	if err := store.ValidatePatch([]byte(q.Config)); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config format", err)
		return
	}

	number := phone.Normalize(q.Number)
	log := s.log.WithField("number", number)
	conn, ok := s.sessions.Registry().Get(number)
	if !ok {
		writeError(w, http.StatusNotFound, "No active session found for this number", nil)
		return
	}

	otp, err := s.newOTP()
	if err != nil {
		log.WithError(err).Error("Failed to generate OTP")
		writeError(w, http.StatusInternalServerError, "Failed to generate OTP", err)
		return
	}
	if err := s.otps.SaveOTP(r.Context(), number, otp, []byte(q.Config), s.otpTTL); err != nil {
		log.WithError(err).Error("Failed to save OTP")
		writeError(w, http.StatusInternalServerError, "Failed to save OTP", err)
		return
	}

	text := fmt.Sprintf("*🔐 CONFIGURATION UPDATE*\n\nYour OTP: *%s*\nValid for %s\n\nUse: /verify-otp %s",
		otp, s.otpTTL, otp)
	if err := conn.SendText(r.Context(), conn.SelfJID(), text); err != nil {
		log.WithError(err).Error("Failed to send OTP")
		writeError(w, http.StatusInternalServerError, "Failed to send OTP", err)
		return
	}

	log.Info("Config update OTP sent")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "otp_sent",
		"message": "OTP sent to your number",
	})
}

// GET /verify-otp?number=&otp=
func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	q := verifyOTPQuery{Number: r.URL.Query().Get("number"), OTP: r.URL.Query().Get("otp")}
	if err := q.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Number and OTP are required", err)
		return
	}

	number := phone.Normalize(q.Number)
	log := s.log.WithField("number", number)

	patch, err := s.otps.VerifyOTP(r.Context(), number, q.OTP)
	if errors.Is(err, store.ErrOTPInvalid) {
		writeError(w, http.StatusBadRequest, "Invalid or expired OTP", nil)
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to verify OTP")
		writeError(w, http.StatusInternalServerError, "Failed to verify OTP", err)
		return
	}

	cfg, err := s.store.GetConfig(r.Context(), number)
	if err != nil {
		log.WithError(err).Error("Failed to load config")
		writeError(w, http.StatusInternalServerError, "Failed to update config", err)
		return
	}
	if err := cfg.ApplyPatch(patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config format", err)
		return
	}
	if err := s.store.SaveConfig(r.Context(), number, cfg); err != nil {
		log.WithError(err).Error("Failed to save config")
		writeError(w, http.StatusInternalServerError, "Failed to update config", err)
		return
	}

	if conn, ok := s.sessions.Registry().Get(number); ok {
		text := "*✅ CONFIG UPDATED*\n\nYour configuration has been successfully updated!"
		if err := conn.SendText(r.Context(), conn.SelfJID(), text); err != nil {
			log.WithError(err).Warn("Failed to send config confirmation")
		}
	}

	log.Info("Config updated")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Config updated successfully",
	})
}
