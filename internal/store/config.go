package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Anti-link modes.
const (
	AntiLinkModeWarn   = "warn"
	AntiLinkModeDelete = "delete"
	AntiLinkModeKick   = "kick"
)

// ErrUnknownConfigKey is returned by ApplyPatch for keys outside FeatureConfig.
var ErrUnknownConfigKey = errors.New("unknown config key")

// GroupSettings overrides the global welcome/goodbye flags for one group.
// A nil pointer means "inherit".
type GroupSettings struct {
	WelcomeEnable *bool `json:"WELCOME_ENABLE,omitempty"`
	GoodbyeEnable *bool `json:"GOODBYE_ENABLE,omitempty"`
}

// FeatureConfig is the per-Number toggle set.
type FeatureConfig struct {
	AutoRecording   bool                     `json:"AUTO_RECORDING"`
	AutoTyping      bool                     `json:"AUTO_TYPING"`
	AntiCall        bool                     `json:"ANTI_CALL"`
	RejectMsg       string                   `json:"REJECT_MSG"`
	AntiLink        bool                     `json:"ANTI_LINK"`
	AntiLinkMode    string                   `json:"ANTI_LINK_MODE"`
	ReadMessage     bool                     `json:"READ_MESSAGE"`
	AutoViewStatus  bool                     `json:"AUTO_VIEW_STATUS"`
	AutoLikeStatus  bool                     `json:"AUTO_LIKE_STATUS"`
	AutoStatusReply bool                     `json:"AUTO_STATUS_REPLY"`
	AutoStatusMsg   string                   `json:"AUTO_STATUS_MSG"`
	AutoLikeEmoji   []string                 `json:"AUTO_LIKE_EMOJI"`
	AutoReact       bool                     `json:"AUTO_REACT"`
	WelcomeEnable   bool                     `json:"WELCOME_ENABLE"`
	GoodbyeEnable   bool                     `json:"GOODBYE_ENABLE"`
	GroupSettings   map[string]GroupSettings `json:"GROUP_SETTINGS"`
}

// DefaultFeatureConfig returns the configuration a Number gets on first access.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		RejectMsg:     "Calls are not accepted on this number. Please send a message instead.",
		AntiLinkMode:  AntiLinkModeWarn,
		AutoStatusMsg: "Seen your status",
		AutoLikeEmoji: []string{"❤️", "🔥", "😍", "👍", "💯"},
		GroupSettings: map[string]GroupSettings{},
	}
}

// ConfigKeys lists the accepted top-level keys, sorted.
func ConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var configKeys = map[string]struct{}{
	"AUTO_RECORDING": {}, "AUTO_TYPING": {}, "ANTI_CALL": {}, "REJECT_MSG": {},
	"ANTI_LINK": {}, "ANTI_LINK_MODE": {}, "READ_MESSAGE": {}, "AUTO_VIEW_STATUS": {},
	"AUTO_LIKE_STATUS": {}, "AUTO_STATUS_REPLY": {}, "AUTO_STATUS_MSG": {},
	"AUTO_LIKE_EMOJI": {}, "AUTO_REACT": {}, "WELCOME_ENABLE": {}, "GOODBYE_ENABLE": {},
	"GROUP_SETTINGS": {},
}

// ValidatePatch checks that patch is a JSON object holding only known keys
// with values of the right type.
func ValidatePatch(patch []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("config must be a JSON object: %w", err)
	}
	for k := range fields {
		if _, ok := configKeys[k]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConfigKey, k)
		}
	}
	var decoded FeatureConfig
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("invalid config value: %w", err)
	}
	if mode, ok := fields["ANTI_LINK_MODE"]; ok {
		var m string
		_ = json.Unmarshal(mode, &m)
		switch strings.ToLower(m) {
		case AntiLinkModeWarn, AntiLinkModeDelete, AntiLinkModeKick:
		default:
			return fmt.Errorf("invalid ANTI_LINK_MODE %q", m)
		}
	}
	return nil
}

// ApplyPatch merges a partial JSON config over c.
func (c *FeatureConfig) ApplyPatch(patch []byte) error {
	if err := ValidatePatch(patch); err != nil {
		return err
	}
	if err := json.Unmarshal(patch, c); err != nil {
		return err
	}
	c.AntiLinkMode = strings.ToLower(c.AntiLinkMode)
	return nil
}

// WelcomeFor resolves the welcome flag for group, honouring overrides.
func (c *FeatureConfig) WelcomeFor(group string) bool {
	if gs, ok := c.GroupSettings[group]; ok && gs.WelcomeEnable != nil {
		return *gs.WelcomeEnable
	}
	return c.WelcomeEnable
}

// GoodbyeFor resolves the goodbye flag for group, honouring overrides.
func (c *FeatureConfig) GoodbyeFor(group string) bool {
	if gs, ok := c.GroupSettings[group]; ok && gs.GoodbyeEnable != nil {
		return *gs.GoodbyeEnable
	}
	return c.GoodbyeEnable
}

// SetGroupWelcome records a per-group welcome override.
func (c *FeatureConfig) SetGroupWelcome(group string, on bool) {
	if c.GroupSettings == nil {
		c.GroupSettings = map[string]GroupSettings{}
	}
	gs := c.GroupSettings[group]
	gs.WelcomeEnable = &on
	c.GroupSettings[group] = gs
}

// SetGroupGoodbye records a per-group goodbye override.
func (c *FeatureConfig) SetGroupGoodbye(group string, on bool) {
	if c.GroupSettings == nil {
		c.GroupSettings = map[string]GroupSettings{}
	}
	gs := c.GroupSettings[group]
	gs.GoodbyeEnable = &on
	c.GroupSettings[group] = gs
}

// GetConfig returns the configuration for number, creating it with defaults
// on first access.
func (s *Store) GetConfig(ctx context.Context, number string) (FeatureConfig, error) {
	var rec UserConfig
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&rec).Error
	if err == nil {
		if rec.Config.GroupSettings == nil {
			rec.Config.GroupSettings = map[string]GroupSettings{}
		}
		return rec.Config, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return FeatureConfig{}, fmt.Errorf("load config: %w", err)
	}

	rec = UserConfig{Number: number, Config: DefaultFeatureConfig()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return FeatureConfig{}, fmt.Errorf("create config: %w", err)
	}
	return rec.Config, nil
}

// SaveConfig replaces the configuration for number.
func (s *Store) SaveConfig(ctx context.Context, number string, cfg FeatureConfig) error {
	rec := UserConfig{Number: number, Config: cfg}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
