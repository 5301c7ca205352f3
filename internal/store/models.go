package store

import (
	"time"
)

// SessionRecord holds the credential blob for one Number.
type SessionRecord struct {
	Number      string `gorm:"primaryKey;size:32"`
	Credentials []byte `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SessionRecord) TableName() string { return "sessions" }

// ActiveNumber marks a Number for reconnection at startup.
type ActiveNumber struct {
	Number        string `gorm:"primaryKey;size:32"`
	LastConnected time.Time
}

func (ActiveNumber) TableName() string { return "active_numbers" }

// UserConfig is the per-Number feature configuration.
type UserConfig struct {
	Number    string        `gorm:"primaryKey;size:32"`
	Config    FeatureConfig `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserConfig) TableName() string { return "user_configs" }

// PendingOTP binds a one-time code to a proposed configuration change.
type PendingOTP struct {
	ID        uint      `gorm:"primaryKey"`
	Number    string    `gorm:"size:32;uniqueIndex:idx_otp_number_code"`
	Code      string    `gorm:"size:6;uniqueIndex:idx_otp_number_code"`
	Config    string    `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (PendingOTP) TableName() string { return "pending_otps" }

// DailyStat holds one Number's counters for one calendar day (YYYY-MM-DD).
type DailyStat struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	Number           string    `gorm:"size:32;uniqueIndex:idx_stats_number_date" json:"-"`
	Date             string    `gorm:"size:10;uniqueIndex:idx_stats_number_date;index" json:"date"`
	MessagesReceived int64     `gorm:"not null;default:0" json:"messagesReceived"`
	CommandsUsed     int64     `gorm:"not null;default:0" json:"commandsUsed"`
	GroupsInteracted int64     `gorm:"not null;default:0" json:"groupsInteracted"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (DailyStat) TableName() string { return "daily_stats" }

// AntiLinkWarn counts link warnings per (group, user).
type AntiLinkWarn struct {
	GroupID    string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"primaryKey;size:64"`
	WarnCount  int    `gorm:"not null;default:0"`
	LastWarnAt time.Time
}

func (AntiLinkWarn) TableName() string { return "antilink_warns" }
