package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_sessions_and_configs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SessionRecord{}, &ActiveNumber{}, &UserConfig{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions", "active_numbers", "user_configs")
			},
		},
		{
			ID: "002_otps",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&PendingOTP{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("pending_otps")
			},
		},
		{
			ID: "003_daily_stats",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&DailyStat{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("daily_stats")
			},
		},
		{
			ID: "004_antilink_warns",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&AntiLinkWarn{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("antilink_warns")
			},
		},
	})
	return m.Migrate()
}
