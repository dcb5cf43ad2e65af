package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Core identity + auth
		// =========================
		&types.User{},
		&types.UserToken{},

		// =========================
		// Event store (source of truth)
		// =========================
		&types.DomainEvent{},

		// =========================
		// Family projection
		// =========================
		&types.Family{},
		&types.Parent{},
		&types.Child{},

		// =========================
		// Emotion translation
		// =========================
		&types.TranslationRecord{},

		// =========================
		// Check-in sessions
		// =========================
		&types.CheckInSession{},

		// =========================
		// Weekly reports
		// =========================
		&types.WeeklyReport{},

		// =========================
		// Jobs / worker
		// =========================
		&types.JobRun{},
	)
}

// EnsureDomainIndexes adds the hot-path indexes AutoMigrate tags don't cover.
func EnsureDomainIndexes(db *gorm.DB) error {
	// Sweep scan: scheduled sessions past their grace window.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_checkin_session_state_scheduled_for
		ON checkin_session (state, scheduled_for);
	`).Error; err != nil {
		return fmt.Errorf("create idx_checkin_session_state_scheduled_for: %w", err)
	}

	// Audit listing per stream in append order.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_domain_event_type_occurred_at
		ON domain_event (aggregate_type, occurred_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_domain_event_type_occurred_at: %w", err)
	}

	// Worker claim scan.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_status_created_at
		ON job_run (status, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_status_created_at: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureDomainIndexes(s.db); err != nil {
		s.log.Error("Domain index migration failed", "error", err)
		return err
	}

	return nil
}
