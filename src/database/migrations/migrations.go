package migrations

import (
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration marks a data migration as applied.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

type Options struct {
	// HistoryFile lists message ids answered by a previous deployment, one per line.
	HistoryFile string
}

type step struct {
	id string
	fn func(*gorm.DB) error
}

// steps returns the data migrations in execution order. Ids are stable; append only.
func steps(opts Options) []step {
	var out []step
	if opts.HistoryFile != "" {
		out = append(out, step{"00001_import_history_file", importHistoryFile(opts.HistoryFile)})
	}
	return append(out, step{"00002_backfill_profit_set", backfillProfitSet})
}

// RunOnce applies fn inside a transaction unless migrationID is already recorded.
// It reports whether fn ran.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) (bool, error) {
	if db == nil {
		return false, nil
	}
	if migrationID == "" || fn == nil {
		return false, fmt.Errorf("invalid migration %q", migrationID)
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return false, fmt.Errorf("ensure data migrations table: %w", err)
	}

	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&DataMigration{}, "id = ?", migrationID).Error
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}
		if err := tx.Create(&DataMigration{ID: migrationID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// Run applies every pending data migration and returns the ids it applied.
func Run(db *gorm.DB, opts Options) ([]string, error) {
	var applied []string
	for _, s := range steps(opts) {
		ran, err := RunOnce(db, s.id, s.fn)
		if err != nil {
			return applied, err
		}
		if ran {
			logger.WithField("migration", s.id).Info("data migration applied")
			applied = append(applied, s.id)
		}
	}
	return applied, nil
}
