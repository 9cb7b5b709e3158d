package migrations

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rektbot/src/model"
)

// importHistoryFile loads a newline separated list of already answered message ids into
// processed_messages so that a migrated bot does not answer old commands again.
func importHistoryFile(path string) func(*gorm.DB) error {
	return func(tx *gorm.DB) error {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.WithField("path", path).Warn("history file not found, nothing to import")
			return nil
		}
		if err != nil {
			return fmt.Errorf("open history file: %w", err)
		}
		defer f.Close()

		now := time.Now().UTC()
		batch := make([]model.ProcessedMessage, 0, 500)
		imported := 0

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
			if res.Error != nil {
				return res.Error
			}
			imported += int(res.RowsAffected)
			batch = batch[:0]
			return nil
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			id := strings.TrimSpace(scanner.Text())
			if id == "" || strings.HasPrefix(id, "#") {
				continue
			}
			batch = append(batch, model.ProcessedMessage{ID: id, CreatedAt: now})
			if len(batch) == cap(batch) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read history file: %w", err)
		}
		if err := flush(); err != nil {
			return err
		}

		logger.WithFields(map[string]interface{}{
			"path":     path,
			"imported": imported,
		}).Info("history file imported")
		return nil
	}
}

// backfillProfitSet flags settled rows written before profit_set existed.
func backfillProfitSet(tx *gorm.DB) error {
	return tx.Model(&model.Order{}).
		Where("status IN ? AND profit_set = ?", []model.Status{
			model.StatusClosed,
			model.StatusWithdrawRequested,
			model.StatusWithdrawDone,
			model.StatusWithdrawFailed,
			model.StatusLiquidated,
		}, false).
		Update("profit_set", true).Error
}
