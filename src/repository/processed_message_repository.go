package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rektbot/src/database"
	"rektbot/src/model"
)

// ProcessedMessageRepository is the persisted seen-set of inbound message ids.
type ProcessedMessageRepository struct {
	db *gorm.DB
}

func NewProcessedMessageRepository() *ProcessedMessageRepository {
	return &ProcessedMessageRepository{db: database.MainDB}
}

func (r *ProcessedMessageRepository) WithDB(db *gorm.DB) *ProcessedMessageRepository {
	return &ProcessedMessageRepository{db: db}
}

// MarkProcessed records id as seen. It returns true only for the first call with a given id.
func (r *ProcessedMessageRepository) MarkProcessed(
	ctx context.Context,
	id string,
	author string,
) (bool, error) {

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ProcessedMessage{
			ID:        id,
			Author:    author,
			CreatedAt: time.Now().UTC(),
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ProcessedMessageRepository",
			"op":         "MarkProcessed",
			"message_id": id,
		}).WithError(res.Error).Error("Failed to mark message processed")
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// Forget removes id from the seen-set so a redelivered message is handled again.
func (r *ProcessedMessageRepository) Forget(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Delete(&model.ProcessedMessage{}, "id = ?", id).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ProcessedMessageRepository",
			"op":         "Forget",
			"message_id": id,
		}).WithError(err).Error("Failed to forget processed message")
	}
	return err
}

// Latest returns the creation time of the newest processed message, zero when none.
func (r *ProcessedMessageRepository) Latest(ctx context.Context) (time.Time, error) {
	var msg model.ProcessedMessage
	res := r.db.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&msg)
	if res.Error != nil {
		return time.Time{}, res.Error
	}
	if res.RowsAffected == 0 {
		return time.Time{}, nil
	}
	return msg.CreatedAt, nil
}
