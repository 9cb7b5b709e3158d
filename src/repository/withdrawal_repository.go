package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rektbot/src/database"
	"rektbot/src/model"
)

// WithdrawalRepository persists payout batches.
type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository() *WithdrawalRepository {
	return &WithdrawalRepository{db: database.MainDB}
}

func (r *WithdrawalRepository) WithDB(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *model.Withdrawal) error {
	logger.WithFields(map[string]interface{}{
		"repo":          "WithdrawalRepository",
		"op":            "Create",
		"withdrawal_id": w.ID,
		"owner":         w.Owner,
		"amount":        w.Amount,
	}).Info("Creating withdrawal")

	return r.db.WithContext(ctx).Create(w).Error
}

// FindByID returns (nil, nil) when the withdrawal does not exist.
func (r *WithdrawalRepository) FindByID(ctx context.Context, id string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) FindByStatus(ctx context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error) {
	var out []model.Withdrawal
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus moves a withdrawal to status; terminal statuses stamp CompletedAt.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, id string, status model.WithdrawalStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == model.WithdrawalDone || status == model.WithdrawalFailed {
		updates["completed_at"] = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":          "WithdrawalRepository",
			"op":            "UpdateStatus",
			"withdrawal_id": id,
			"status":        status,
		}).WithError(res.Error).Error("Failed to update withdrawal status")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
