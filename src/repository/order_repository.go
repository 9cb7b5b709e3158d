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

// ErrNotFound is returned by mutating operations addressing a missing record.
var ErrNotFound = errors.New("record not found")

// OrderRepository handles read/write operations for orders and their transition logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// NewReadOnlyOrderRepository reads from the replica used by the admin API.
func NewReadOnlyOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.ReadOnlyDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// Create inserts a new order. The id is the command message id and must be set by the caller.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
		"side":     order.Side,
		"amount":   order.RequestedAmount,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "Create",
			"order_id": order.ID,
		}).WithError(err).Error("Failed to create order")

		return err
	}

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id string,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		First(&order, "id = ?", id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "OrderRepository",
				"op":   "FindByID",
				"id":   id,
			}).Debug("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByIDWithLogs is FindByID with the transition history preloaded.
func (r *OrderRepository) FindByIDWithLogs(
	ctx context.Context,
	id string,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// FindByStatus returns every order in one of the given statuses, oldest first.
func (r *OrderRepository) FindByStatus(
	ctx context.Context,
	statuses ...model.Status,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindByStatus",
			"statuses": statuses,
		}).WithError(err).Error("Failed to fetch orders by status")

		return nil, err
	}

	return orders, nil
}

// FindByOwner returns the owner's orders in one of the given statuses, oldest first.
// No status means every status.
func (r *OrderRepository) FindByOwner(
	ctx context.Context,
	owner string,
	statuses ...model.Status,
) ([]model.Order, error) {

	var orders []model.Order

	q := r.db.WithContext(ctx).Where("owner = ?", owner)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	if err := q.Order("created_at ASC, id ASC").Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "OrderRepository",
			"op":    "FindByOwner",
			"owner": owner,
		}).WithError(err).Error("Failed to fetch orders by owner")

		return nil, err
	}

	return orders, nil
}

// OrderSearchOptions filters the admin order listing.
type OrderSearchOptions struct {
	Owner         string
	Status        *model.Status
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search lists orders newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	options OrderSearchOptions,
) ([]model.Order, error) {

	q := r.db.WithContext(ctx).Model(&model.Order{})

	if options.Owner != "" {
		q = q.Where("owner = ?", options.Owner)
	}
	if options.Status != nil {
		q = q.Where("status = ?", *options.Status)
	}
	if options.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *options.CreatedBefore)
	}

	q = q.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		q = q.Limit(options.Limit)
	}
	if options.Offset > 0 {
		q = q.Offset(options.Offset)
	}

	var orders []model.Order
	if err := q.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}

	return orders, nil
}

// Mutate loads the order inside a transaction, lets fn change it, saves every column and
// appends an OrderLog row when the status changed. Nothing is written when fn fails.
// The returned order is the committed state.
func (r *OrderRepository) Mutate(
	ctx context.Context,
	id string,
	fn func(order *model.Order) (note string, err error),
) (*model.Order, error) {

	var updated model.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order

		if err := tx.First(&order, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		from := order.Status
		note, err := fn(&order)
		if err != nil {
			return err
		}

		if err := tx.Save(&order).Error; err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":     "OrderRepository",
				"op":       "Mutate",
				"order_id": id,
			}).WithError(err).Error("Failed to save order inside transaction")
			return err
		}

		if order.Status != from {
			entry := &model.OrderLog{
				OrderID:   order.ID,
				From:      from,
				To:        order.Status,
				Note:      note,
				CreatedAt: time.Now(),
			}
			if err := tx.Create(entry).Error; err != nil {
				logger.WithError(err).Error("Failed to create order log on status update")
				return err
			}
		}

		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// Delete removes the order and its logs. Returns false when there was nothing to delete.
func (r *OrderRepository) Delete(
	ctx context.Context,
	id string,
) (bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Delete",
		"order_id": id,
	}).Warn("Deleting order")

	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&model.OrderLog{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Order{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	return deleted, nil
}
