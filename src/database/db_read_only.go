package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rektbot/src/model"
)

// ReadOnlyDB serves the admin API. It points at a replica when DATABASE_URL_READONLY is set
// and falls back to MainDB otherwise.
var ReadOnlyDB *gorm.DB

func InitReadOnlyDB() error {
	config := GetConfig()

	if config.DatabaseURLReadOnly == "" {
		if MainDB == nil {
			return fmt.Errorf("read-only database requested before MainDB")
		}
		ReadOnlyDB = MainDB
		logrus.Info("[ReadOnlyDB] no replica configured, using MainDB")
		return nil
	}

	d, err := dialector(config.Driver, config.DatabaseURLReadOnly)
	if err != nil {
		return err
	}

	db, err := gorm.Open(d,
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("connect read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var count int64
	if err := db.Model(&model.Order{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access orders on ReadOnlyDB: %w", err)
	}

	logrus.WithFields(map[string]interface{}{"count": count}).Info("[ReadOnlyDB] orders reachable")

	ReadOnlyDB = db
	return nil
}
