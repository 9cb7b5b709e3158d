package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rektbot/src/database/migrations"
	"rektbot/src/model"
)

// MainDB is the read/write connection owned by the control loop.
var MainDB *gorm.DB

func dialector(driver, url string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(url), nil
	case "sqlite", "":
		return sqlite.Open(url), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// Open connects to url with the given driver and runs the schema and data migrations.
func Open(config Config) (*gorm.DB, error) {
	d, err := dialector(config.Driver, config.DatabaseURLMain)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d,
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", config.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if config.Driver == "postgres" {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(1 * time.Hour)
	} else {
		// sqlite serializes writers anyway
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, config); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the write-side schema and applies pending data migrations.
func Migrate(db *gorm.DB, config Config) error {
	if err := db.AutoMigrate(
		&model.Order{},
		&model.OrderLog{},
		&model.ProcessedMessage{},
		&model.Withdrawal{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	if _, err := migrations.Run(db, migrations.Options{HistoryFile: config.HistoryFile}); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}
	return nil
}

// InitMainDB initializes MainDB from the environment. Call once at startup.
func InitMainDB() error {
	config := GetConfig()

	db, err := Open(config)
	if err != nil {
		return err
	}
	MainDB = db

	logrus.WithFields(map[string]interface{}{
		"driver": config.Driver,
	}).Info("[database] MainDB connection established, migrations completed")

	return nil
}
