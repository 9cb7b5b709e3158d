package database

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Driver selects the gorm dialector: "sqlite" for a single node, "postgres" for a shared server.
	Driver              string `envconfig:"DB_DRIVER" default:"sqlite"`
	DatabaseURLMain     string `envconfig:"DATABASE_URL_MAIN" default:"rektbot.db"`
	DatabaseURLReadOnly string `envconfig:"DATABASE_URL_READONLY"`
	GormLogLevel        int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
	// HistoryFile is a legacy plain-text list of processed message ids, imported once.
	HistoryFile string `envconfig:"HISTORY_FILE"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
