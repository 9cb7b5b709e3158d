package bot

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"rektbot"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
