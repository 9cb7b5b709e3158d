package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"rektbot/src/risk"
)

type Config struct {
	MinAmount       int64  `envconfig:"MIN_AMOUNT" default:"1000"`
	MaxAmount       int64  `envconfig:"MAX_AMOUNT" default:"1000000"`
	DefaultLeverage int64  `envconfig:"DEFAULT_LEVERAGE" default:"10"`
	MaxLeverage     int64  `envconfig:"MAX_LEVERAGE" default:"100"`
	FeeRate         string `envconfig:"FEE_RATE" default:"0.001"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Limits converts the config into request limits.
func (c Config) Limits() (risk.Limits, error) {
	feeRate, err := decimal.NewFromString(c.FeeRate)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("FEE_RATE %q: %w", c.FeeRate, err)
	}
	return risk.Limits{
		MinAmount:       c.MinAmount,
		MaxAmount:       c.MaxAmount,
		DefaultLeverage: c.DefaultLeverage,
		MaxLeverage:     c.MaxLeverage,
		FeeRate:         feeRate,
	}, nil
}
