package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"rektbot/src/tp_sl"
)

type Config struct {
	LoopPeriod        time.Duration `envconfig:"LOOP_PERIOD" default:"5s"`
	FeeRate           string        `envconfig:"FEE_RATE" default:"0.001"`
	FundingAttempts   int           `envconfig:"FUNDING_ATTEMPTS" default:"5"`
	FundingRetryDelay time.Duration `envconfig:"FUNDING_RETRY_DELAY" default:"2s"`
	InvoiceExpiry     time.Duration `envconfig:"INVOICE_EXPIRY" default:"600s"`
	DispatchBuffer    int           `envconfig:"DISPATCH_BUFFER" default:"64"`

	TakeProfitGuardBand string `envconfig:"TP_GUARD_BAND" default:"100"`
	TakeProfitMinOffset string `envconfig:"TP_MIN_OFFSET" default:"0.005"`
	TakeProfitMaxOffset string `envconfig:"TP_MAX_OFFSET" default:"0.03"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// DefaultConfig is the configuration with every default applied.
func DefaultConfig() Config {
	return Config{
		LoopPeriod:          5 * time.Second,
		FeeRate:             "0.001",
		FundingAttempts:     5,
		FundingRetryDelay:   2 * time.Second,
		InvoiceExpiry:       600 * time.Second,
		DispatchBuffer:      64,
		TakeProfitGuardBand: "100",
		TakeProfitMinOffset: "0.005",
		TakeProfitMaxOffset: "0.03",
	}
}

func (c Config) feeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.FeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("FEE_RATE %q: %w", c.FeeRate, err)
	}
	return rate, nil
}

func (c Config) takeProfit() (tp_sl.TakeProfitConfig, error) {
	var cfg tp_sl.TakeProfitConfig
	var err error
	if cfg.GuardBand, err = decimal.NewFromString(c.TakeProfitGuardBand); err != nil {
		return cfg, fmt.Errorf("TP_GUARD_BAND %q: %w", c.TakeProfitGuardBand, err)
	}
	if cfg.MinOffset, err = decimal.NewFromString(c.TakeProfitMinOffset); err != nil {
		return cfg, fmt.Errorf("TP_MIN_OFFSET %q: %w", c.TakeProfitMinOffset, err)
	}
	if cfg.MaxOffset, err = decimal.NewFromString(c.TakeProfitMaxOffset); err != nil {
		return cfg, fmt.Errorf("TP_MAX_OFFSET %q: %w", c.TakeProfitMaxOffset, err)
	}
	return cfg, nil
}
