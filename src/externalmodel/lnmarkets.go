package externalmodel

// LNMarketsDeposit is the answer of POST /v2/user/deposit.
type LNMarketsDeposit struct {
	DepositID      string `json:"depositId"`
	PaymentRequest string `json:"paymentRequest"`
	Expiry         int64  `json:"expiry,omitempty"`
}

// LNMarketsDepositEntry is one row of GET /v2/user/deposit.
type LNMarketsDepositEntry struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Success bool   `json:"success"`
	Type    string `json:"type,omitempty"`
}

type LNMarketsOpenFuturesRequest struct {
	Type       string   `json:"type"` // "m" market | "l" limit
	Side       string   `json:"side"` // "b" buy | "s" sell
	Margin     int64    `json:"margin"`
	Leverage   int64    `json:"leverage"`
	TakeProfit *float64 `json:"takeprofit,omitempty"`
}

// LNMarketsFuturesTrade is a futures trade as returned by the venue. Pointer fields are
// required by the lifecycle and checked by the mapper.
type LNMarketsFuturesTrade struct {
	ID          *string  `json:"id"`
	UID         string   `json:"uid,omitempty"`
	Type        string   `json:"type,omitempty"`
	Side        string   `json:"side,omitempty"`
	Price       *float64 `json:"price"`
	Margin      *int64   `json:"margin"`
	Leverage    *float64 `json:"leverage"`
	Quantity    float64  `json:"quantity,omitempty"`
	OpeningFee  *int64   `json:"opening_fee"`
	ClosingFee  int64    `json:"closing_fee,omitempty"`
	EntryPrice  *float64 `json:"entry_price,omitempty"`
	ExitPrice   *float64 `json:"exit_price,omitempty"`
	PL          int64    `json:"pl,omitempty"`
	TakeProfit  float64  `json:"takeprofit,omitempty"`
	Running     bool     `json:"running,omitempty"`
	Closed      bool     `json:"closed,omitempty"`
	CreationTS  int64    `json:"creation_ts,omitempty"`
	ClosedTS    int64    `json:"closed_ts,omitempty"`
	Liquidation float64  `json:"liquidation,omitempty"`
}

type LNMarketsTicker struct {
	Index     float64 `json:"index"`
	LastPrice float64 `json:"lastPrice"`
	BidPrice  float64 `json:"bidPrice"`
	AskPrice  float64 `json:"askPrice"`
}

type LNMarketsWithdrawRequest struct {
	Amount  int64  `json:"amount"`
	Invoice string `json:"invoice"`
}

type LNMarketsWithdrawResponse struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Fee           int64  `json:"fee,omitempty"`
	PaymentHash   string `json:"payment_hash,omitempty"`
	SuccessTime   int64  `json:"success_time,omitempty"`
	SuccessStatus bool   `json:"success,omitempty"`
}

type LNMarketsError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
