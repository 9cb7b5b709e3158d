// REST CLIENT FOR LN MARKETS FUTURES (v2 API)
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
	"rektbot/src/mapper"
)

const lnMarketsClosedLimit = 1000

type LNMarketsClient struct {
	key        string
	secret     string
	passphrase string
	http       *resty.Client
	now        func() time.Time
}

func NewLNMarketsClient(cfg Config) *LNMarketsClient {
	if cfg.LNMarketsBaseURL == "" {
		cfg.LNMarketsBaseURL = "https://api.lnmarkets.com"
		logger.Warnf("No LN Markets base URL provided, using default: %s", cfg.LNMarketsBaseURL)
	}
	return &LNMarketsClient{
		key:        cfg.LNMarketsKey,
		secret:     cfg.LNMarketsSecret,
		passphrase: cfg.LNMarketsPassphrase,
		http:       newRestClient(cfg.LNMarketsBaseURL, cfg.LNMarketsTimeout),
		now:        time.Now,
	}
}

// signLNMarkets returns base64(HMAC-SHA256(secret, timestamp+method+path+data)). data is the
// JSON body for writes and the encoded query for reads.
func signLNMarkets(secret, timestamp, method, path, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *LNMarketsClient) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var data string
	req := c.http.R().SetContext(ctx)

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "lnmarkets encode %s %s", method, path)
		}
		data = string(raw)
		req = req.SetBody(raw).SetHeader("Content-Type", "application/json")
	} else if len(query) > 0 {
		data = query.Encode()
		req = req.SetQueryString(data)
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req = req.
		SetHeader("LNM-ACCESS-KEY", c.key).
		SetHeader("LNM-ACCESS-PASSPHRASE", c.passphrase).
		SetHeader("LNM-ACCESS-TIMESTAMP", ts).
		SetHeader("LNM-ACCESS-SIGNATURE", signLNMarkets(c.secret, ts, method, path, data))

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "lnmarkets %s %s", method, path)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		apiErr := &APIError{Service: "lnmarkets", Status: resp.StatusCode(), Message: string(resp.Body())}
		var parsed externalmodel.LNMarketsError
		if json.Unmarshal(resp.Body(), &parsed) == nil && parsed.Message != "" {
			apiErr.Message = parsed.Message
		}
		logger.WithFields(map[string]interface{}{
			"method": method,
			"path":   path,
			"status": resp.StatusCode(),
		}).Warn("LN Markets request rejected")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "lnmarkets decode %s %s", method, path)
	}
	return nil
}

// -----------------------------
// FUNDING
// -----------------------------

// Deposit asks the venue for an invoice crediting amount sats to the account.
func (c *LNMarketsClient) Deposit(ctx context.Context, amount int64) (externalmodel.Deposit, error) {
	var dep externalmodel.LNMarketsDeposit
	if err := c.do(ctx, http.MethodPost, "/v2/user/deposit", nil, map[string]int64{"amount": amount}, &dep); err != nil {
		return externalmodel.Deposit{}, err
	}
	if dep.PaymentRequest == "" {
		return externalmodel.Deposit{}, errors.Wrap(mapper.ErrMissingField, "lnmarkets deposit: paymentRequest")
	}
	return externalmodel.Deposit{Invoice: dep.PaymentRequest, SettlementID: dep.DepositID}, nil
}

// DepositStatus reports whether the deposit was credited.
func (c *LNMarketsClient) DepositStatus(ctx context.Context, settlementID string) (bool, error) {
	var deposits []externalmodel.LNMarketsDepositEntry
	if err := c.do(ctx, http.MethodGet, "/v2/user/deposit", nil, nil, &deposits); err != nil {
		return false, err
	}
	for _, d := range deposits {
		if d.ID == settlementID {
			return d.Success, nil
		}
	}
	return false, nil
}

// -----------------------------
// POSITIONS
// -----------------------------

func (c *LNMarketsClient) OpenPosition(ctx context.Context, req externalmodel.OpenPositionRequest) (externalmodel.OpenedPosition, error) {
	body := externalmodel.LNMarketsOpenFuturesRequest{
		Type:     "m",
		Side:     "b",
		Margin:   req.Margin,
		Leverage: req.Leverage,
	}
	if req.Side == "short" {
		body.Side = "s"
	}
	if req.TakeProfit.IsPositive() {
		tp, _ := req.TakeProfit.Float64()
		body.TakeProfit = &tp
	}

	var trade externalmodel.LNMarketsFuturesTrade
	if err := c.do(ctx, http.MethodPost, "/v2/futures", nil, body, &trade); err != nil {
		return externalmodel.OpenedPosition{}, err
	}
	return mapper.MapLNMarketsOpenedTrade(&trade)
}

func (c *LNMarketsClient) RunningPositionIDs(ctx context.Context) ([]string, error) {
	var trades []externalmodel.LNMarketsFuturesTrade
	if err := c.do(ctx, http.MethodGet, "/v2/futures", url.Values{"type": {"running"}}, nil, &trades); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		if t.ID != nil && *t.ID != "" {
			ids = append(ids, *t.ID)
		}
	}
	return ids, nil
}

// ClosedPositions returns the closed trades among ids. Ids the venue does not list as closed
// are omitted.
func (c *LNMarketsClient) ClosedPositions(ctx context.Context, ids []string) ([]externalmodel.ClosedPosition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := url.Values{
		"type":  {"closed"},
		"limit": {strconv.Itoa(lnMarketsClosedLimit)},
	}
	var trades []externalmodel.LNMarketsFuturesTrade
	if err := c.do(ctx, http.MethodGet, "/v2/futures", query, nil, &trades); err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var out []externalmodel.ClosedPosition
	for _, p := range mapper.MapLNMarketsClosedTrades(trades) {
		if _, ok := wanted[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// -----------------------------
// PAYOUT & MARKET DATA
// -----------------------------

// Withdraw pays invoice from the venue balance and returns the venue's withdrawal id.
func (c *LNMarketsClient) Withdraw(ctx context.Context, invoice string, amount int64) (string, error) {
	var res externalmodel.LNMarketsWithdrawResponse
	body := externalmodel.LNMarketsWithdrawRequest{Amount: amount, Invoice: invoice}
	if err := c.do(ctx, http.MethodPost, "/v2/user/withdraw", nil, body, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// Price is the last traded BTC/USD price.
func (c *LNMarketsClient) Price(ctx context.Context) (decimal.Decimal, error) {
	var ticker externalmodel.LNMarketsTicker
	if err := c.do(ctx, http.MethodGet, "/v2/futures/ticker", nil, nil, &ticker); err != nil {
		return decimal.Zero, err
	}
	price := ticker.LastPrice
	if price <= 0 {
		price = ticker.Index
	}
	if price <= 0 {
		return decimal.Zero, errors.Wrap(mapper.ErrMissingField, "lnmarkets ticker: lastPrice")
	}
	return decimal.NewFromFloat(price), nil
}
