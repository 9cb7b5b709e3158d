// LUD-16 LIGHTNING ADDRESS RESOLUTION
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"rektbot/src/externalmodel"
)

var (
	ErrInvalidAddress   = errors.New("invalid lightning address")
	ErrAmountOutOfRange = errors.New("amount outside the pay endpoint range")
)

type LNURLClient struct {
	// scheme is https in production; tests serve plain http.
	scheme string
	http   *resty.Client
}

func NewLNURLClient(cfg Config) *LNURLClient {
	return &LNURLClient{
		scheme: "https",
		http:   newRestClient("", cfg.LNURLTimeout),
	}
}

// SplitAddress splits name@domain.
func SplitAddress(address string) (string, string, error) {
	name, domain, ok := strings.Cut(strings.TrimSpace(address), "@")
	if !ok || name == "" || domain == "" || strings.ContainsAny(domain, "/@ ") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(name), strings.ToLower(domain), nil
}

func (c *LNURLClient) getJSON(ctx context.Context, target string, out interface{}) error {
	resp, err := c.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return errors.Wrapf(err, "lnurl GET %s", target)
	}
	if resp.StatusCode() != http.StatusOK {
		return &APIError{Service: "lnurl", Status: resp.StatusCode(), Message: string(resp.Body())}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "lnurl decode %s", target)
	}
	return nil
}

// Resolve fetches the pay endpoint of a lightning address.
func (c *LNURLClient) Resolve(ctx context.Context, address string) (externalmodel.PayRequest, error) {
	name, domain, err := SplitAddress(address)
	if err != nil {
		return externalmodel.PayRequest{}, err
	}

	target := fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", c.scheme, domain, url.PathEscape(name))
	var params externalmodel.LNURLPayParams
	if err := c.getJSON(ctx, target, &params); err != nil {
		return externalmodel.PayRequest{}, err
	}
	if strings.EqualFold(params.Status, "ERROR") {
		return externalmodel.PayRequest{}, errors.Errorf("lnurl %s: %s", address, params.Reason)
	}
	if params.Tag != "payRequest" || params.Callback == "" {
		return externalmodel.PayRequest{}, errors.Errorf("lnurl %s: not a pay endpoint", address)
	}

	return externalmodel.PayRequest{
		Address:     address,
		Callback:    params.Callback,
		MinSendable: params.MinSendable,
		MaxSendable: params.MaxSendable,
	}, nil
}

// RequestPaymentTarget asks the endpoint for an invoice of amount sats.
func (c *LNURLClient) RequestPaymentTarget(ctx context.Context, pr externalmodel.PayRequest, amount int64) (string, error) {
	msat := amount * 1000
	if msat < pr.MinSendable || (pr.MaxSendable > 0 && msat > pr.MaxSendable) {
		return "", fmt.Errorf("%w: %d msat not in [%d, %d]", ErrAmountOutOfRange, msat, pr.MinSendable, pr.MaxSendable)
	}

	callback, err := url.Parse(pr.Callback)
	if err != nil {
		return "", errors.Wrapf(err, "lnurl callback of %s", pr.Address)
	}
	q := callback.Query()
	q.Set("amount", strconv.FormatInt(msat, 10))
	callback.RawQuery = q.Encode()

	var inv externalmodel.LNURLPayInvoice
	if err := c.getJSON(ctx, callback.String(), &inv); err != nil {
		return "", err
	}
	if strings.EqualFold(inv.Status, "ERROR") {
		return "", errors.Errorf("lnurl %s: %s", pr.Address, inv.Reason)
	}
	if inv.PR == "" {
		return "", errors.Errorf("lnurl %s: no invoice returned", pr.Address)
	}
	return inv.PR, nil
}
