// REST CLIENT FOR A CORE LIGHTNING NODE (clnrest)
package connectors

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	logger "github.com/sirupsen/logrus"

	"rektbot/src/externalmodel"
)

const clnPayComplete = "complete"

type LightningClient struct {
	runeToken string
	http      *resty.Client
}

func NewLightningClient(cfg Config) *LightningClient {
	httpClient := newRestClient(cfg.CLNRestURL, cfg.CLNTimeout)
	if cfg.CLNInsecureTLS {
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &LightningClient{runeToken: cfg.CLNRune, http: httpClient}
}

// call invokes one clnrest RPC method.
func (c *LightningClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	path := "/v1/" + method
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Rune", c.runeToken).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post(path)
	if err != nil {
		return errors.Wrapf(err, "cln %s", method)
	}

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		apiErr := &APIError{Service: "cln", Status: resp.StatusCode(), Message: string(resp.Body())}
		var rpcErr externalmodel.CLNError
		if json.Unmarshal(resp.Body(), &rpcErr) == nil && rpcErr.Message != "" {
			apiErr.Message = rpcErr.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "cln decode %s", method)
	}
	return nil
}

// CreateInvoice issues an invoice of amount sats labelled with the order id.
func (c *LightningClient) CreateInvoice(ctx context.Context, amount int64, label, description string, expiry time.Duration) (externalmodel.Invoice, error) {
	req := externalmodel.CLNInvoiceRequest{
		AmountMsat:  amount * 1000,
		Label:       label,
		Description: description,
		Expiry:      int64(expiry / time.Second),
	}
	var res externalmodel.CLNInvoiceResponse
	if err := c.call(ctx, "invoice", req, &res); err != nil {
		return externalmodel.Invoice{}, err
	}
	return externalmodel.Invoice{
		Bolt11:      res.Bolt11,
		PaymentHash: res.PaymentHash,
		Label:       label,
		ExpiresAt:   res.ExpiresAt,
	}, nil
}

// Pay pays bolt11 and reports whether the payment completed.
func (c *LightningClient) Pay(ctx context.Context, bolt11 string) (bool, error) {
	var res externalmodel.CLNPayResponse
	if err := c.call(ctx, "pay", externalmodel.CLNPayRequest{Bolt11: bolt11}, &res); err != nil {
		return false, err
	}
	if res.Status != clnPayComplete {
		logger.WithFields(map[string]interface{}{
			"payment_hash": res.PaymentHash,
			"status":       res.Status,
		}).Warn("CLN payment did not complete")
		return false, nil
	}
	return true, nil
}

func (c *LightningClient) InvoiceStatus(ctx context.Context, label string) (externalmodel.InvoiceStatus, error) {
	var res externalmodel.CLNListInvoicesResponse
	if err := c.call(ctx, "listinvoices", externalmodel.CLNListInvoicesRequest{Label: label}, &res); err != nil {
		return "", err
	}
	if len(res.Invoices) == 0 {
		return externalmodel.InvoiceNotFound, nil
	}

	switch res.Invoices[0].Status {
	case "paid":
		return externalmodel.InvoicePaid, nil
	case "expired":
		return externalmodel.InvoiceExpired, nil
	default:
		return externalmodel.InvoiceUnpaid, nil
	}
}

// DeleteInvoice removes an invoice that is still in status.
func (c *LightningClient) DeleteInvoice(ctx context.Context, label string, status externalmodel.InvoiceStatus) error {
	return c.call(ctx, "delinvoice", externalmodel.CLNDelInvoiceRequest{Label: label, Status: string(status)}, nil)
}
