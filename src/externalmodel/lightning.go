package externalmodel

// CLN REST payloads (clnrest /v1/<method>).

type CLNInvoiceRequest struct {
	AmountMsat  int64  `json:"amount_msat"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Expiry      int64  `json:"expiry,omitempty"`
}

type CLNInvoiceResponse struct {
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash"`
	ExpiresAt   int64  `json:"expires_at"`
}

type CLNPayRequest struct {
	Bolt11 string `json:"bolt11"`
}

type CLNPayResponse struct {
	Status          string `json:"status"` // "complete" | "pending" | "failed"
	PaymentHash     string `json:"payment_hash"`
	AmountSentMsat  int64  `json:"amount_sent_msat"`
	PaymentPreimage string `json:"payment_preimage"`
}

type CLNListInvoicesRequest struct {
	Label string `json:"label"`
}

type CLNListedInvoice struct {
	Label       string `json:"label"`
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash"`
	Status      string `json:"status"` // "unpaid" | "paid" | "expired"
	ExpiresAt   int64  `json:"expires_at"`
	AmountMsat  int64  `json:"amount_msat"`
}

type CLNListInvoicesResponse struct {
	Invoices []CLNListedInvoice `json:"invoices"`
}

type CLNDelInvoiceRequest struct {
	Label  string `json:"label"`
	Status string `json:"status"`
}

type CLNError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
