package externalmodel

// LNURLPayParams is the LUD-06 payRequest document served at /.well-known/lnurlp/<user>.
type LNURLPayParams struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Metadata    string `json:"metadata"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// LNURLPayInvoice is the callback answer carrying the invoice to pay.
type LNURLPayInvoice struct {
	PR     string `json:"pr"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}
