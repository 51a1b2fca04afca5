package transaction

import "time"

// SubmitRequest is the intake payload shared by the three kinds. The
// kind comes from the route, not the body.
type SubmitRequest struct {
	Phone         string  `json:"phone" validate:"required,msisdn"`
	AmountFiat    float64 `json:"amount_fiat" validate:"required,gt=0"`
	Currency      string  `json:"currency" validate:"required,fiat_currency"`
	LightningDest string  `json:"lightning_dest" validate:"required,min=10,max=2000"`
}

// Response is the client view of a transaction
type Response struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	Phone          string    `json:"phone"`
	Currency       string    `json:"currency"`
	AmountFiat     float64   `json:"amount_fiat"`
	AmountSats     int64     `json:"amount_sats,omitempty"`
	ExchangeRate   float64   `json:"exchange_rate,omitempty"`
	ReceiptNumber  string    `json:"receipt_number,omitempty"`
	LightningRef   string    `json:"lightning_ref,omitempty"`
	FundingInvoice string    `json:"funding_invoice,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToResponse maps the row to its client shape
func ToResponse(t *Transaction) *Response {
	r := &Response{
		ID:         t.ID.String(),
		Kind:       string(t.Kind),
		Status:     string(t.Status),
		Progress:   t.Progress(),
		Phone:      t.Phone,
		Currency:   t.Currency,
		AmountFiat: t.AmountFiat,
		CreatedAt:  t.CreatedAt,
	}
	if t.AmountSats.Valid {
		r.AmountSats = t.AmountSats.Int64
	}
	if t.ExchangeRate.Valid {
		r.ExchangeRate = t.ExchangeRate.Float64
	}
	if t.ReceiptNumber.Valid {
		r.ReceiptNumber = t.ReceiptNumber.String
	}
	if t.LightningRef.Valid {
		r.LightningRef = t.LightningRef.String
	}
	if t.FundingInvoice.Valid {
		r.FundingInvoice = t.FundingInvoice.String
	}
	if t.FailureReason.Valid {
		r.FailureReason = t.FailureReason.String
	}
	return r
}
