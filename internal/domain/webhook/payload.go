package webhook

import (
	"encoding/json"
	"fmt"
)

// Event is a provider callback normalized to the one shape the
// reconciler cares about: which job, did the money move, and what proof
// the provider handed back.
type Event struct {
	Provider      string
	ExternalRef   string
	Success       bool
	ResultCode    int
	ResultDesc    string
	ReceiptNumber string
	AmountFiat    float64
}

type stkItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []stkItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseStkCallback decodes a Daraja STK push result. ResultCode 0 means
// the customer paid; the receipt and amount only exist in that case.
func ParseStkCallback(body []byte) (*Event, error) {
	var payload stkCallbackBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("stk callback: %w", err)
	}

	cb := payload.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("stk callback: missing CheckoutRequestID")
	}

	event := &Event{
		Provider:    "mpesa-stk",
		ExternalRef: cb.CheckoutRequestID,
		Success:     cb.ResultCode == 0,
		ResultCode:  cb.ResultCode,
		ResultDesc:  cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			var receipt string
			if err := json.Unmarshal(item.Value, &receipt); err == nil {
				event.ReceiptNumber = receipt
			}
		case "Amount":
			var amount float64
			if err := json.Unmarshal(item.Value, &amount); err == nil {
				event.AmountFiat = amount
			}
		}
	}

	if event.Success && event.ReceiptNumber == "" {
		return nil, fmt.Errorf("stk callback: success without MpesaReceiptNumber")
	}
	return event, nil
}

type b2cParameter struct {
	Key   string          `json:"Key"`
	Value json.RawMessage `json:"Value"`
}

type b2cResultBody struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []b2cParameter `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ParseB2CResult decodes a Daraja B2C result callback. The
// ConversationID correlates back to the dispatch; TransactionID is the
// settlement receipt.
func ParseB2CResult(body []byte) (*Event, error) {
	var payload b2cResultBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("b2c result: %w", err)
	}

	res := payload.Result
	if res.ConversationID == "" {
		return nil, fmt.Errorf("b2c result: missing ConversationID")
	}

	event := &Event{
		Provider:      "mpesa-b2c",
		ExternalRef:   res.ConversationID,
		Success:       res.ResultCode == 0,
		ResultCode:    res.ResultCode,
		ResultDesc:    res.ResultDesc,
		ReceiptNumber: res.TransactionID,
	}

	for _, param := range res.ResultParameters.ResultParameter {
		if param.Key == "TransactionAmount" {
			var amount float64
			if err := json.Unmarshal(param.Value, &amount); err == nil {
				event.AmountFiat = amount
			}
		}
	}
	return event, nil
}

type airtimeCallbackBody struct {
	RequestID string  `json:"request_id"`
	ClientRef string  `json:"client_ref"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Amount    float64 `json:"amount"`
}

// ParseAirtimeCallback decodes the airtime provider's delivery
// notification. Status "delivered" is the only success signal.
func ParseAirtimeCallback(body []byte) (*Event, error) {
	var payload airtimeCallbackBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("airtime callback: %w", err)
	}
	if payload.RequestID == "" {
		return nil, fmt.Errorf("airtime callback: missing request_id")
	}

	success := payload.Status == "delivered"
	code := 0
	if !success {
		code = 1
	}
	return &Event{
		Provider:      "airtime",
		ExternalRef:   payload.RequestID,
		Success:       success,
		ResultCode:    code,
		ResultDesc:    payload.Message,
		ReceiptNumber: payload.RequestID,
		AmountFiat:    payload.Amount,
	}, nil
}
