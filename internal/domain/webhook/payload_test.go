package webhook

import "testing"

func TestParseStkCallbackSuccess(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1500.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254708374149}
					]
				}
			}
		}
	}`)

	event, err := ParseStkCallback(body)
	if err != nil {
		t.Fatalf("ParseStkCallback() error = %v", err)
	}
	if !event.Success {
		t.Error("Success = false, want true")
	}
	if event.ExternalRef != "ws_CO_191220191020363925" {
		t.Errorf("ExternalRef = %q", event.ExternalRef)
	}
	if event.ReceiptNumber != "NLJ7RT61SV" {
		t.Errorf("ReceiptNumber = %q", event.ReceiptNumber)
	}
	if event.AmountFiat != 1500 {
		t.Errorf("AmountFiat = %v, want 1500", event.AmountFiat)
	}
}

func TestParseStkCallbackCancelled(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user."
			}
		}
	}`)

	event, err := ParseStkCallback(body)
	if err != nil {
		t.Fatalf("ParseStkCallback() error = %v", err)
	}
	if event.Success {
		t.Error("Success = true for ResultCode 1032")
	}
	if event.ResultDesc != "Request cancelled by user." {
		t.Errorf("ResultDesc = %q", event.ResultDesc)
	}
}

func TestParseStkCallbackSuccessWithoutReceipt(t *testing.T) {
	body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
	if _, err := ParseStkCallback(body); err == nil {
		t.Fatal("expected error for success callback without receipt")
	}
}

func TestParseB2CResult(t *testing.T) {
	body := []byte(`{
		"Result": {
			"ResultType": 0,
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"OriginatorConversationID": "10571-7910404-1",
			"ConversationID": "AG_20191219_00004e48cf7e3533f581",
			"TransactionID": "NLJ41HAY6Q",
			"ResultParameters": {
				"ResultParameter": [
					{"Key": "TransactionAmount", "Value": 2500},
					{"Key": "TransactionReceipt", "Value": "NLJ41HAY6Q"}
				]
			}
		}
	}`)

	event, err := ParseB2CResult(body)
	if err != nil {
		t.Fatalf("ParseB2CResult() error = %v", err)
	}
	if !event.Success {
		t.Error("Success = false, want true")
	}
	if event.ExternalRef != "AG_20191219_00004e48cf7e3533f581" {
		t.Errorf("ExternalRef = %q", event.ExternalRef)
	}
	if event.ReceiptNumber != "NLJ41HAY6Q" {
		t.Errorf("ReceiptNumber = %q", event.ReceiptNumber)
	}
	if event.AmountFiat != 2500 {
		t.Errorf("AmountFiat = %v, want 2500", event.AmountFiat)
	}
}

func TestParseAirtimeCallback(t *testing.T) {
	delivered, err := ParseAirtimeCallback([]byte(`{"request_id":"atm-991","client_ref":"tx-1","status":"delivered","amount":100}`))
	if err != nil {
		t.Fatalf("ParseAirtimeCallback() error = %v", err)
	}
	if !delivered.Success {
		t.Error("delivered status not treated as success")
	}
	if delivered.ExternalRef != "atm-991" {
		t.Errorf("ExternalRef = %q", delivered.ExternalRef)
	}

	failed, err := ParseAirtimeCallback([]byte(`{"request_id":"atm-992","status":"failed","message":"invalid msisdn"}`))
	if err != nil {
		t.Fatalf("ParseAirtimeCallback() error = %v", err)
	}
	if failed.Success {
		t.Error("failed status treated as success")
	}
}

func TestParseMalformedBodies(t *testing.T) {
	if _, err := ParseStkCallback([]byte(`not json`)); err == nil {
		t.Error("ParseStkCallback accepted garbage")
	}
	if _, err := ParseB2CResult([]byte(`{}`)); err == nil {
		t.Error("ParseB2CResult accepted body without ConversationID")
	}
	if _, err := ParseAirtimeCallback([]byte(`{}`)); err == nil {
		t.Error("ParseAirtimeCallback accepted body without request_id")
	}
}
