package webhook

import "testing"

func TestVerifySignature(t *testing.T) {
	secret := "callback-secret"
	body := []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)

	if err := VerifySignature(secret, body, Sign(secret, body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(secret, body, Sign("wrong-secret", body)); err == nil {
		t.Fatal("signature under wrong secret accepted")
	}
	if err := VerifySignature(secret, []byte("tampered"), Sign(secret, body)); err == nil {
		t.Fatal("signature over different body accepted")
	}
	if err := VerifySignature(secret, body, ""); err == nil {
		t.Fatal("empty signature accepted")
	}
}
