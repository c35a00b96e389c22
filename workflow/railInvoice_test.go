package workflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/afrimobile/shares_backend/models"
)

func TestMapInvoiceStatus(t *testing.T) {
	cases := []struct {
		status string
		want   models.PurchaseStatus
	}{
		{"paid", models.PurchaseStatusCompleted},
		{"completed", models.PurchaseStatusCompleted},
		{"success", models.PurchaseStatusCompleted},
		{"PAID", models.PurchaseStatusCompleted},
		{"  Paid ", models.PurchaseStatusCompleted},
		{"cancelled", models.PurchaseStatusFailed},
		{"expired", models.PurchaseStatusFailed},
		{"failed", models.PurchaseStatusFailed},
		{"processing", models.PurchaseStatusVerifying},
		{"pending", models.PurchaseStatusVerifying},
		{"refund_requested", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := MapInvoiceStatus(c.status); got != c.want {
			t.Fatalf("status %q mapped to %q, want %q", c.status, got, c.want)
		}
	}
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyInvoiceSignature(t *testing.T) {
	t.Setenv("CENTIIV_WEBHOOK_SECRET", "test-secret")
	payload := []byte(`{"id":"evt_1","order_id":"ord_9","status":"paid"}`)
	sig := signPayload("test-secret", payload)

	if !VerifyInvoiceSignature(payload, sig) {
		t.Fatal("valid signature rejected")
	}
	if !VerifyInvoiceSignature(payload, " "+strings.ToUpper(sig)+" ") {
		t.Fatal("case and whitespace in the header should not matter")
	}
	if VerifyInvoiceSignature(payload, signPayload("other-secret", payload)) {
		t.Fatal("signature under the wrong secret accepted")
	}
	if VerifyInvoiceSignature([]byte(`{"tampered":true}`), sig) {
		t.Fatal("tampered payload accepted")
	}
	if VerifyInvoiceSignature(payload, "") {
		t.Fatal("empty signature accepted")
	}
}

func TestVerifyInvoiceSignatureWithoutSecret(t *testing.T) {
	t.Setenv("CENTIIV_WEBHOOK_SECRET", "")
	payload := []byte(`{}`)
	if VerifyInvoiceSignature(payload, signPayload("", payload)) {
		t.Fatal("verification must fail closed when no secret is configured")
	}
}
