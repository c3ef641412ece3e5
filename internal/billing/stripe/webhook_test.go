package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/config"
)

const testWebhookSecret = "whsec_test_secret"

func signedHeader(secret string, payload []byte) http.Header {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))
	return headers
}

func testVerifier(secret string) *Verifier {
	return NewVerifier(config.Config{
		Billing: config.BillingConfig{WebhookSecret: secret},
	})
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	verifier := testVerifier(testWebhookSecret)

	if err := verifier.Verify(payload, signedHeader(testWebhookSecret, payload)); err != nil {
		t.Fatalf("verify valid signature: %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	verifier := testVerifier(testWebhookSecret)

	err := verifier.Verify(payload, signedHeader("whsec_other", payload))
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	verifier := testVerifier(testWebhookSecret)
	headers := signedHeader(testWebhookSecret, payload)

	err := verifier.Verify([]byte(`{"id":"evt_1","type":"invoice.payment_failed"}`), headers)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	verifier := testVerifier(testWebhookSecret)

	err := verifier.Verify([]byte(`{}`), http.Header{})
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	verifier := testVerifier(testWebhookSecret)

	headers := http.Header{}
	headers.Set("Stripe-Signature", "not-a-signature-header")
	err := verifier.Verify([]byte(`{}`), headers)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
}

func TestVerifyAcceptsAnyOfMultipleSignatures(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	verifier := testVerifier(testWebhookSecret)

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	good := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s,v1=%s", timestamp, "0badsignature", good))
	if err := verifier.Verify(payload, headers); err != nil {
		t.Fatalf("verify with rotated secrets: %v", err)
	}
}

func TestVerifyUnconfiguredSecret(t *testing.T) {
	payload := []byte(`{}`)
	verifier := testVerifier("")

	err := verifier.Verify(payload, signedHeader(testWebhookSecret, payload))
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestParseEventSubscriptionObject(t *testing.T) {
	payload := []byte(`{
		"id": "evt_sub",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_123",
				"object": "subscription",
				"customer": "cus_123",
				"status": "past_due"
			}
		}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != domain.EventSubscriptionUpdated {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.CustomerID != "cus_123" {
		t.Fatalf("unexpected customer %q", event.CustomerID)
	}
	if event.SubscriptionID != "sub_123" {
		t.Fatalf("unexpected subscription %q", event.SubscriptionID)
	}
	if event.Status != "past_due" {
		t.Fatalf("unexpected status %q", event.Status)
	}
}

func TestParseEventInvoiceReferencesSubscription(t *testing.T) {
	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.paid",
		"data": {
			"object": {
				"id": "in_123",
				"object": "invoice",
				"customer": "cus_123",
				"subscription": "sub_456",
				"status": "paid"
			}
		}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.SubscriptionID != "sub_456" {
		t.Fatalf("expected subscription lifted from invoice, got %q", event.SubscriptionID)
	}
}

func TestParseEventRejectsGarbage(t *testing.T) {
	if _, err := ParseEvent([]byte(`not json`)); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload error, got %v", err)
	}
	if _, err := ParseEvent([]byte(`{"type":"invoice.paid"}`)); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload error for missing id, got %v", err)
	}
}
