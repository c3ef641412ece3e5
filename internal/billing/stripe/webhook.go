package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/config"
)

// Verifier checks webhook payloads against the endpoint signing secret.
type Verifier struct {
	secret string
}

func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{secret: strings.TrimSpace(cfg.Billing.WebhookSecret)}
}

// Verify validates the Stripe-Signature header for payload. The header
// carries a timestamp and one or more v1 HMAC-SHA256 signatures over
// "timestamp.payload".
func (v *Verifier) Verify(payload []byte, headers http.Header) error {
	if v.secret == "" {
		return domain.ErrNotConfigured
	}

	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

// ParseEvent decodes a verified payload into a provider event, lifting
// the customer, subscription and status fields when the object carries
// them.
func ParseEvent(payload []byte) (*domain.Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Type) == "" {
		return nil, domain.ErrInvalidPayload
	}

	event := &domain.Event{
		ID:      raw.ID,
		Type:    strings.TrimSpace(raw.Type),
		Payload: payload,
	}

	if len(raw.Data.Object) > 0 {
		var object struct {
			Customer     string `json:"customer"`
			Subscription string `json:"subscription"`
			Status       string `json:"status"`
			Object       string `json:"object"`
			ID           string `json:"id"`
		}
		if err := json.Unmarshal(raw.Data.Object, &object); err == nil {
			event.CustomerID = strings.TrimSpace(object.Customer)
			event.Status = strings.TrimSpace(object.Status)
			if object.Object == "subscription" {
				event.SubscriptionID = strings.TrimSpace(object.ID)
			} else {
				event.SubscriptionID = strings.TrimSpace(object.Subscription)
			}
		}
	}

	return event, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
