// Package domain defines the contract with the external metered-billing
// provider. The provider is treated as a black-box idempotent ledger:
// submit an increment, get back success or failure plus a record id.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription is the provider's view of a subscription.
type Subscription struct {
	ID                 string             `json:"id"`
	CustomerID         string             `json:"customer"`
	Status             string             `json:"status"`
	CurrentPeriodStart int64              `json:"current_period_start"`
	CurrentPeriodEnd   int64              `json:"current_period_end"`
	Items              []SubscriptionItem `json:"-"`
}

// SubscriptionItem is one line of a subscription; metered usage is
// submitted against the item, not the subscription.
type SubscriptionItem struct {
	ID      string `json:"id"`
	PriceID string `json:"-"`
}

// Invoice is one provider invoice, reduced to display fields.
type Invoice struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	AmountDue  int64  `json:"amount_due"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Created    int64  `json:"created"`
	HostedURL  string `json:"hosted_invoice_url"`
}

// UsageSummary is the provider-side usage for the current billing period.
type UsageSummary struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	TotalUsage  int64     `json:"total_usage"`
	Status      string    `json:"status"`
}

type Provider interface {
	CreateCustomer(ctx context.Context, email, name string, userID snowflake.ID) (string, error)
	CreateMeteredSubscription(ctx context.Context, customerID string) (*Subscription, error)

	// SubmitUsage reports an increment of quantity against a subscription
	// item. The returned id identifies the provider-side usage record.
	SubmitUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) (string, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error)
	UsageSummary(ctx context.Context, subscriptionID string) (*UsageSummary, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

var (
	ErrNotConfigured    = errors.New("billing_not_configured")
	ErrNoSubscription   = errors.New("no_subscription")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)
