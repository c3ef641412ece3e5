// Package domain contains the user model and subscription lifecycle state.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SubscriptionStatus mirrors the billing provider's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusInactive SubscriptionStatus = "inactive"
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// AllowsAPIAccess reports whether the status grants access to metered
// endpoints. past_due is still permitted as a grace period.
func (s SubscriptionStatus) AllowsAPIAccess() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a provider status string, defaulting to inactive.
func ParseStatus(raw string) SubscriptionStatus {
	switch SubscriptionStatus(raw) {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusInactive:
		return SubscriptionStatus(raw)
	default:
		return StatusInactive
	}
}

// User is an account that owns API keys and accrues metered usage.
// The billing customer reference is assigned lazily on first provider contact.
type User struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	Email              string             `gorm:"type:text;not null;uniqueIndex"`
	Name               string             `gorm:"type:text;not null"`
	BillingCustomerID  *string            `gorm:"column:billing_customer_id;type:text;uniqueIndex"`
	SubscriptionID     *string            `gorm:"column:subscription_id;type:text"`
	SubscriptionStatus SubscriptionStatus `gorm:"column:subscription_status;type:text;not null;default:'inactive'"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// SubscriptionUpdate carries the fields mutated by lifecycle events.
type SubscriptionUpdate struct {
	SubscriptionID *string
	Status         SubscriptionStatus
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*User, error)
	SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string) error
	UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, update SubscriptionUpdate) error
	UpdateSubscriptionByCustomerID(ctx context.Context, db *gorm.DB, customerID string, update SubscriptionUpdate) (int64, error)
}

var ErrNotFound = errors.New("user_not_found")
