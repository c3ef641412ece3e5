// Package domain contains persistence models for call accounting.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageEvent is one row per completed request. Append-only; rows are never
// mutated after insert. Feeds analytics and audit, not billing.
type UsageEvent struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"column:user_id;not null;index"`
	APIKeyID   snowflake.ID `gorm:"column:api_key_id;not null"`
	Endpoint   string       `gorm:"type:text;not null"`
	Method     string       `gorm:"type:text;not null"`
	StatusCode int          `gorm:"column:status_code;not null"`
	LatencyMs  int64        `gorm:"column:latency_ms;not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// PendingUsageEntry is one billable increment awaiting external reporting.
// Rows make a single transition reported=false -> true and are never
// touched again afterwards.
type PendingUsageEntry struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"column:user_id;not null;index"`
	Quantity   int64        `gorm:"not null"`
	Reported   bool         `gorm:"not null;default:false;index"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ReportedAt *time.Time   `gorm:"column:reported_at"`
}

// TableName sets the database table name.
func (PendingUsageEntry) TableName() string { return "pending_usage_entries" }
