package webhook

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/pkg/db"
)

// Repository persists received provider events for audit and
// at-most-once processing.
type Repository interface {
	// Record stores the event and reports whether it is new. A
	// duplicate provider event id returns (false, nil).
	Record(ctx context.Context, id snowflake.ID, event *domain.Event) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) Repository {
	return &repository{db: gdb}
}

func (r *repository) Record(ctx context.Context, id snowflake.ID, event *domain.Event) (bool, error) {
	row := domain.WebhookEvent{
		ID:              id,
		ProviderEventID: event.ID,
		Type:            event.Type,
		Payload:         datatypes.JSON(event.Payload),
	}

	err := r.db.WithContext(ctx).Exec(
		"INSERT INTO billing_webhook_events (id, provider_event_id, type, payload, received_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)",
		row.ID, row.ProviderEventID, row.Type, row.Payload,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
