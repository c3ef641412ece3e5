package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	userdomain "github.com/metergate/metergate/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, is_active, created_at, updated_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.UserID,
		key.KeyHash,
		key.KeyPrefix,
		key.Name,
		key.IsActive,
		key.CreatedAt,
		key.UpdatedAt,
		key.LastUsedAt,
	).Error
}

func (r *repo) FindActiveByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.AuthRecord, error) {
	var record struct {
		KeyID              snowflake.ID `gorm:"column:key_id"`
		UserID             snowflake.ID `gorm:"column:user_id"`
		SubscriptionID     *string      `gorm:"column:subscription_id"`
		SubscriptionStatus string       `gorm:"column:subscription_status"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT ak.id AS key_id, ak.user_id, u.subscription_id, u.subscription_status
		 FROM api_keys ak
		 JOIN users u ON u.id = ak.user_id
		 WHERE ak.key_hash = ? AND ak.is_active = ?
		 LIMIT 1`,
		hash,
		true,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.KeyID == 0 {
		return nil, nil
	}
	return &apikeydomain.AuthRecord{
		KeyID:              record.KeyID,
		UserID:             record.UserID,
		SubscriptionID:     record.SubscriptionID,
		SubscriptionStatus: userdomain.ParseStatus(record.SubscriptionStatus),
	}, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?`,
		at,
		at,
		id,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, userID, keyID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		false,
		time.Now().UTC(),
		keyID,
		userID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, key_prefix, name, is_active, created_at, updated_at, last_used_at
		 FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
