package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/metergate/metergate/internal/user/domain"
	"gorm.io/gorm"
)

type Service interface {
	// Generate issues a new key. The raw secret in the response is the only
	// time it is ever available; callers must surface that warning.
	Generate(ctx context.Context, userID snowflake.ID, name string) (*SecretResponse, error)

	// Validate resolves a raw secret to its key record joined with the
	// owner's subscription state. A miss or an inactive key returns
	// (nil, nil) so callers cannot distinguish wrong from revoked keys.
	Validate(ctx context.Context, rawKey string) (*AuthRecord, error)

	// Revoke deactivates a key only when it belongs to userID. A key that
	// does not exist or belongs to someone else is a silent no-op.
	Revoke(ctx context.Context, userID, keyID snowflake.ID) error

	List(ctx context.Context, userID snowflake.ID) ([]Response, error)
}

// SecretResponse is returned exactly once, at issuance.
type SecretResponse struct {
	ID        snowflake.ID `json:"id"`
	APIKey    string       `json:"api_key"`
	KeyPrefix string       `json:"key_prefix"`
	Name      string       `json:"name"`
}

// AuthRecord is the authentication view of a key: the key row plus the
// owner's subscription state, resolved in one lookup.
type AuthRecord struct {
	KeyID              snowflake.ID
	UserID             snowflake.ID
	SubscriptionID     *string
	SubscriptionStatus userdomain.SubscriptionStatus
}

type Response struct {
	ID         snowflake.ID `json:"id"`
	KeyPrefix  string       `json:"key_prefix"`
	Name       string       `json:"name"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUsedAt *time.Time   `json:"last_used_at"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindActiveByHash(ctx context.Context, db *gorm.DB, hash string) (*AuthRecord, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Deactivate(ctx context.Context, db *gorm.DB, userID, keyID snowflake.ID) (int64, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]APIKey, error)
}

var (
	ErrInvalidName = errors.New("invalid_name")
	ErrInvalidKey  = errors.New("invalid_key")
)
