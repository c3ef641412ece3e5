package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	"github.com/metergate/metergate/internal/apikey/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestGenerateReturnsSecretOnce(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	service, db := setupAPIKeyService(t, node, userID)
	ctx := context.Background()

	secret, err := service.Generate(ctx, userID, "ci pipeline")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(secret.APIKey, "mg_") {
		t.Fatalf("expected mg_ prefix, got %q", secret.APIKey)
	}
	if secret.KeyPrefix != secret.APIKey[:len(secret.KeyPrefix)] {
		t.Fatalf("display prefix %q is not a prefix of the secret", secret.KeyPrefix)
	}

	// Only the digest may be persisted; the raw secret must be unrecoverable.
	var stored struct {
		KeyHash   string `gorm:"column:key_hash"`
		KeyPrefix string `gorm:"column:key_prefix"`
	}
	if err := db.Raw(`SELECT key_hash, key_prefix FROM api_keys WHERE id = ?`, secret.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read stored key: %v", err)
	}
	if stored.KeyHash == secret.APIKey {
		t.Fatal("raw secret stored in key_hash")
	}
	if stored.KeyHash != apikeydomain.HashAPIKey(secret.APIKey) {
		t.Fatalf("stored hash does not match digest of secret")
	}
	if len(stored.KeyPrefix) >= len(secret.APIKey) {
		t.Fatalf("stored prefix %q reveals the whole secret", stored.KeyPrefix)
	}
}

func TestValidateActiveKey(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	service, _ := setupAPIKeyService(t, node, userID)
	ctx := context.Background()

	secret, err := service.Generate(ctx, userID, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	record, err := service.Validate(ctx, secret.APIKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if record == nil {
		t.Fatal("expected auth record for active key, got nil")
	}
	if record.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, record.UserID)
	}
	if record.KeyID != secret.ID {
		t.Fatalf("expected key %s, got %s", secret.ID, record.KeyID)
	}
}

func TestValidateUnknownKey(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	service, _ := setupAPIKeyService(t, node, userID)

	record, err := service.Validate(context.Background(), "mg_deadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("validate unknown: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record for unknown key, got %+v", record)
	}
}

func TestValidateRejectsForeignPrefix(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	service, _ := setupAPIKeyService(t, node, userID)

	record, err := service.Validate(context.Background(), "sk_live_not_one_of_ours")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if record != nil {
		t.Fatal("expected nil record for foreign key format")
	}
}

func TestRevokedKeyStopsValidating(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	service, _ := setupAPIKeyService(t, node, userID)
	ctx := context.Background()

	secret, err := service.Generate(ctx, userID, "to revoke")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := service.Revoke(ctx, userID, secret.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	record, err := service.Validate(ctx, secret.APIKey)
	if err != nil {
		t.Fatalf("validate revoked: %v", err)
	}
	if record != nil {
		t.Fatal("revoked key still validates")
	}
}

func TestRevokeIsSilentForForeignKey(t *testing.T) {
	node := mustNode(t)
	owner := node.Generate()
	service, _ := setupAPIKeyService(t, node, owner)
	ctx := context.Background()

	secret, err := service.Generate(ctx, owner, "mine")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Revoking with the wrong owner must not error and must not touch the key.
	other := node.Generate()
	if err := service.Revoke(ctx, other, secret.ID); err != nil {
		t.Fatalf("revoke foreign: %v", err)
	}
	if err := service.Revoke(ctx, owner, node.Generate()); err != nil {
		t.Fatalf("revoke missing: %v", err)
	}

	record, err := service.Validate(ctx, secret.APIKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if record == nil {
		t.Fatal("key deactivated by a non-owner revoke")
	}
}

func TestListShowsPrefixNotSecret(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	service, _ := setupAPIKeyService(t, node, userID)
	ctx := context.Background()

	secret, err := service.Generate(ctx, userID, "listed")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	keys, err := service.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].KeyPrefix != secret.KeyPrefix {
		t.Fatalf("expected prefix %q, got %q", secret.KeyPrefix, keys[0].KeyPrefix)
	}
	if !keys[0].IsActive {
		t.Fatal("freshly generated key listed as inactive")
	}
}

func setupAPIKeyService(t *testing.T, node *snowflake.Node, userID snowflake.ID) (apikeydomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error
	prepareAPIKeySchema(t, db)
	seedUser(t, db, userID)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return svc, db
}

func prepareAPIKeySchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			billing_customer_id TEXT,
			subscription_id TEXT,
			subscription_status TEXT NOT NULL DEFAULT 'inactive',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_used_at DATETIME
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func seedUser(t *testing.T, db *gorm.DB, id snowflake.ID) {
	t.Helper()

	err := db.Exec(
		`INSERT INTO users (id, email, name, subscription_status, created_at, updated_at)
		 VALUES (?, ?, ?, 'active', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id,
		fmt.Sprintf("%s@example.test", id),
		"Test User",
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
