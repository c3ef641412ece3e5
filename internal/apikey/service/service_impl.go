package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "mg_"
	apiKeySecretBytes = 32
	displayPrefixLen  = 10
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) Generate(ctx context.Context, userID snowflake.ID, name string) (*apikeydomain.SecretResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Default"
	}

	plain, err := newSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := &apikeydomain.APIKey{
		ID:        s.genID.Generate(),
		UserID:    userID,
		KeyHash:   apikeydomain.HashAPIKey(plain),
		KeyPrefix: plain[:displayPrefixLen],
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	return &apikeydomain.SecretResponse{
		ID:        key.ID,
		APIKey:    plain,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
	}, nil
}

func (s *Service) Validate(ctx context.Context, rawKey string) (*apikeydomain.AuthRecord, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" || !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return nil, nil
	}

	record, err := s.repo.FindActiveByHash(ctx, s.db, apikeydomain.HashAPIKey(rawKey))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	// Best-effort; a failed timestamp update must not fail authentication.
	if err := s.repo.TouchLastUsed(ctx, s.db, record.KeyID, time.Now().UTC()); err != nil {
		s.log.Warn("update last_used_at failed", zap.Error(err))
	}

	return record, nil
}

func (s *Service) Revoke(ctx context.Context, userID, keyID snowflake.ID) error {
	if keyID == 0 {
		return apikeydomain.ErrInvalidKey
	}

	// Rows-affected is deliberately ignored: revoking a key that does not
	// exist or is owned by someone else is indistinguishable from success,
	// so key ids cannot be probed across users.
	_, err := s.repo.Deactivate(ctx, s.db, userID, keyID)
	return err
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	keys, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(keys))
	for i := range keys {
		resp = append(resp, apikeydomain.Response{
			ID:         keys[i].ID,
			KeyPrefix:  keys[i].KeyPrefix,
			Name:       keys[i].Name,
			IsActive:   keys[i].IsActive,
			CreatedAt:  keys[i].CreatedAt,
			LastUsedAt: keys[i].LastUsedAt,
		})
	}
	return resp, nil
}

func newSecret() (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(secret), nil
}
