package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/metergate/metergate/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() userdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*userdomain.User, error) {
	var user userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, billing_customer_id, subscription_id, subscription_status, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*userdomain.User, error) {
	var user userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, billing_customer_id, subscription_id, subscription_status, created_at, updated_at
		 FROM users WHERE billing_customer_id = ?`,
		customerID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET billing_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) UpdateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, update userdomain.SubscriptionUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET subscription_id = ?, subscription_status = ?, updated_at = ? WHERE id = ?`,
		update.SubscriptionID,
		update.Status,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) UpdateSubscriptionByCustomerID(ctx context.Context, db *gorm.DB, customerID string, update userdomain.SubscriptionUpdate) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE users SET subscription_id = ?, subscription_status = ?, updated_at = ? WHERE billing_customer_id = ?`,
		update.SubscriptionID,
		update.Status,
		time.Now().UTC(),
		customerID,
	)
	return result.RowsAffected, result.Error
}
