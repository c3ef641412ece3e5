// Package migration creates the core tables on startup so the gateway
// is usable out of the box for local and self-hosted environments.
package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	apikeydomain "github.com/metergate/metergate/internal/apikey/domain"
	billingdomain "github.com/metergate/metergate/internal/billing/domain"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
	userdomain "github.com/metergate/metergate/internal/user/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

func Run(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&userdomain.User{},
		&apikeydomain.APIKey{},
		&usagedomain.UsageEvent{},
		&usagedomain.PendingUsageEntry{},
		&billingdomain.WebhookEvent{},
	)
}
