package billing

import (
	"go.uber.org/fx"

	"github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/billing/stripe"
	"github.com/metergate/metergate/internal/billing/webhook"
)

var Module = fx.Module("billing",
	fx.Provide(
		fx.Annotate(stripe.NewClient, fx.As(new(domain.Provider))),
		fx.Annotate(stripe.NewVerifier, fx.As(new(webhook.SignatureVerifier))),
		webhook.NewRepository,
		webhook.New,
	),
)
