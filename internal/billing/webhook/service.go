// Package webhook keeps local subscription state in sync with the
// billing provider by consuming its webhook events.
package webhook

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/billing/stripe"
	userdomain "github.com/metergate/metergate/internal/user/domain"
)

// SignatureVerifier validates that a payload was signed by the
// provider before any of it is trusted.
type SignatureVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

type Service struct {
	db       *gorm.DB
	verifier SignatureVerifier
	users    userdomain.Repository
	events   Repository
	node     *snowflake.Node
	log      *zap.Logger
}

func New(gdb *gorm.DB, verifier SignatureVerifier, users userdomain.Repository, events Repository, node *snowflake.Node, log *zap.Logger) *Service {
	return &Service{
		db:       gdb,
		verifier: verifier,
		users:    users,
		events:   events,
		node:     node,
		log:      log.Named("billing.webhook"),
	}
}

// Handle verifies, records and applies one webhook delivery. A
// verification failure is the only error surfaced to the caller;
// everything after the signature check is acknowledged so the provider
// does not retry events we have already seen or do not act on.
func (s *Service) Handle(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.verifier.Verify(payload, headers); err != nil {
		return err
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		return err
	}

	stored, err := s.events.Record(ctx, s.node.Generate(), event)
	if err != nil {
		s.log.Error("record webhook event", zap.String("event_id", event.ID), zap.Error(err))
	} else if !stored {
		s.log.Debug("duplicate webhook event", zap.String("event_id", event.ID))
		return nil
	}

	switch event.Type {
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated:
		s.applySubscription(ctx, event)
	case domain.EventSubscriptionDeleted:
		s.applyCancellation(ctx, event)
	case domain.EventInvoicePaid:
		s.log.Info("invoice paid",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID),
		)
	case domain.EventInvoicePaymentFailed:
		s.log.Warn("invoice payment failed",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID),
		)
	case domain.EventTrialWillEnd:
		s.log.Info("trial ending soon",
			zap.String("event_id", event.ID),
			zap.String("subscription_id", event.SubscriptionID),
		)
	default:
		s.log.Debug("ignoring webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
		)
	}

	return nil
}

func (s *Service) applySubscription(ctx context.Context, event *domain.Event) {
	if event.CustomerID == "" || event.SubscriptionID == "" {
		s.log.Warn("subscription event missing identifiers", zap.String("event_id", event.ID))
		return
	}

	status := userdomain.ParseStatus(event.Status)
	subscriptionID := event.SubscriptionID
	update := userdomain.SubscriptionUpdate{
		SubscriptionID: &subscriptionID,
		Status:         status,
	}

	affected, err := s.users.UpdateSubscriptionByCustomerID(ctx, s.db, event.CustomerID, update)
	if err != nil {
		s.log.Error("apply subscription update",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID),
			zap.Error(err),
		)
		return
	}
	if affected == 0 {
		s.log.Warn("subscription event for unknown customer",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID),
		)
		return
	}

	s.log.Info("subscription state updated",
		zap.String("customer_id", event.CustomerID),
		zap.String("subscription_id", subscriptionID),
		zap.String("status", string(status)),
	)
}

func (s *Service) applyCancellation(ctx context.Context, event *domain.Event) {
	if event.CustomerID == "" {
		s.log.Warn("cancellation event missing customer", zap.String("event_id", event.ID))
		return
	}

	update := userdomain.SubscriptionUpdate{
		SubscriptionID: nil,
		Status:         userdomain.StatusCanceled,
	}

	affected, err := s.users.UpdateSubscriptionByCustomerID(ctx, s.db, event.CustomerID, update)
	if err != nil {
		s.log.Error("apply cancellation",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID),
			zap.Error(err),
		)
		return
	}
	if affected == 0 {
		s.log.Warn("cancellation for unknown customer",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID),
		)
		return
	}

	s.log.Info("subscription canceled", zap.String("customer_id", event.CustomerID))
}
