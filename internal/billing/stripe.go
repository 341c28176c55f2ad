package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const (
	MetadataOrganizationID = "organization_id"
	MetadataPackageID      = "package_id"
	MetadataCreditAmount   = "credit_amount"
	MetadataUserID         = "user_id"
)

type ledger interface {
	Grant(ctx context.Context, req model.GrantRequest) (*model.CreditTransaction, error)
	SetSubscriptionStatus(ctx context.Context, orgID uuid.UUID, status model.SubscriptionStatus) error
}

// StripeService turns Stripe payment events into credit grants and
// subscription status changes. Grants are keyed by the Stripe object id, so a
// redelivered event never books credits twice.
type StripeService struct {
	ledger ledger
	log    *logger.Logger
}

func NewStripeService(l ledger, log *logger.Logger) (*StripeService, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StripeService{ledger: l, log: log}, nil
}

func (s *StripeService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return apperr.New(apperr.CodeValidation, "stripe event data required")
	}
	ctx = s.log.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return apperr.Wrap(apperr.CodeDependency, err, "decode checkout session")
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
			session.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			s.log.Info(ctx, "checkout session not paid yet")
			return nil
		}
		return s.purchase(ctx, session.ID, session.Metadata)

	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return apperr.Wrap(apperr.CodeDependency, err, "decode invoice")
		}
		return s.purchase(ctx, invoice.ID, invoice.Metadata)

	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return apperr.Wrap(apperr.CodeDependency, err, "decode invoice")
		}
		orgID, err := organizationFromMetadata(invoice.Metadata)
		if err != nil {
			return err
		}
		return s.ledger.SetSubscriptionStatus(ctx, orgID, model.SubscriptionInactive)

	default:
		s.log.Debug(ctx, "stripe event ignored")
		return nil
	}
}

func (s *StripeService) purchase(ctx context.Context, externalRef string, metadata map[string]string) error {
	orgID, err := organizationFromMetadata(metadata)
	if err != nil {
		return err
	}
	credits, err := creditsFromMetadata(metadata)
	if err != nil {
		return err
	}

	userID := metadata[MetadataUserID]
	if userID == "" {
		userID = "stripe"
	}
	if _, err := s.ledger.Grant(ctx, model.GrantRequest{
		OrganizationID: orgID,
		UserID:         userID,
		Amount:         credits,
		Type:           model.TransactionPurchase,
		ExternalRef:    externalRef,
	}); err != nil {
		return err
	}
	return s.ledger.SetSubscriptionStatus(ctx, orgID, model.SubscriptionActive)
}

func organizationFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw := strings.TrimSpace(metadata[MetadataOrganizationID])
	if raw == "" {
		return uuid.Nil, apperr.New(apperr.CodeValidation, "organization_id metadata missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeValidation, err, "organization_id metadata invalid")
	}
	return id, nil
}

// creditsFromMetadata resolves the credit amount from a catalog package id,
// falling back to an explicit credit_amount.
func creditsFromMetadata(metadata map[string]string) (int64, error) {
	if pkgID := strings.TrimSpace(metadata[MetadataPackageID]); pkgID != "" {
		pkg, ok := model.CreditPackageByID(pkgID)
		if !ok {
			return 0, apperr.New(apperr.CodeValidation, "unknown credit package").
				WithDetails(map[string]string{MetadataPackageID: pkgID})
		}
		return pkg.Credits, nil
	}
	raw := strings.TrimSpace(metadata[MetadataCreditAmount])
	if raw == "" {
		return 0, apperr.New(apperr.CodeValidation, "package_id or credit_amount metadata required")
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || amount <= 0 {
		return 0, apperr.New(apperr.CodeValidation, "credit_amount metadata must be a positive integer")
	}
	return amount, nil
}
