package billing

import (
	"context"
	"encoding/json"
	"testing"

	"creditflow/internal/apperr"
	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

type fakeLedger struct {
	grants   []model.GrantRequest
	statuses map[uuid.UUID]model.SubscriptionStatus
	grantErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{statuses: map[uuid.UUID]model.SubscriptionStatus{}}
}

func (f *fakeLedger) Grant(_ context.Context, req model.GrantRequest) (*model.CreditTransaction, error) {
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	f.grants = append(f.grants, req)
	return &model.CreditTransaction{ID: uuid.New(), OrganizationID: req.OrganizationID, Amount: req.Amount, Type: req.Type}, nil
}

func (f *fakeLedger) SetSubscriptionStatus(_ context.Context, orgID uuid.UUID, status model.SubscriptionStatus) error {
	f.statuses[orgID] = status
	return nil
}

func stripeEvent(t *testing.T, eventType stripe.EventType, object any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	}
}

func TestCheckoutCompletedGrantsPackageCredits(t *testing.T) {
	l := newFakeLedger()
	svc, err := NewStripeService(l, nil)
	require.NoError(t, err)

	orgID := uuid.New()
	session := &stripe.CheckoutSession{
		ID:            "cs_test_123",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata: map[string]string{
			MetadataOrganizationID: orgID.String(),
			MetadataPackageID:      "professional",
			MetadataUserID:         "owner-1",
		},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), stripeEvent(t, stripe.EventTypeCheckoutSessionCompleted, session)))

	require.Len(t, l.grants, 1)
	assert.Equal(t, orgID, l.grants[0].OrganizationID)
	assert.EqualValues(t, 150, l.grants[0].Amount)
	assert.Equal(t, "cs_test_123", l.grants[0].ExternalRef)
	assert.Equal(t, "owner-1", l.grants[0].UserID)
	assert.Equal(t, model.TransactionPurchase, l.grants[0].Type)
	assert.Equal(t, model.SubscriptionActive, l.statuses[orgID])
}

func TestCheckoutUnpaidIsDeferred(t *testing.T) {
	l := newFakeLedger()
	svc, err := NewStripeService(l, nil)
	require.NoError(t, err)

	session := &stripe.CheckoutSession{
		ID:            "cs_test_async",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Metadata:      map[string]string{MetadataOrganizationID: uuid.NewString(), MetadataPackageID: "starter"},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), stripeEvent(t, stripe.EventTypeCheckoutSessionCompleted, session)))
	assert.Empty(t, l.grants)
}

func TestInvoicePaidUsesCreditAmount(t *testing.T) {
	l := newFakeLedger()
	svc, err := NewStripeService(l, nil)
	require.NoError(t, err)

	orgID := uuid.New()
	invoice := &stripe.Invoice{
		ID:       "in_123",
		Metadata: map[string]string{MetadataOrganizationID: orgID.String(), MetadataCreditAmount: "75"},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), stripeEvent(t, stripe.EventTypeInvoicePaid, invoice)))

	require.Len(t, l.grants, 1)
	assert.EqualValues(t, 75, l.grants[0].Amount)
	assert.Equal(t, "stripe", l.grants[0].UserID)
}

func TestInvoicePaymentFailedDeactivates(t *testing.T) {
	l := newFakeLedger()
	svc, err := NewStripeService(l, nil)
	require.NoError(t, err)

	orgID := uuid.New()
	invoice := &stripe.Invoice{ID: "in_456", Metadata: map[string]string{MetadataOrganizationID: orgID.String()}}
	require.NoError(t, svc.HandleEvent(context.Background(), stripeEvent(t, stripe.EventTypeInvoicePaymentFailed, invoice)))

	assert.Empty(t, l.grants)
	assert.Equal(t, model.SubscriptionInactive, l.statuses[orgID])
}

func TestHandleEventRejectsBadMetadata(t *testing.T) {
	svc, err := NewStripeService(newFakeLedger(), nil)
	require.NoError(t, err)

	tests := []map[string]string{
		{},
		{MetadataOrganizationID: "nope", MetadataPackageID: "starter"},
		{MetadataOrganizationID: uuid.NewString(), MetadataPackageID: "platinum"},
		{MetadataOrganizationID: uuid.NewString(), MetadataCreditAmount: "-5"},
		{MetadataOrganizationID: uuid.NewString()},
	}
	for _, md := range tests {
		invoice := &stripe.Invoice{ID: "in_bad", Metadata: md}
		err := svc.HandleEvent(context.Background(), stripeEvent(t, stripe.EventTypeInvoicePaid, invoice))
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err), "metadata %v", md)
	}
}

func TestHandleEventIgnoresUnrelatedTypes(t *testing.T) {
	l := newFakeLedger()
	svc, err := NewStripeService(l, nil)
	require.NoError(t, err)

	err = svc.HandleEvent(context.Background(), stripeEvent(t, stripe.EventTypeCustomerCreated, map[string]string{"id": "cus_1"}))
	require.NoError(t, err)
	assert.Empty(t, l.grants)

	assert.Error(t, svc.HandleEvent(context.Background(), nil))
}
