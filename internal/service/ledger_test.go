package service

import (
	"context"
	"errors"
	"testing"

	"creditflow/internal/apperr"
	"creditflow/internal/model"
	"creditflow/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrganizationBooksInitialCredits(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestService(t, store, nil)

	org, err := svc.CreateOrganization(ctx, model.CreateOrganizationRequest{Name: "  Globex  ", InitialCredits: 50})
	require.NoError(t, err)
	assert.Equal(t, "Globex", org.Name)
	assert.Equal(t, model.SubscriptionTrial, org.SubscriptionStatus)
	assert.EqualValues(t, 50, org.CreditBalance)

	txns, err := svc.ListTransactions(ctx, org.ID, 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionPurchase, txns[0].Type)

	_, err = svc.CreateOrganization(ctx, model.CreateOrganizationRequest{Name: ""})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	_, err = svc.CreateOrganization(ctx, model.CreateOrganizationRequest{Name: "x", InitialCredits: -1})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestGrantIsIdempotentPerExternalRef(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), nil)
	orgID := createOrg(t, svc, 0)

	req := model.GrantRequest{OrganizationID: orgID, Amount: 150, Type: model.TransactionPurchase, ExternalRef: "cs_test_1"}
	first, err := svc.Grant(ctx, req)
	require.NoError(t, err)
	second, err := svc.Grant(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := svc.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 150, balance)
}

func TestGrantValidation(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryStore(), nil)
	orgID := createOrg(t, svc, 0)

	_, err := svc.Grant(context.Background(), model.GrantRequest{OrganizationID: orgID, Amount: 0, Type: model.TransactionPurchase})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.Grant(context.Background(), model.GrantRequest{OrganizationID: orgID, Amount: 10, Type: model.TransactionUsage})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.Grant(context.Background(), model.GrantRequest{OrganizationID: uuid.New(), Amount: 10, Type: model.TransactionRefund})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestExpireClampsToBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), nil)
	orgID := createOrg(t, svc, 12)

	txn, err := svc.Expire(ctx, orgID, "system", 100)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.EqualValues(t, -12, txn.Amount)
	assert.Equal(t, model.TransactionExpiry, txn.Type)

	txn, err = svc.Expire(ctx, orgID, "system", 5)
	require.NoError(t, err)
	assert.Nil(t, txn)

	_, err = svc.Expire(ctx, orgID, "system", 0)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	rec, err := svc.Reconcile(ctx, orgID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Zero(t, rec.StoredBalance)
}

func TestGetBalanceMatchesLedgerWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	store := repository.NewMemoryStore()
	svc := newTestService(t, store, cache)
	orgID := createOrg(t, svc, 20)

	cache.getErr = errors.New("redis down")
	cache.putErr = errors.New("redis down")
	req := submitRequest(orgID, model.AssetELearning, model.AssetJobAid)
	req.IdempotencyKey = "cache-outage"
	res, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.RemainingCredits)

	balance, err := svc.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)

	txns, err := store.ListTransactions(ctx, orgID, 0)
	require.NoError(t, err)
	var sum int64
	for _, txn := range txns {
		sum += txn.Amount
	}
	assert.Equal(t, sum, balance)

	replay, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	balance, err = svc.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)
}

func TestSetSubscriptionStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), nil)
	orgID := createOrg(t, svc, 0)

	require.NoError(t, svc.SetSubscriptionStatus(ctx, orgID, model.SubscriptionInactive))
	org, err := svc.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionInactive, org.SubscriptionStatus)

	err = svc.SetSubscriptionStatus(ctx, orgID, model.SubscriptionStatus("paused"))
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	err = svc.SetSubscriptionStatus(ctx, uuid.New(), model.SubscriptionActive)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestLedgerStaysConsistentAcrossOperations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), nil)
	orgID := createOrg(t, svc, 20)

	res, err := svc.Submit(ctx, submitRequest(orgID, model.AssetELearning, model.AssetJobAid))
	require.NoError(t, err)
	_, err = svc.Grant(ctx, model.GrantRequest{OrganizationID: orgID, Amount: 50, Type: model.TransactionPurchase, ExternalRef: "in_1"})
	require.NoError(t, err)
	_, err = svc.ApplyStatus(ctx, model.StatusUpdate{AssetID: res.Assets[0].ID, Status: model.AssetFailed})
	require.NoError(t, err)
	_, err = svc.Expire(ctx, orgID, "system", 3)
	require.NoError(t, err)

	rec, err := svc.Reconcile(ctx, orgID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	// 20 - 15 + 50 + 10 (refund) - 3
	assert.EqualValues(t, 62, rec.LedgerSum)
}
