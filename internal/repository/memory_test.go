package repository

import (
	"context"
	"errors"
	"testing"

	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrganization(t *testing.T, s *MemoryStore, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := s.WithTransaction(context.Background(), func(tx Tx) error {
		if err := tx.CreateOrganization(context.Background(), &model.Organization{ID: id, Name: "Acme", SubscriptionStatus: model.SubscriptionActive}); err != nil {
			return err
		}
		if balance == 0 {
			return nil
		}
		_, err := tx.AppendTransaction(context.Background(), &model.CreditTransaction{
			OrganizationID: id, UserID: "seed", Amount: balance, Type: model.TransactionPurchase,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestMemoryStoreAppendTransactionMovesBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orgID := seedOrganization(t, s, 20)

	err := s.WithTransaction(ctx, func(tx Tx) error {
		balance, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: -15, Type: model.TransactionUsage})
		require.NoError(t, err)
		assert.EqualValues(t, 5, balance)
		return nil
	})
	require.NoError(t, err)

	org, err := s.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	sum, err := s.LedgerSum(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, org.CreditBalance)
	assert.Equal(t, org.CreditBalance, sum)
}

func TestMemoryStoreRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orgID := seedOrganization(t, s, 5)

	err := s.WithTransaction(ctx, func(tx Tx) error {
		_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: -15, Type: model.TransactionUsage})
		return err
	})
	assert.ErrorIs(t, err, ErrNegativeBalance)
}

func TestMemoryStoreRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orgID := seedOrganization(t, s, 20)

	assert.PanicsWithValue(t, "boom", func() {
		_ = s.WithTransaction(ctx, func(tx Tx) error {
			_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: -15, Type: model.TransactionUsage})
			require.NoError(t, err)
			panic("boom")
		})
	})

	org, err := s.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, org.CreditBalance)
	sum, err := s.LedgerSum(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, sum)
}

func TestMemoryStoreRollbackUndoesEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orgID := seedOrganization(t, s, 20)
	boom := errors.New("boom")

	var assetID uuid.UUID
	err := s.WithTransaction(ctx, func(tx Tx) error {
		asset := &model.Asset{OrganizationID: orgID, AssetType: model.AssetVideo, Status: model.AssetPending, CreditsUsed: 15}
		require.NoError(t, tx.InsertAsset(ctx, asset))
		assetID = asset.ID
		_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: -15, Type: model.TransactionUsage, AssetID: &asset.ID})
		require.NoError(t, err)
		require.NoError(t, tx.UpdateAssetStatus(ctx, asset.ID, model.AssetProcessing, nil, nil))
		require.NoError(t, tx.InsertOutbox(ctx, &model.OutboxEvent{Topic: model.TopicProcessAsset, AggregateID: asset.ID}))
		require.NoError(t, tx.InsertSubmission(ctx, model.SubmissionRecord{OrganizationID: orgID, IdempotencyKey: "k1"}))
		require.NoError(t, tx.SetSubscriptionStatus(ctx, orgID, model.SubscriptionInactive))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetAsset(ctx, assetID)
	assert.ErrorIs(t, err, ErrNotFound)
	org, err := s.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, org.CreditBalance)
	assert.Equal(t, model.SubscriptionActive, org.SubscriptionStatus)
	txns, err := s.ListTransactions(ctx, orgID, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	pending, err := s.PendingOutbox(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = s.FindSubmission(ctx, orgID, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orgID := seedOrganization(t, s, 0)

	err := s.WithTransaction(ctx, func(tx Tx) error {
		_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: 50, Type: model.TransactionPurchase, ExternalRef: "cs_1"})
		require.NoError(t, err)
		_, err = tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: 50, Type: model.TransactionPurchase, ExternalRef: "cs_1"})
		return err
	})
	require.ErrorIs(t, err, ErrDuplicate)

	org, err := s.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	assert.Zero(t, org.CreditBalance)
}

func TestMemoryStoreOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var ids []uuid.UUID
	require.NoError(t, s.WithTransaction(ctx, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			ev := &model.OutboxEvent{Topic: model.TopicProcessAsset, AggregateID: uuid.New(), Payload: []byte(`{}`)}
			require.NoError(t, tx.InsertOutbox(ctx, ev))
			ids = append(ids, ev.ID)
		}
		return nil
	}))

	require.NoError(t, s.MarkOutboxPublished(ctx, ids[0], s.now()))
	require.NoError(t, s.MarkOutboxFailed(ctx, ids[1], "bus down"))
	require.NoError(t, s.MarkOutboxFailed(ctx, ids[1], "bus down"))

	pending, err := s.PendingOutbox(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	pending, err = s.PendingOutbox(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	assert.ErrorIs(t, s.MarkOutboxFailed(ctx, uuid.New(), "x"), ErrNotFound)
}

func TestMemoryStoreCancelledContextIsUnavailable(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WithTransaction(ctx, func(tx Tx) error { return nil })
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryStoreListAssetsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orgID := seedOrganization(t, s, 0)
	other := seedOrganization(t, s, 0)

	require.NoError(t, s.WithTransaction(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertAsset(ctx, &model.Asset{OrganizationID: orgID, Status: model.AssetProcessing, AssetType: model.AssetVideo}))
		require.NoError(t, tx.InsertAsset(ctx, &model.Asset{OrganizationID: orgID, Status: model.AssetCompleted, AssetType: model.AssetJobAid}))
		require.NoError(t, tx.InsertAsset(ctx, &model.Asset{OrganizationID: other, Status: model.AssetProcessing, AssetType: model.AssetVideo}))
		return nil
	}))

	all, err := s.ListAssets(ctx, orgID, model.AssetFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	processing, err := s.ListAssets(ctx, orgID, model.AssetFilter{Status: model.AssetProcessing})
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, model.AssetVideo, processing[0].AssetType)
}
