package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("CREDITFLOW_TEST_DSN")
	if dsn == "" {
		t.Skip("CREDITFLOW_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, RunMigrations(ctx, dsn, "up"))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool)
}

func createTestOrganization(t *testing.T, s *PostgresStore, balance int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, s.WithTransaction(ctx, func(tx Tx) error {
		if err := tx.CreateOrganization(ctx, &model.Organization{ID: id, Name: "pg-test", SubscriptionStatus: model.SubscriptionTrial}); err != nil {
			return err
		}
		_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: id, UserID: "seed", Amount: balance, Type: model.TransactionPurchase})
		return err
	}))
	return id
}

func TestPostgresStoreCheckConstraintBlocksOverdraft(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	orgID := createTestOrganization(t, s, 5)

	err := s.WithTransaction(ctx, func(tx Tx) error {
		_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: -15, Type: model.TransactionUsage})
		return err
	})
	require.ErrorIs(t, err, ErrNegativeBalance)

	sum, err := s.LedgerSum(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, sum)
}

func TestPostgresStoreRowLockSerializesDebits(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	orgID := createTestOrganization(t, s, 10)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.WithTransaction(ctx, func(tx Tx) error {
				org, err := tx.LockOrganization(ctx, orgID)
				if err != nil {
					return err
				}
				if org.CreditBalance < 8 {
					return ErrNegativeBalance
				}
				_, err = tx.AppendTransaction(ctx, &model.CreditTransaction{OrganizationID: orgID, Amount: -8, Type: model.TransactionUsage})
				return err
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	org, err := s.GetOrganization(ctx, orgID)
	require.NoError(t, err)
	sum, err := s.LedgerSum(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, org.CreditBalance)
	assert.Equal(t, org.CreditBalance, sum)
}

func TestPostgresStoreAssetAndOutbox(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	orgID := createTestOrganization(t, s, 20)

	asset := &model.Asset{
		OrganizationID: orgID, UserID: "u1", OriginalDocumentURL: "https://docs/x.pdf", OriginalDocumentName: "x.pdf",
		AssetType: model.AssetJobAid, Status: model.AssetPending, CreditsUsed: 5,
	}
	require.NoError(t, s.WithTransaction(ctx, func(tx Tx) error {
		if err := tx.InsertAsset(ctx, asset); err != nil {
			return err
		}
		if err := tx.UpdateAssetStatus(ctx, asset.ID, model.AssetProcessing, nil, nil); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, &model.OutboxEvent{Topic: model.TopicProcessAsset, AggregateID: asset.ID, Payload: []byte(`{"assetId":"x"}`)})
	}))

	got, err := s.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetProcessing, got.Status)

	pending, err := s.PendingOutbox(ctx, 100, 0)
	require.NoError(t, err)
	var found *model.OutboxEvent
	for i := range pending {
		if pending[i].AggregateID == asset.ID {
			found = &pending[i]
		}
	}
	require.NotNil(t, found)
	require.NoError(t, s.MarkOutboxPublished(ctx, found.ID, time.Now()))
}
