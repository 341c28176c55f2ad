package repository

import (
	"context"
	"errors"
	"time"

	"creditflow/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable marks failures to reach the store at all (connect, begin).
	ErrUnavailable = errors.New("store unavailable")
	// ErrNegativeBalance is returned when a write would take a balance below zero.
	ErrNegativeBalance = errors.New("balance would become negative")
	ErrDuplicate       = errors.New("duplicate record")
)

// Store is the durable home of organizations, assets, the credit ledger,
// submission records and the outbox. All multi-row writes go through
// WithTransaction; the read methods see committed state only.
type Store interface {
	// WithTransaction runs fn in a single transaction. A non-nil return from fn
	// rolls everything back and is returned unchanged. Begin failures are
	// joined with ErrUnavailable.
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error

	GetOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	ListAssets(ctx context.Context, orgID uuid.UUID, filter model.AssetFilter) ([]model.Asset, error)
	ListTransactions(ctx context.Context, orgID uuid.UUID, limit int) ([]model.CreditTransaction, error)
	LedgerSum(ctx context.Context, orgID uuid.UUID) (int64, error)
	FindSubmission(ctx context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, error)

	PendingOutbox(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, reason string) error

	Ping(ctx context.Context) error
	Close()
}

// Tx is the write surface available inside WithTransaction.
type Tx interface {
	CreateOrganization(ctx context.Context, org *model.Organization) error
	// LockOrganization reads the organization and holds it exclusively until
	// the transaction ends.
	LockOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status model.SubscriptionStatus) error

	// AppendTransaction inserts the ledger entry and moves the organization's
	// running balance by its amount, returning the new balance.
	AppendTransaction(ctx context.Context, txn *model.CreditTransaction) (int64, error)
	FindTransactionByExternalRef(ctx context.Context, orgID uuid.UUID, ref string) (*model.CreditTransaction, error)
	LedgerSum(ctx context.Context, orgID uuid.UUID) (int64, error)

	InsertAsset(ctx context.Context, asset *model.Asset) error
	LockAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	UpdateAssetStatus(ctx context.Context, id uuid.UUID, status model.AssetStatus, outputURL *string, completedAt *time.Time) error

	FindSubmission(ctx context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, error)
	InsertSubmission(ctx context.Context, rec model.SubmissionRecord) error

	InsertOutbox(ctx context.Context, event *model.OutboxEvent) error
}
