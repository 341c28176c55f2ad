package service

import (
	"context"
	"errors"
	"time"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
	"creditflow/internal/metrics"
	"creditflow/internal/model"
	"creditflow/internal/repository"

	"github.com/google/uuid"
)

// SubmissionService accepts document submissions and debits credits for them.
// Transports (HTTP, gRPC, NATS) depend on these interfaces, not on Service.
type SubmissionService interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmissionResult, error)
}

// LedgerService exposes the organization credit ledger.
type LedgerService interface {
	CreateOrganization(ctx context.Context, req model.CreateOrganizationRequest) (*model.Organization, error)
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*model.Organization, error)
	GetBalance(ctx context.Context, orgID uuid.UUID) (int64, error)
	Grant(ctx context.Context, req model.GrantRequest) (*model.CreditTransaction, error)
	Expire(ctx context.Context, orgID uuid.UUID, userID string, amount int64) (*model.CreditTransaction, error)
	ListTransactions(ctx context.Context, orgID uuid.UUID, limit int) ([]model.CreditTransaction, error)
	Reconcile(ctx context.Context, orgID uuid.UUID) (*model.Reconciliation, error)
	SetSubscriptionStatus(ctx context.Context, orgID uuid.UUID, status model.SubscriptionStatus) error
}

// AssetService reads assets and applies status reports from the processing worker.
type AssetService interface {
	GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
	ListAssets(ctx context.Context, orgID uuid.UUID, filter model.AssetFilter) ([]model.Asset, error)
	ApplyStatus(ctx context.Context, update model.StatusUpdate) (*model.Asset, error)
}

// Cache is the optional replay layer for idempotent submissions.
type Cache interface {
	GetSubmission(ctx context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, bool, error)
	PutSubmission(ctx context.Context, rec model.SubmissionRecord) error
}

type Options struct {
	Store   repository.Store
	Cache   Cache
	Logger  *logger.Logger
	Metrics *metrics.Collector
	Clock   func() time.Time

	// RefundFailedAssets credits back credits_used when an asset fails.
	RefundFailedAssets bool
}

type Service struct {
	store              repository.Store
	cache              Cache
	log                *logger.Logger
	metrics            *metrics.Collector
	now                func() time.Time
	refundFailedAssets bool
}

var (
	_ SubmissionService = (*Service)(nil)
	_ LedgerService     = (*Service)(nil)
	_ AssetService      = (*Service)(nil)
)

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:              opts.Store,
		cache:              opts.Cache,
		log:                log,
		metrics:            opts.Metrics,
		now:                clock,
		refundFailedAssets: opts.RefundFailedAssets,
	}, nil
}

// classifyTxError maps a WithTransaction failure that fn did not already type.
func classifyTxError(err error, action string) error {
	if err == nil {
		return nil
	}
	if typed := apperr.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, repository.ErrUnavailable) {
		return apperr.Wrap(apperr.CodeStoreUnavailable, err, action)
	}
	return apperr.Wrap(apperr.CodePartialWrite, err, action)
}

// readError maps failures of a plain read.
func readError(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, what+" not found")
	}
	return apperr.Wrap(apperr.CodeStoreUnavailable, err, "read "+what)
}
