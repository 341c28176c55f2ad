package service

import (
	"context"
	"errors"
	"strings"

	"creditflow/internal/apperr"
	"creditflow/internal/model"
	"creditflow/internal/repository"

	"github.com/google/uuid"
)

// CreateOrganization registers an organization. Initial credits are booked as
// a purchase so the balance always equals the ledger sum.
func (s *Service) CreateOrganization(ctx context.Context, req model.CreateOrganizationRequest) (*model.Organization, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.SubscriptionStatus == "" {
		req.SubscriptionStatus = model.SubscriptionTrial
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	org := &model.Organization{
		ID:                 uuid.New(),
		Name:               req.Name,
		SubscriptionStatus: req.SubscriptionStatus,
	}
	err := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if req.InitialCredits == 0 {
			return nil
		}
		balance, err := tx.AppendTransaction(ctx, &model.CreditTransaction{
			OrganizationID: org.ID,
			UserID:         req.UserID,
			Amount:         req.InitialCredits,
			Type:           model.TransactionPurchase,
		})
		if err != nil {
			return err
		}
		org.CreditBalance = balance
		return nil
	})
	if err != nil {
		return nil, classifyTxError(err, "create organization")
	}

	s.cacheBalance(ctx, org.ID, org.CreditBalance)
	s.log.Info(s.log.WithOrganizationID(ctx, org.ID.String()), "organization created")
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, orgID uuid.UUID) (*model.Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, readError(err, "organization")
	}
	return org, nil
}

// GetBalance reads the running balance committed with the ledger.
func (s *Service) GetBalance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, readError(err, "organization")
	}
	return org.CreditBalance, nil
}

// Grant adds purchased or refunded credits. A grant whose ExternalRef was
// already booked for the organization returns the existing transaction.
func (s *Service) Grant(ctx context.Context, req model.GrantRequest) (*model.CreditTransaction, error) {
	req.ExternalRef = strings.TrimSpace(req.ExternalRef)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var (
		txn     *model.CreditTransaction
		balance int64
		created bool
	)
	err := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		org, err := tx.LockOrganization(ctx, req.OrganizationID)
		if err != nil {
			return lockError(err)
		}
		balance = org.CreditBalance

		if req.ExternalRef != "" {
			existing, err := tx.FindTransactionByExternalRef(ctx, req.OrganizationID, req.ExternalRef)
			if err == nil {
				txn = existing
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return apperr.Wrap(apperr.CodeStoreUnavailable, err, "read transaction")
			}
		}

		txn = &model.CreditTransaction{
			OrganizationID: req.OrganizationID,
			UserID:         req.UserID,
			Amount:         req.Amount,
			Type:           req.Type,
			ExternalRef:    req.ExternalRef,
		}
		balance, err = tx.AppendTransaction(ctx, txn)
		if err != nil {
			return apperr.Wrap(apperr.CodePartialWrite, err, "append grant")
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, classifyTxError(err, "grant credits")
	}

	if created {
		s.log.Info(s.log.WithFields(ctx, map[string]any{
			"organization_id":  req.OrganizationID.String(),
			"amount":           req.Amount,
			"transaction_type": string(req.Type),
			"external_ref":     req.ExternalRef,
			"balance":          balance,
		}), "credits granted")
	}
	return txn, nil
}

// Expire removes up to amount credits, clamped to the current balance.
// It returns nil when there was nothing to expire.
func (s *Service) Expire(ctx context.Context, orgID uuid.UUID, userID string, amount int64) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, validationError("amount", "must be greater than 0")
	}

	var (
		txn     *model.CreditTransaction
		balance int64
	)
	err := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		org, err := tx.LockOrganization(ctx, orgID)
		if err != nil {
			return lockError(err)
		}
		expired := min(amount, org.CreditBalance)
		if expired <= 0 {
			return nil
		}
		txn = &model.CreditTransaction{
			OrganizationID: orgID,
			UserID:         userID,
			Amount:         -expired,
			Type:           model.TransactionExpiry,
		}
		balance, err = tx.AppendTransaction(ctx, txn)
		if err != nil {
			return apperr.Wrap(apperr.CodePartialWrite, err, "append expiry")
		}
		return nil
	})
	if err != nil {
		return nil, classifyTxError(err, "expire credits")
	}
	if txn != nil {
		s.log.Info(s.log.WithFields(ctx, map[string]any{
			"organization_id": orgID.String(),
			"expired":         -txn.Amount,
			"balance":         balance,
		}), "credits expired")
	}
	return txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, orgID uuid.UUID, limit int) ([]model.CreditTransaction, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, readError(err, "organization")
	}
	txns, err := s.store.ListTransactions(ctx, orgID, clampLimit(limit))
	if err != nil {
		return nil, readError(err, "transactions")
	}
	return txns, nil
}

// Reconcile compares the running balance with the ledger sum under the
// organization lock so concurrent writes cannot skew the comparison.
func (s *Service) Reconcile(ctx context.Context, orgID uuid.UUID) (*model.Reconciliation, error) {
	rec := &model.Reconciliation{OrganizationID: orgID}
	err := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		org, err := tx.LockOrganization(ctx, orgID)
		if err != nil {
			return lockError(err)
		}
		sum, err := tx.LedgerSum(ctx, orgID)
		if err != nil {
			return apperr.Wrap(apperr.CodeStoreUnavailable, err, "sum ledger")
		}
		rec.StoredBalance = org.CreditBalance
		rec.LedgerSum = sum
		rec.Consistent = org.CreditBalance == sum
		return nil
	})
	if err != nil {
		return nil, classifyTxError(err, "reconcile")
	}
	if !rec.Consistent {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"organization_id": orgID.String(),
			"stored_balance":  rec.StoredBalance,
			"ledger_sum":      rec.LedgerSum,
		}), "ledger out of balance")
	}
	return rec, nil
}

func (s *Service) SetSubscriptionStatus(ctx context.Context, orgID uuid.UUID, status model.SubscriptionStatus) error {
	if !status.IsValid() {
		return validationError("subscriptionStatus", "must be one of [active inactive trial]")
	}
	err := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockOrganization(ctx, orgID); err != nil {
			return lockError(err)
		}
		if err := tx.SetSubscriptionStatus(ctx, orgID, status); err != nil {
			return apperr.Wrap(apperr.CodePartialWrite, err, "update subscription status")
		}
		return nil
	})
	if err != nil {
		return classifyTxError(err, "set subscription status")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"organization_id":     orgID.String(),
		"subscription_status": string(status),
	}), "subscription status updated")
	return nil
}

func lockError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, "organization not found")
	}
	return apperr.Wrap(apperr.CodeStoreUnavailable, err, "lock organization")
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
