package service

import (
	"context"
	"errors"

	"creditflow/internal/apperr"
	"creditflow/internal/model"
	"creditflow/internal/repository"

	"github.com/google/uuid"
)

func (s *Service) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, readError(err, "asset")
	}
	return asset, nil
}

func (s *Service) ListAssets(ctx context.Context, orgID uuid.UUID, filter model.AssetFilter) ([]model.Asset, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, validationError("status", "must be one of [pending processing completed failed]")
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, readError(err, "organization")
	}
	filter.Limit = clampLimit(filter.Limit)
	assets, err := s.store.ListAssets(ctx, orgID, filter)
	if err != nil {
		return nil, readError(err, "assets")
	}
	return assets, nil
}

// ApplyStatus records a status reported by the processing worker. Repeating
// the current status is a no-op; moving backward or between the two final
// states is a STATE_CONFLICT. A failed asset is refunded once when enabled.
func (s *Service) ApplyStatus(ctx context.Context, update model.StatusUpdate) (*model.Asset, error) {
	if err := validateStruct(update); err != nil {
		return nil, err
	}
	ctx = s.log.WithField(ctx, "asset_id", update.AssetID.String())

	var (
		asset    *model.Asset
		changed  bool
		refunded bool
	)
	err := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		current, err := tx.LockAsset(ctx, update.AssetID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.New(apperr.CodeNotFound, "asset not found")
			}
			return apperr.Wrap(apperr.CodeStoreUnavailable, err, "lock asset")
		}
		asset = current

		if current.Status == update.Status {
			return nil
		}
		if !current.Status.CanTransitionTo(update.Status) {
			return apperr.New(apperr.CodeStateConflict, "asset status cannot move backward").
				WithDetails(map[string]string{"from": string(current.Status), "to": string(update.Status)})
		}

		completedAt := asset.CompletedAt
		if update.Status.IsTerminal() {
			now := s.now()
			completedAt = &now
		}
		if err := tx.UpdateAssetStatus(ctx, current.ID, update.Status, update.OutputURL, completedAt); err != nil {
			return apperr.Wrap(apperr.CodePartialWrite, err, "update asset status")
		}
		asset.Status = update.Status
		asset.CompletedAt = completedAt
		if update.OutputURL != nil {
			asset.OutputURL = update.OutputURL
		}
		changed = true

		if update.Status != model.AssetFailed || !s.refundFailedAssets || current.CreditsUsed <= 0 {
			return nil
		}
		assetID := current.ID
		_, err = tx.AppendTransaction(ctx, &model.CreditTransaction{
			OrganizationID: current.OrganizationID,
			UserID:         current.UserID,
			Amount:         current.CreditsUsed,
			Type:           model.TransactionRefund,
			AssetID:        &assetID,
		})
		if err != nil {
			return apperr.Wrap(apperr.CodePartialWrite, err, "refund failed asset")
		}
		refunded = true
		return nil
	})
	if err != nil {
		return nil, classifyTxError(err, "apply asset status")
	}

	if !changed {
		s.log.Debug(ctx, "asset status unchanged")
		return asset, nil
	}
	s.metrics.IncAssetStatus(string(asset.Status))
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"status":   string(asset.Status),
		"refunded": refunded,
	}), "asset status applied")
	return asset, nil
}
