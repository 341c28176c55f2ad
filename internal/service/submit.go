package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"creditflow/internal/apperr"
	"creditflow/internal/model"
	"creditflow/internal/repository"

	"github.com/google/uuid"
)

// Submit validates the request, then in one store transaction locks the
// organization, checks its balance, and writes every asset, its usage
// transaction and its processing job. Nothing is written unless all of it is.
func (s *Service) Submit(ctx context.Context, req model.SubmitRequest) (result *model.SubmissionResult, err error) {
	start := s.now()
	defer func() {
		outcome := "success"
		var credits int64
		switch {
		case err != nil:
			outcome = string(apperr.CodeOf(err))
		case result.Replayed:
			outcome = "replayed"
		default:
			credits = result.CreditsUsed
		}
		s.metrics.ObserveSubmission(outcome, credits, s.now().Sub(start))
	}()

	req = normalizeSubmitRequest(req)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		return nil, validationError("organizationId", "must be a valid UUID")
	}

	ctx = s.log.WithFields(ctx, map[string]any{"organization_id": orgID.String(), "user_id": req.UserID})

	types := req.UniqueAssetTypes()
	totalCost := req.TotalCost()

	var hash string
	if req.IdempotencyKey != "" {
		hash = requestHash(req)
		if replay, ok, err := s.replayFromCache(ctx, orgID, req.IdempotencyKey, hash); ok || err != nil {
			return replay, err
		}
	}

	var record *model.SubmissionRecord
	txErr := s.store.WithTransaction(ctx, func(tx repository.Tx) error {
		org, err := tx.LockOrganization(ctx, orgID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.New(apperr.CodeNotFound, "organization not found")
			}
			return apperr.Wrap(apperr.CodeStoreUnavailable, err, "lock organization")
		}

		if req.IdempotencyKey != "" {
			rec, err := tx.FindSubmission(ctx, orgID, req.IdempotencyKey)
			switch {
			case err == nil:
				result, err = decodeReplay(rec, hash)
				return err
			case !errors.Is(err, repository.ErrNotFound):
				return apperr.Wrap(apperr.CodeStoreUnavailable, err, "read submission")
			}
		}

		if org.CreditBalance < totalCost {
			return apperr.InsufficientCredits(totalCost, org.CreditBalance)
		}

		assets := make([]model.Asset, 0, len(types))
		for _, assetType := range types {
			asset, err := s.createAsset(ctx, tx, orgID, req, assetType)
			if err != nil {
				return err
			}
			assets = append(assets, *asset)
		}

		result = &model.SubmissionResult{
			SubmissionID:     uuid.New(),
			Assets:           assets,
			CreditsUsed:      totalCost,
			RemainingCredits: org.CreditBalance - totalCost,
		}

		if req.IdempotencyKey != "" {
			data, err := json.Marshal(result)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, err, "encode submission result")
			}
			record = &model.SubmissionRecord{OrganizationID: orgID, IdempotencyKey: req.IdempotencyKey, RequestHash: hash, Result: data}
			if err := tx.InsertSubmission(ctx, *record); err != nil {
				return apperr.Wrap(apperr.CodePartialWrite, err, "record submission")
			}
		}
		return nil
	})
	if txErr != nil {
		err := classifyTxError(txErr, "commit submission")
		if apperr.CodeOf(err) == apperr.CodePartialWrite || apperr.CodeOf(err) == apperr.CodeStoreUnavailable {
			s.log.Error(s.log.WithFields(ctx, apperr.Dump(err).Fields()), "submission rolled back", err)
		}
		return nil, err
	}

	if result.Replayed {
		s.log.Info(ctx, "submission replayed")
		return result, nil
	}

	if record != nil && s.cache != nil {
		if err := s.cache.PutSubmission(ctx, *record); err != nil {
			s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "submission replay cache write failed")
		}
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"submission_id":     result.SubmissionID.String(),
		"credits_used":      result.CreditsUsed,
		"remaining_credits": result.RemainingCredits,
		"assets":            len(result.Assets),
	}), "submission committed")
	return result, nil
}

// createAsset writes one asset with its usage transaction and processing job.
func (s *Service) createAsset(ctx context.Context, tx repository.Tx, orgID uuid.UUID, req model.SubmitRequest, assetType model.AssetType) (*model.Asset, error) {
	price := assetType.Price()
	asset := &model.Asset{
		ID:                   uuid.New(),
		OrganizationID:       orgID,
		UserID:               req.UserID,
		OriginalDocumentURL:  req.DocumentURL,
		OriginalDocumentName: req.DocumentName,
		AssetType:            assetType,
		Status:               model.AssetPending,
		CreditsUsed:          price,
		Audience:             req.Audience,
		Tone:                 req.Tone,
		ComplianceText:       req.ComplianceText,
	}
	if err := tx.InsertAsset(ctx, asset); err != nil {
		return nil, apperr.Wrap(apperr.CodePartialWrite, err, "insert asset")
	}

	assetID := asset.ID
	_, err := tx.AppendTransaction(ctx, &model.CreditTransaction{
		OrganizationID: orgID,
		UserID:         req.UserID,
		Amount:         -price,
		Type:           model.TransactionUsage,
		AssetID:        &assetID,
	})
	if errors.Is(err, repository.ErrNegativeBalance) {
		return nil, apperr.Wrap(apperr.CodeInsufficientCredits, err, "insufficient credits")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePartialWrite, err, "insert usage transaction")
	}

	if err := tx.UpdateAssetStatus(ctx, asset.ID, model.AssetProcessing, nil, nil); err != nil {
		return nil, apperr.Wrap(apperr.CodePartialWrite, err, "mark asset processing")
	}
	asset.Status = model.AssetProcessing

	payload, err := json.Marshal(model.NewProcessAssetJob(*asset))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "encode processing job")
	}
	if err := tx.InsertOutbox(ctx, &model.OutboxEvent{
		Topic:       model.TopicProcessAsset,
		AggregateID: asset.ID,
		Payload:     payload,
	}); err != nil {
		return nil, apperr.Wrap(apperr.CodePartialWrite, err, "enqueue processing job")
	}
	return asset, nil
}

func (s *Service) replayFromCache(ctx context.Context, orgID uuid.UUID, key, hash string) (*model.SubmissionResult, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	rec, ok, err := s.cache.GetSubmission(ctx, orgID, key)
	if err != nil {
		s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "submission replay cache read failed")
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	res, err := decodeReplay(rec, hash)
	return res, true, err
}

func decodeReplay(rec *model.SubmissionRecord, hash string) (*model.SubmissionResult, error) {
	if rec.RequestHash != hash {
		return nil, apperr.New(apperr.CodeIdempotency, "idempotency key was already used with a different request").
			WithDetails(map[string]string{"idempotencyKey": rec.IdempotencyKey})
	}
	var res model.SubmissionResult
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "decode stored submission")
	}
	res.Replayed = true
	return &res, nil
}

func normalizeSubmitRequest(req model.SubmitRequest) model.SubmitRequest {
	req.UserID = strings.TrimSpace(req.UserID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.DocumentURL = strings.TrimSpace(req.DocumentURL)
	req.DocumentName = strings.TrimSpace(req.DocumentName)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Audience = trimOptional(req.Audience)
	req.Tone = trimOptional(req.Tone)
	req.ComplianceText = trimOptional(req.ComplianceText)
	types := make([]model.AssetType, len(req.AssetTypes))
	for i, t := range req.AssetTypes {
		types[i] = model.AssetType(strings.ToLower(strings.TrimSpace(string(t))))
	}
	req.AssetTypes = types
	return req
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// requestHash fingerprints everything but the idempotency key. Asset types are
// hashed as a sorted set so order and duplicates do not matter.
func requestHash(req model.SubmitRequest) string {
	types := make([]string, 0, len(req.AssetTypes))
	for _, t := range req.UniqueAssetTypes() {
		types = append(types, string(t))
	}
	sort.Strings(types)

	canonical := struct {
		UserID         string   `json:"userId"`
		OrganizationID string   `json:"organizationId"`
		DocumentURL    string   `json:"documentUrl"`
		DocumentName   string   `json:"documentName"`
		AssetTypes     []string `json:"assetTypes"`
		Audience       *string  `json:"audience"`
		Tone           *string  `json:"tone"`
		ComplianceText *string  `json:"complianceText"`
	}{
		req.UserID, req.OrganizationID, req.DocumentURL, req.DocumentName,
		types, req.Audience, req.Tone, req.ComplianceText,
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
