package model

import (
	"encoding/json"

	"creditflow/internal/apperr"

	"github.com/google/uuid"
)

// SubmitRequest asks for one or more assets to be generated from a single document.
type SubmitRequest struct {
	UserID         string      `json:"userId" validate:"required"`
	OrganizationID string      `json:"organizationId" validate:"required,uuid"`
	DocumentURL    string      `json:"documentUrl" validate:"required,max=2048"`
	DocumentName   string      `json:"documentName" validate:"required,max=255"`
	AssetTypes     []AssetType `json:"assetTypes" validate:"required,min=1,dive,oneof=e-learning video process-map job-aid"`
	Audience       *string     `json:"audience,omitempty"`
	Tone           *string     `json:"tone,omitempty"`
	ComplianceText *string     `json:"complianceText,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty" validate:"max=255"`
}

// UniqueAssetTypes returns the requested types with duplicates collapsed,
// keeping first-seen order.
func (r SubmitRequest) UniqueAssetTypes() []AssetType {
	seen := make(map[AssetType]struct{}, len(r.AssetTypes))
	out := make([]AssetType, 0, len(r.AssetTypes))
	for _, t := range r.AssetTypes {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TotalCost sums the price of each distinct requested type.
func (r SubmitRequest) TotalCost() int64 {
	var total int64
	for _, t := range r.UniqueAssetTypes() {
		total += t.Price()
	}
	return total
}

type SubmissionResult struct {
	SubmissionID     uuid.UUID `json:"submissionId"`
	Assets           []Asset   `json:"assets"`
	CreditsUsed      int64     `json:"creditsUsed"`
	RemainingCredits int64     `json:"remainingCredits"`
	Replayed         bool      `json:"replayed,omitempty"`
}

// SubmissionRecord is what the idempotency store keeps per key.
type SubmissionRecord struct {
	OrganizationID uuid.UUID       `json:"organizationId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	RequestHash    string          `json:"requestHash"`
	Result         json.RawMessage `json:"result"`
}

// SubmissionResponse is the wire envelope shared by every transport.
type SubmissionResponse struct {
	Success          bool        `json:"success"`
	Message          string      `json:"message,omitempty"`
	Code             apperr.Code `json:"code,omitempty"`
	SubmissionID     *uuid.UUID  `json:"submissionId,omitempty"`
	Assets           []Asset     `json:"assets,omitempty"`
	CreditsUsed      *int64      `json:"creditsUsed,omitempty"`
	RemainingCredits *int64      `json:"remainingCredits,omitempty"`
	Replayed         bool        `json:"replayed,omitempty"`
	Required         *int64      `json:"required,omitempty"`
	Available        *int64      `json:"available,omitempty"`
}

// NewSubmissionResponse renders a Submit outcome. err takes precedence over res.
func NewSubmissionResponse(res *SubmissionResult, err error) SubmissionResponse {
	if err != nil {
		code := apperr.CodeOf(err)
		resp := SubmissionResponse{Code: code, Message: apperr.MetadataFor(code).PublicMessage}
		if typed := apperr.As(err); typed != nil && typed.Message() != "" {
			resp.Message = typed.Message()
		}
		if shortfall, ok := apperr.Shortfall(err); ok {
			resp.Required = &shortfall.Required
			resp.Available = &shortfall.Available
		}
		return resp
	}
	if res == nil {
		return SubmissionResponse{Code: apperr.CodeInternal, Message: apperr.MetadataFor(apperr.CodeInternal).PublicMessage}
	}

	id := res.SubmissionID
	used := res.CreditsUsed
	remaining := res.RemainingCredits
	return SubmissionResponse{
		Success:          true,
		SubmissionID:     &id,
		Assets:           res.Assets,
		CreditsUsed:      &used,
		RemainingCredits: &remaining,
		Replayed:         res.Replayed,
	}
}
