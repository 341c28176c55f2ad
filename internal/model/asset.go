package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AssetType string

const (
	AssetELearning  AssetType = "e-learning"
	AssetVideo      AssetType = "video"
	AssetProcessMap AssetType = "process-map"
	AssetJobAid     AssetType = "job-aid"
)

var assetPrices = map[AssetType]int64{
	AssetELearning:  10,
	AssetVideo:      15,
	AssetProcessMap: 8,
	AssetJobAid:     5,
}

// AssetTypes lists every valid asset type in display order.
func AssetTypes() []AssetType {
	return []AssetType{AssetELearning, AssetVideo, AssetProcessMap, AssetJobAid}
}

func (t AssetType) IsValid() bool {
	_, ok := assetPrices[t]
	return ok
}

// Price returns the credit cost of one asset of this type, or 0 if the type is unknown.
func (t AssetType) Price() int64 {
	return assetPrices[t]
}

func ParseAssetType(value string) (AssetType, error) {
	t := AssetType(strings.ToLower(strings.TrimSpace(value)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown asset type %q", value)
	}
	return t, nil
}

type AssetStatus string

const (
	AssetPending    AssetStatus = "pending"
	AssetProcessing AssetStatus = "processing"
	AssetCompleted  AssetStatus = "completed"
	AssetFailed     AssetStatus = "failed"
)

var statusRank = map[AssetStatus]int{
	AssetPending:    0,
	AssetProcessing: 1,
	AssetCompleted:  2,
	AssetFailed:     2,
}

func (s AssetStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s AssetStatus) IsTerminal() bool {
	return s == AssetCompleted || s == AssetFailed
}

// CanTransitionTo reports whether moving from s to next goes strictly forward.
// completed and failed are both final; neither may become the other.
func (s AssetStatus) CanTransitionTo(next AssetStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type Asset struct {
	ID                   uuid.UUID   `json:"id"`
	OrganizationID       uuid.UUID   `json:"organizationId"`
	UserID               string      `json:"userId"`
	OriginalDocumentURL  string      `json:"originalDocumentUrl"`
	OriginalDocumentName string      `json:"originalDocumentName"`
	AssetType            AssetType   `json:"assetType"`
	Status               AssetStatus `json:"status"`
	CreditsUsed          int64       `json:"creditsUsed"`
	Audience             *string     `json:"audience,omitempty"`
	Tone                 *string     `json:"tone,omitempty"`
	ComplianceText       *string     `json:"complianceText,omitempty"`
	OutputURL            *string     `json:"outputUrl,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	CompletedAt          *time.Time  `json:"completedAt,omitempty"`
}

// AssetFilter narrows ListAssets. A zero Status matches every status.
type AssetFilter struct {
	Status AssetStatus
	Limit  int
}

type StatusUpdate struct {
	AssetID   uuid.UUID   `json:"assetId" validate:"required"`
	Status    AssetStatus `json:"status" validate:"required,oneof=pending processing completed failed"`
	OutputURL *string     `json:"outputUrl,omitempty" validate:"omitempty,url"`
}
