package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicProcessAsset = "assets.process"
	TopicAssetStatus  = "assets.status"
	TopicSubmit       = "commands.submit"
)

// OutboxEvent is a message written in the same transaction as the state it
// describes and published to the bus afterwards.
type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	PublishedAt *time.Time      `json:"publishedAt,omitempty"`
}

// ProcessAssetJob is the hand-off signal consumed by the processing worker.
type ProcessAssetJob struct {
	AssetID              uuid.UUID `json:"assetId"`
	OrganizationID       uuid.UUID `json:"organizationId"`
	UserID               string    `json:"userId"`
	AssetType            AssetType `json:"assetType"`
	OriginalDocumentURL  string    `json:"originalDocumentUrl"`
	OriginalDocumentName string    `json:"originalDocumentName"`
	Audience             *string   `json:"audience,omitempty"`
	Tone                 *string   `json:"tone,omitempty"`
	ComplianceText       *string   `json:"complianceText,omitempty"`
}

func NewProcessAssetJob(a Asset) ProcessAssetJob {
	return ProcessAssetJob{
		AssetID:              a.ID,
		OrganizationID:       a.OrganizationID,
		UserID:               a.UserID,
		AssetType:            a.AssetType,
		OriginalDocumentURL:  a.OriginalDocumentURL,
		OriginalDocumentName: a.OriginalDocumentName,
		Audience:             a.Audience,
		Tone:                 a.Tone,
		ComplianceText:       a.ComplianceText,
	}
}

// AssetStatusEvent is reported by the processing worker.
type AssetStatusEvent = StatusUpdate
