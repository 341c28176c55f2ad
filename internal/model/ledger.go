package model

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionTrial    SubscriptionStatus = "trial"
)

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionInactive, SubscriptionTrial:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
	TransactionExpiry   TransactionType = "expiry"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionPurchase, TransactionUsage, TransactionRefund, TransactionExpiry:
		return true
	}
	return false
}

// Organization owns a credit balance. CreditBalance is a running total kept
// equal to the sum of the organization's transaction amounts.
type Organization struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	CreditBalance      int64              `json:"creditBalance"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// CreditTransaction is an append-only ledger entry. Positive amounts add
// credits (purchase, refund), negative amounts consume them (usage, expiry).
type CreditTransaction struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	UserID         string          `json:"userId"`
	Amount         int64           `json:"amount"`
	Type           TransactionType `json:"transactionType"`
	AssetID        *uuid.UUID      `json:"assetId,omitempty"`
	ExternalRef    string          `json:"externalRef,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type CreateOrganizationRequest struct {
	Name               string             `json:"name" validate:"required,max=200"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus" validate:"omitempty,oneof=active inactive trial"`
	InitialCredits     int64              `json:"initialCredits" validate:"gte=0"`
	UserID             string             `json:"userId"`
}

type GrantRequest struct {
	OrganizationID uuid.UUID       `json:"organizationId" validate:"required"`
	UserID         string          `json:"userId"`
	Amount         int64           `json:"amount" validate:"gt=0"`
	Type           TransactionType `json:"transactionType" validate:"required,oneof=purchase refund"`
	ExternalRef    string          `json:"externalRef" validate:"max=255"`
}

// Reconciliation compares the maintained balance with the ledger sum.
type Reconciliation struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	StoredBalance  int64     `json:"storedBalance"`
	LedgerSum      int64     `json:"ledgerSum"`
	Consistent     bool      `json:"consistent"`
}
