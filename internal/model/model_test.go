package model

import (
	"errors"
	"testing"

	"creditflow/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetPrices(t *testing.T) {
	assert.EqualValues(t, 10, AssetELearning.Price())
	assert.EqualValues(t, 15, AssetVideo.Price())
	assert.EqualValues(t, 8, AssetProcessMap.Price())
	assert.EqualValues(t, 5, AssetJobAid.Price())
	assert.EqualValues(t, 0, AssetType("podcast").Price())
}

func TestParseAssetType(t *testing.T) {
	got, err := ParseAssetType(" Job-Aid ")
	require.NoError(t, err)
	assert.Equal(t, AssetJobAid, got)

	_, err = ParseAssetType("podcast")
	assert.Error(t, err)
}

func TestAssetStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to AssetStatus
		ok       bool
	}{
		{AssetPending, AssetProcessing, true},
		{AssetProcessing, AssetCompleted, true},
		{AssetProcessing, AssetFailed, true},
		{AssetPending, AssetFailed, true},
		{AssetProcessing, AssetPending, false},
		{AssetCompleted, AssetFailed, false},
		{AssetFailed, AssetCompleted, false},
		{AssetCompleted, AssetCompleted, false},
		{AssetPending, AssetStatus("archived"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, AssetFailed.IsTerminal())
	assert.False(t, AssetProcessing.IsTerminal())
}

func TestSubmitRequestCollapsesDuplicateTypes(t *testing.T) {
	req := SubmitRequest{AssetTypes: []AssetType{AssetVideo, AssetJobAid, AssetVideo}}
	assert.Equal(t, []AssetType{AssetVideo, AssetJobAid}, req.UniqueAssetTypes())
	assert.EqualValues(t, 20, req.TotalCost())
}

func TestNewSubmissionResponseSuccess(t *testing.T) {
	res := &SubmissionResult{SubmissionID: uuid.New(), CreditsUsed: 15, RemainingCredits: 5}
	resp := NewSubmissionResponse(res, nil)

	assert.True(t, resp.Success)
	require.NotNil(t, resp.RemainingCredits)
	assert.EqualValues(t, 5, *resp.RemainingCredits)
	assert.Nil(t, resp.Required)
}

func TestNewSubmissionResponseInsufficientCredits(t *testing.T) {
	resp := NewSubmissionResponse(nil, apperr.InsufficientCredits(15, 5))

	assert.False(t, resp.Success)
	assert.Equal(t, apperr.CodeInsufficientCredits, resp.Code)
	require.NotNil(t, resp.Required)
	require.NotNil(t, resp.Available)
	assert.EqualValues(t, 15, *resp.Required)
	assert.EqualValues(t, 5, *resp.Available)
}

func TestNewSubmissionResponseUntypedError(t *testing.T) {
	resp := NewSubmissionResponse(nil, errors.New("socket closed"))
	assert.False(t, resp.Success)
	assert.Equal(t, apperr.CodeInternal, resp.Code)
	assert.Equal(t, "internal server error", resp.Message)
}

func TestCreditPackagesOrdered(t *testing.T) {
	pkgs := CreditPackages()
	require.Len(t, pkgs, 3)
	assert.Equal(t, "starter", pkgs[0].ID)
	assert.Equal(t, "enterprise", pkgs[2].ID)

	pro, ok := CreditPackageByID("professional")
	require.True(t, ok)
	assert.EqualValues(t, 150, pro.Credits)
	assert.EqualValues(t, 129900, pro.PriceCents)
}
