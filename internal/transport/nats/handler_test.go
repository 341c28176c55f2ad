package nats

import (
	"context"
	"encoding/json"
	"testing"

	"creditflow/internal/apperr"
	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubmitter struct {
	got model.SubmitRequest
	res *model.SubmissionResult
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, req model.SubmitRequest) (*model.SubmissionResult, error) {
	s.got = req
	return s.res, s.err
}

func decodeReply(t *testing.T, raw []byte) model.SubmissionResponse {
	t.Helper()
	var resp model.SubmissionResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandleSubmitSuccess(t *testing.T) {
	id := uuid.New()
	svc := &stubSubmitter{res: &model.SubmissionResult{SubmissionID: id, CreditsUsed: 15, RemainingCredits: 5}}
	h := NewHandler(svc, nil, nil)

	payload := `{"userId":"u1","organizationId":"` + uuid.NewString() + `","documentUrl":"https://x.example.com/a.pdf","documentName":"a.pdf","assetTypes":["e-learning","job-aid"]}`
	resp := decodeReply(t, h.handleSubmit(context.Background(), []byte(payload)))

	assert.True(t, resp.Success)
	require.NotNil(t, resp.SubmissionID)
	assert.Equal(t, id, *resp.SubmissionID)
	require.NotNil(t, resp.RemainingCredits)
	assert.EqualValues(t, 5, *resp.RemainingCredits)
	assert.Equal(t, []model.AssetType{model.AssetELearning, model.AssetJobAid}, svc.got.AssetTypes)
}

func TestHandleSubmitInsufficientCredits(t *testing.T) {
	svc := &stubSubmitter{err: apperr.InsufficientCredits(15, 5)}
	h := NewHandler(svc, nil, nil)

	resp := decodeReply(t, h.handleSubmit(context.Background(), []byte(`{"userId":"u1"}`)))
	assert.False(t, resp.Success)
	assert.Equal(t, apperr.CodeInsufficientCredits, resp.Code)
	require.NotNil(t, resp.Required)
	require.NotNil(t, resp.Available)
	assert.EqualValues(t, 15, *resp.Required)
	assert.EqualValues(t, 5, *resp.Available)
}

func TestHandleSubmitMalformedPayload(t *testing.T) {
	svc := &stubSubmitter{}
	h := NewHandler(svc, nil, nil)

	resp := decodeReply(t, h.handleSubmit(context.Background(), []byte("not-json")))
	assert.False(t, resp.Success)
	assert.Equal(t, apperr.CodeValidation, resp.Code)
	assert.Empty(t, svc.got.UserID)
}
