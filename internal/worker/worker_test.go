package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"creditflow/internal/apperr"
	"creditflow/internal/model"
	"creditflow/internal/repository"
	"creditflow/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	data  []byte
}

type fakeBus struct {
	mu       sync.Mutex
	messages []published
	failures int
}

func (b *fakeBus) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("bus unavailable")
	}
	b.messages = append(b.messages, published{topic: topic, data: data})
	return nil
}

func seedSubmission(t *testing.T, store repository.Store, types ...model.AssetType) (*service.Service, *model.SubmissionResult) {
	t.Helper()
	ctx := context.Background()
	svc, err := service.New(service.Options{Store: store, RefundFailedAssets: true})
	require.NoError(t, err)

	org, err := svc.CreateOrganization(ctx, model.CreateOrganizationRequest{Name: "Acme", InitialCredits: 100})
	require.NoError(t, err)
	res, err := svc.Submit(ctx, model.SubmitRequest{
		UserID:         "user-1",
		OrganizationID: org.ID.String(),
		DocumentURL:    "https://files.example.com/handbook.pdf",
		DocumentName:   "handbook.pdf",
		AssetTypes:     types,
	})
	require.NoError(t, err)
	return svc, res
}

func TestRelayOncePublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	_, res := seedSubmission(t, store, model.AssetVideo, model.AssetJobAid)

	bus := &fakeBus{}
	relay, err := NewOutboxRelay(RelayParams{Store: store, Bus: bus})
	require.NoError(t, err)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, bus.messages, 2)

	seen := map[string]bool{}
	for _, msg := range bus.messages {
		assert.Equal(t, model.TopicProcessAsset, msg.topic)
		var job model.ProcessAssetJob
		require.NoError(t, json.Unmarshal(msg.data, &job))
		seen[job.AssetID.String()] = true
	}
	for _, a := range res.Assets {
		assert.True(t, seen[a.ID.String()])
	}

	pending, err := store.PendingOutbox(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayOnceRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedSubmission(t, store, model.AssetProcessMap)

	bus := &fakeBus{failures: 2}
	relay, err := NewOutboxRelay(RelayParams{Store: store, Bus: bus, MaxAttempts: 2})
	require.NoError(t, err)

	for range 2 {
		_, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
	}
	assert.Empty(t, bus.messages)

	pending, err := store.PendingOutbox(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "bus unavailable", pending[0].LastError)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	seedSubmission(t, store, model.AssetJobAid)

	bus := &fakeBus{}
	relay, err := NewOutboxRelay(RelayParams{Store: store, Bus: bus, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.messages) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestNewOutboxRelayRequiresDependencies(t *testing.T) {
	_, err := NewOutboxRelay(RelayParams{Bus: &fakeBus{}})
	assert.Error(t, err)
	_, err = NewOutboxRelay(RelayParams{Store: repository.NewMemoryStore()})
	assert.Error(t, err)
}

func TestNextBackoffIsCapped(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, nextBackoff(0, base, time.Second))
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, base, time.Second))
	assert.Equal(t, time.Second, nextBackoff(900*time.Millisecond, base, time.Second))
}

func TestStatusWorkerHandleAppliesUpdate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc, res := seedSubmission(t, store, model.AssetVideo)
	w := NewStatusWorker(svc, nil, nil)

	payload, err := json.Marshal(model.AssetStatusEvent{AssetID: res.Assets[0].ID, Status: model.AssetCompleted})
	require.NoError(t, err)
	require.NoError(t, w.handle(ctx, payload))

	asset, err := store.GetAsset(ctx, res.Assets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetCompleted, asset.Status)
	assert.NotNil(t, asset.CompletedAt)
}

func TestStatusWorkerHandleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc, res := seedSubmission(t, store, model.AssetVideo)
	w := NewStatusWorker(svc, nil, nil)

	err := w.handle(ctx, []byte("{not json"))
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	payload, err := json.Marshal(model.AssetStatusEvent{AssetID: res.Assets[0].ID, Status: model.AssetPending})
	require.NoError(t, err)
	err = w.handle(ctx, payload)
	assert.Equal(t, apperr.CodeStateConflict, apperr.CodeOf(err))
}

func TestStatusWorkerRunRequiresConnection(t *testing.T) {
	w := NewStatusWorker(nil, nil, nil)
	assert.Error(t, w.Start(context.Background()))
}
