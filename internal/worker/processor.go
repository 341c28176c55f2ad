package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
	"creditflow/internal/model"
	"creditflow/internal/service"

	"github.com/nats-io/nats.go"
)

const statusQueueGroup = "creditflow_status"

// StatusWorker listens on the asset status topic and applies the processing
// worker's reports to assets.
type StatusWorker struct {
	svc      service.AssetService
	natsConn *nats.Conn
	log      *logger.Logger
}

func NewStatusWorker(svc service.AssetService, nc *nats.Conn, log *logger.Logger) *StatusWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &StatusWorker{svc: svc, natsConn: nc, log: log}
}

// Run subscribes to the status topic and blocks until ctx is cancelled.
func (w *StatusWorker) Run(ctx context.Context) error {
	if w.natsConn == nil {
		return errors.New("status worker: nats connection is required")
	}
	// One member of the queue group receives each report.
	sub, err := w.natsConn.QueueSubscribe(model.TopicAssetStatus, statusQueueGroup, func(m *nats.Msg) {
		if err := w.handle(ctx, m.Data); err != nil {
			w.log.Error(ctx, "status worker: update rejected", err)
		}
	})
	if err != nil {
		return fmt.Errorf("status worker: subscribe: %w", err)
	}

	w.log.Info(ctx, "status worker is running")
	<-ctx.Done()

	w.log.Info(ctx, "status worker draining subscription")
	return sub.Drain()
}

func (w *StatusWorker) handle(ctx context.Context, data []byte) error {
	var event model.AssetStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "decode asset status event")
	}
	ctx = w.log.WithFields(ctx, map[string]any{
		"asset_id": event.AssetID.String(),
		"status":   string(event.Status),
	})

	if _, err := w.svc.ApplyStatus(ctx, event); err != nil {
		return err
	}
	w.log.Info(ctx, "asset status applied")
	return nil
}

func (w *StatusWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop is a no-op; shutdown drains the subscription via the Start context.
func (w *StatusWorker) Stop(context.Context) error {
	return nil
}
