package nats

import (
	"context"
	"encoding/json"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
	"creditflow/internal/model"
	"creditflow/internal/service"

	"github.com/nats-io/nats.go"
)

const queueGroup = "creditflow_group"

// Handler serves submissions over NATS request/reply. Every request gets a
// SubmissionResponse envelope back, including failures.
type Handler struct {
	svc  service.SubmissionService
	nc   *nats.Conn
	log  *logger.Logger
	subs []*nats.Subscription
}

func NewHandler(svc service.SubmissionService, nc *nats.Conn, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, nc: nc, log: log}
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(model.TopicSubmit, queueGroup, func(m *nats.Msg) {
		reply := h.handleSubmit(ctx, m.Data)
		if m.Reply == "" {
			return
		}
		if err := m.Respond(reply); err != nil {
			h.log.Error(ctx, "nats: failed to respond to submit command", err)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	h.log.Info(ctx, "NATS command handler is running")

	<-ctx.Done()
	h.log.Info(ctx, "NATS command handler shutting down, draining subscriptions")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(context.Context) error {
	return nil
}

func (h *Handler) handleSubmit(ctx context.Context, data []byte) []byte {
	var (
		res *model.SubmissionResult
		err error
	)
	var req model.SubmitRequest
	if decodeErr := json.Unmarshal(data, &req); decodeErr != nil {
		err = apperr.Wrap(apperr.CodeValidation, decodeErr, "invalid submit command payload")
	} else {
		ctx = h.log.WithFields(ctx, map[string]any{
			"organization_id": req.OrganizationID,
			"user_id":         req.UserID,
		})
		res, err = h.svc.Submit(ctx, req)
	}
	if err != nil {
		h.log.Warn(h.log.WithField(ctx, "code", string(apperr.CodeOf(err))), "nats: submit rejected")
	}

	out, marshalErr := json.Marshal(model.NewSubmissionResponse(res, err))
	if marshalErr != nil {
		h.log.Error(ctx, "nats: failed to encode submit reply", marshalErr)
		out, _ = json.Marshal(model.NewSubmissionResponse(nil, apperr.Wrap(apperr.CodeInternal, marshalErr, "")))
	}
	return out
}
