package http

import (
	"context"
	"io"
	"net/http"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	stripeWebhookScope    = "stripe-webhook"
	maxWebhookBody        = 64 << 10
)

type stripeEventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// eventGuard remembers processed webhook event ids.
type eventGuard interface {
	CheckAndMark(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

// StripeWebhook verifies and dispatches Stripe events. Without a guard,
// duplicate deliveries fall back to the ledger's external reference check.
type StripeWebhook struct {
	svc    stripeEventHandler
	secret string
	guard  eventGuard
	log    *logger.Logger
}

func NewStripeWebhook(svc stripeEventHandler, secret string, guard eventGuard, log *logger.Logger) *StripeWebhook {
	if log == nil {
		log = logger.Nop()
	}
	return &StripeWebhook{svc: svc, secret: secret, guard: guard, log: log}
}

func (s *StripeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.svc == nil || s.secret == "" {
		writeError(ctx, s.log, w, apperr.New(apperr.CodeInternal, "stripe webhook not configured"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(ctx, s.log, w, apperr.Wrap(apperr.CodeDependency, err, "read request body"))
		return
	}
	sigHeader := r.Header.Get(stripeSignatureHeader)
	if sigHeader == "" {
		writeError(ctx, s.log, w, apperr.New(apperr.CodeValidation, "stripe signature missing"))
		return
	}
	event, err := webhook.ConstructEvent(payload, sigHeader, s.secret)
	if err != nil {
		writeError(ctx, s.log, w, apperr.Wrap(apperr.CodeUnauthorized, err, "verify signature"))
		return
	}
	ctx = s.log.WithField(ctx, "stripe_event_id", event.ID)

	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, stripeWebhookScope, event.ID)
		if err != nil {
			writeError(ctx, s.log, w, apperr.Wrap(apperr.CodeDependency, err, "check idempotency"))
			return
		}
		if seen {
			s.log.Info(ctx, "stripe event already processed")
			writeSuccess(w, http.StatusOK, nil)
			return
		}
	}

	if err := s.svc.HandleEvent(ctx, &event); err != nil {
		if s.guard != nil {
			_ = s.guard.Release(ctx, stripeWebhookScope, event.ID)
		}
		writeError(ctx, s.log, w, err)
		return
	}
	s.log.Info(ctx, "stripe event processed")
	writeSuccess(w, http.StatusOK, nil)
}
