package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"creditflow/internal/logger"
	"creditflow/internal/metrics"
	"creditflow/internal/repository"
)

const (
	defaultBatchSize   = 50
	defaultPollEvery   = 500 * time.Millisecond
	defaultMaxAttempts = 10
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type RelayParams struct {
	Store        repository.Store
	Bus          repository.MessageBus
	Logger       *logger.Logger
	Metrics      *metrics.Collector
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	Clock        func() time.Time
}

// OutboxRelay publishes committed outbox rows to the message bus. A row is
// marked published only after the bus accepted it, so delivery is at least once.
type OutboxRelay struct {
	store       repository.Store
	bus         repository.MessageBus
	log         *logger.Logger
	metrics     *metrics.Collector
	batchSize   int
	interval    time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewOutboxRelay(p RelayParams) (*OutboxRelay, error) {
	if p.Store == nil {
		return nil, errors.New("store is required")
	}
	if p.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	r := &OutboxRelay{
		store:       p.Store,
		bus:         p.Bus,
		log:         p.Logger,
		metrics:     p.Metrics,
		batchSize:   p.BatchSize,
		interval:    p.PollInterval,
		maxAttempts: p.MaxAttempts,
		now:         p.Clock,
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.interval <= 0 {
		r.interval = defaultPollEvery
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; store errors back off exponentially.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.log.Info(ctx, "outbox relay is running")
	backoff := r.interval
	for {
		select {
		case <-ctx.Done():
			r.log.Info(ctx, "outbox relay stopped")
			return nil
		default:
		}

		n, err := r.RelayOnce(ctx)
		if err != nil {
			r.log.Error(ctx, "outbox relay batch error", err)
			backoff = nextBackoff(backoff, r.interval, maxBackoff)
			if !sleep(ctx, withJitter(backoff)) {
				return nil
			}
			continue
		}
		backoff = r.interval

		if n == r.batchSize {
			continue
		}
		if !sleep(ctx, withJitter(r.interval)) {
			return nil
		}
	}
}

// RelayOnce publishes one batch of pending rows and reports how many it read.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.store.PendingOutbox(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		fields := map[string]any{
			"outbox_id":    ev.ID.String(),
			"topic":        ev.Topic,
			"aggregate_id": ev.AggregateID.String(),
		}
		evCtx := r.log.WithFields(ctx, fields)

		if err := r.bus.Publish(ctx, ev.Topic, ev.Payload); err != nil {
			r.metrics.IncOutbox("failed")
			evCtx = r.log.WithField(evCtx, "attempt", ev.Attempts+1)
			if ev.Attempts+1 >= r.maxAttempts {
				r.log.Error(evCtx, "outbox event will not be retried", err)
			} else {
				r.log.Warn(r.log.WithField(evCtx, "error", err.Error()), "outbox publish failed")
			}
			if markErr := r.store.MarkOutboxFailed(ctx, ev.ID, err.Error()); markErr != nil {
				return len(events), markErr
			}
			continue
		}

		if err := r.store.MarkOutboxPublished(ctx, ev.ID, r.now()); err != nil {
			return len(events), err
		}
		r.metrics.IncOutbox("published")
		r.log.Debug(evCtx, "outbox event published")
	}
	return len(events), nil
}

func (r *OutboxRelay) Start(ctx context.Context) error {
	return r.Run(ctx)
}

// Stop is a no-op; the relay exits when the Start context is cancelled.
func (r *OutboxRelay) Stop(context.Context) error {
	return nil
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	next := current * 2
	if next < base {
		next = base
	}
	return min(next, ceiling)
}

func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int64N(int64(jitterWindow)))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
