package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "creditflow"

// cmdable is the slice of the go-redis client the cache needs.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache keeps submission results for idempotent replays and processed-event
// markers in Redis. Balances are never cached; the store is read directly.
// A cache failure never fails a write.
type Cache struct {
	client         cmdable
	idempotencyTTL time.Duration
}

func NewCache(client cmdable, idempotencyTTL time.Duration) *Cache {
	return &Cache{client: client, idempotencyTTL: idempotencyTTL}
}

func replayKey(orgID uuid.UUID, key string) string {
	return fmt.Sprintf("%s:submission:%s:%s", keyPrefix, orgID, key)
}

// IdempotencyKey builds the marker key for a processed event in scope.
func IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("%s:idempotency:%s:%s", keyPrefix, scope, id)
}

func (c *Cache) GetSubmission(ctx context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, bool, error) {
	raw, err := c.client.Get(ctx, replayKey(orgID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached submission: %w", err)
	}
	var rec model.SubmissionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode cached submission: %w", err)
	}
	return &rec, true, nil
}

func (c *Cache) PutSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	if err := c.client.Set(ctx, replayKey(rec.OrganizationID, rec.IdempotencyKey), data, c.idempotencyTTL).Err(); err != nil {
		return fmt.Errorf("set cached submission: %w", err)
	}
	return nil
}

// CheckAndMark returns true if id was already marked in scope, otherwise marks it.
func (c *Cache) CheckAndMark(ctx context.Context, scope, id string) (bool, error) {
	if scope == "" || id == "" {
		return false, errors.New("scope and id are required")
	}
	set, err := c.client.SetNX(ctx, IdempotencyKey(scope, id), "1", c.idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release drops a marker so a failed event can be retried.
func (c *Cache) Release(ctx context.Context, scope, id string) error {
	if scope == "" || id == "" {
		return errors.New("scope and id are required")
	}
	return c.client.Del(ctx, IdempotencyKey(scope, id)).Err()
}
