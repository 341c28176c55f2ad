package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"creditflow/internal/model"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. A transaction holds the
// store-wide lock for its whole duration and records an undo entry for every
// mutation so a failed fn leaves no trace.
type MemoryStore struct {
	mu           sync.RWMutex
	orgs         map[uuid.UUID]*model.Organization
	assets       map[uuid.UUID]*model.Asset
	transactions []model.CreditTransaction
	submissions  map[string]model.SubmissionRecord
	outbox       []*model.OutboxEvent
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:        make(map[uuid.UUID]*model.Organization),
		assets:      make(map[uuid.UUID]*model.Asset),
		submissions: make(map[string]model.SubmissionRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func submissionKey(orgID uuid.UUID, key string) string {
	return orgID.String() + ":" + key
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) GetOrganization(_ context.Context, id uuid.UUID) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *org
	return &out, nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id uuid.UUID) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *asset
	return &out, nil
}

func (s *MemoryStore) ListAssets(_ context.Context, orgID uuid.UUID, filter model.AssetFilter) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Asset
	for _, a := range s.assets {
		if a.OrganizationID != orgID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, orgID uuid.UUID, limit int) ([]model.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CreditTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].OrganizationID != orgID {
			continue
		}
		out = append(out, s.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LedgerSum(_ context.Context, orgID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerSum(orgID)
}

func (s *MemoryStore) ledgerSum(orgID uuid.UUID) (int64, error) {
	if _, ok := s.orgs[orgID]; !ok {
		return 0, ErrNotFound
	}
	var sum int64
	for _, t := range s.transactions {
		if t.OrganizationID == orgID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (s *MemoryStore) FindSubmission(_ context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findSubmission(orgID, key)
}

func (s *MemoryStore) findSubmission(orgID uuid.UUID, key string) (*model.SubmissionRecord, error) {
	rec, ok := s.submissions[submissionKey(orgID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) PendingOutbox(_ context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.OutboxEvent
	for _, ev := range s.outbox {
		if ev.PublishedAt != nil {
			continue
		}
		if maxAttempts > 0 && ev.Attempts >= maxAttempts {
			continue
		}
		out = append(out, *ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkOutboxPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.outboxByID(id)
	if ev == nil {
		return ErrNotFound
	}
	ev.PublishedAt = &at
	ev.Attempts++
	ev.LastError = ""
	return nil
}

func (s *MemoryStore) MarkOutboxFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.outboxByID(id)
	if ev == nil {
		return ErrNotFound
	}
	ev.Attempts++
	ev.LastError = reason
	return nil
}

func (s *MemoryStore) outboxByID(id uuid.UUID) *model.OutboxEvent {
	for _, ev := range s.outbox {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

type memoryTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) CreateOrganization(_ context.Context, org *model.Organization) error {
	s := t.store
	if _, exists := s.orgs[org.ID]; exists {
		return fmt.Errorf("organization %s: %w", org.ID, ErrDuplicate)
	}
	now := s.now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	stored := *org
	s.orgs[org.ID] = &stored
	t.undo = append(t.undo, func() { delete(s.orgs, org.ID) })
	return nil
}

func (t *memoryTx) LockOrganization(_ context.Context, id uuid.UUID) (*model.Organization, error) {
	org, ok := t.store.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *org
	return &out, nil
}

func (t *memoryTx) SetSubscriptionStatus(_ context.Context, id uuid.UUID, status model.SubscriptionStatus) error {
	org, ok := t.store.orgs[id]
	if !ok {
		return ErrNotFound
	}
	prev, prevUpdated := org.SubscriptionStatus, org.UpdatedAt
	org.SubscriptionStatus = status
	org.UpdatedAt = t.store.now()
	t.undo = append(t.undo, func() {
		org.SubscriptionStatus = prev
		org.UpdatedAt = prevUpdated
	})
	return nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, txn *model.CreditTransaction) (int64, error) {
	s := t.store
	org, ok := s.orgs[txn.OrganizationID]
	if !ok {
		return 0, ErrNotFound
	}
	if org.CreditBalance+txn.Amount < 0 {
		return 0, ErrNegativeBalance
	}
	for _, existing := range s.transactions {
		if existing.OrganizationID != txn.OrganizationID {
			continue
		}
		if txn.ExternalRef != "" && existing.ExternalRef == txn.ExternalRef {
			return 0, fmt.Errorf("external ref %q: %w", txn.ExternalRef, ErrDuplicate)
		}
		if txn.AssetID != nil && existing.AssetID != nil && *existing.AssetID == *txn.AssetID && existing.Type == txn.Type &&
			(txn.Type == model.TransactionUsage || txn.Type == model.TransactionRefund) {
			return 0, fmt.Errorf("%s for asset %s: %w", txn.Type, *txn.AssetID, ErrDuplicate)
		}
	}

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.now()
	}

	prevBalance, prevUpdated := org.CreditBalance, org.UpdatedAt
	prevLen := len(s.transactions)
	s.transactions = append(s.transactions, *txn)
	org.CreditBalance += txn.Amount
	org.UpdatedAt = s.now()
	t.undo = append(t.undo, func() {
		s.transactions = s.transactions[:prevLen]
		org.CreditBalance = prevBalance
		org.UpdatedAt = prevUpdated
	})
	return org.CreditBalance, nil
}

func (t *memoryTx) FindTransactionByExternalRef(_ context.Context, orgID uuid.UUID, ref string) (*model.CreditTransaction, error) {
	for _, existing := range t.store.transactions {
		if existing.OrganizationID == orgID && existing.ExternalRef == ref {
			out := existing
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) LedgerSum(_ context.Context, orgID uuid.UUID) (int64, error) {
	return t.store.ledgerSum(orgID)
}

func (t *memoryTx) InsertAsset(_ context.Context, asset *model.Asset) error {
	s := t.store
	if _, ok := s.orgs[asset.OrganizationID]; !ok {
		return fmt.Errorf("organization %s: %w", asset.OrganizationID, ErrNotFound)
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if _, exists := s.assets[asset.ID]; exists {
		return fmt.Errorf("asset %s: %w", asset.ID, ErrDuplicate)
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = s.now()
	}
	stored := *asset
	s.assets[asset.ID] = &stored
	t.undo = append(t.undo, func() { delete(s.assets, asset.ID) })
	return nil
}

func (t *memoryTx) LockAsset(_ context.Context, id uuid.UUID) (*model.Asset, error) {
	asset, ok := t.store.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *asset
	return &out, nil
}

func (t *memoryTx) UpdateAssetStatus(_ context.Context, id uuid.UUID, status model.AssetStatus, outputURL *string, completedAt *time.Time) error {
	asset, ok := t.store.assets[id]
	if !ok {
		return ErrNotFound
	}
	prev := *asset
	asset.Status = status
	if outputURL != nil {
		asset.OutputURL = outputURL
	}
	if completedAt != nil {
		asset.CompletedAt = completedAt
	}
	t.undo = append(t.undo, func() { *asset = prev })
	return nil
}

func (t *memoryTx) FindSubmission(_ context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, error) {
	return t.store.findSubmission(orgID, key)
}

func (t *memoryTx) InsertSubmission(_ context.Context, rec model.SubmissionRecord) error {
	s := t.store
	k := submissionKey(rec.OrganizationID, rec.IdempotencyKey)
	if _, exists := s.submissions[k]; exists {
		return fmt.Errorf("submission %s: %w", rec.IdempotencyKey, ErrDuplicate)
	}
	s.submissions[k] = rec
	t.undo = append(t.undo, func() { delete(s.submissions, k) })
	return nil
}

func (t *memoryTx) InsertOutbox(_ context.Context, event *model.OutboxEvent) error {
	s := t.store
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	stored := *event
	prevLen := len(s.outbox)
	s.outbox = append(s.outbox, &stored)
	t.undo = append(t.undo, func() { s.outbox = s.outbox[:prevLen] })
	return nil
}
