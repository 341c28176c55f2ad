package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creditflow/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgCheckViolation  = "23514"
	pgUniqueViolation = "23505"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore serializes balance changes per organization with
// SELECT ... FOR UPDATE under READ COMMITTED; the credit_balance CHECK
// constraint is the last line against overdraft.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Join(ErrUnavailable, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&postgresTx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	return getOrganization(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	return getAsset(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListAssets(ctx context.Context, orgID uuid.UUID, filter model.AssetFilter) ([]model.Asset, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE organization_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, orgID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, orgID uuid.UUID, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE organization_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LedgerSum(ctx context.Context, orgID uuid.UUID) (int64, error) {
	return ledgerSum(ctx, s.pool, orgID)
}

func ledgerSum(ctx context.Context, q querier, orgID uuid.UUID) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM organizations o
		LEFT JOIN credit_transactions t ON t.organization_id = o.id
		WHERE o.id = $1
		GROUP BY o.id`, orgID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("ledger sum: %w", mapPgError(err))
	}
	return sum, nil
}

func (s *PostgresStore) FindSubmission(ctx context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, error) {
	return findSubmission(ctx, s.pool, orgID, key)
}

func (s *PostgresStore) PendingOutbox(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, aggregate_id, payload, attempts, COALESCE(last_error, ''), created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL AND ($2 <= 0 OR attempts < $2)
		ORDER BY created_at
		LIMIT $1`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.Attempts, &ev.LastError, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkOutboxPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkOutboxFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

type postgresTx struct {
	q querier
}

func (t *postgresTx) CreateOrganization(ctx context.Context, org *model.Organization) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO organizations (id, name, subscription_status, credit_balance)
		VALUES ($1, $2, $3, 0)
		RETURNING credit_balance, created_at, updated_at`,
		org.ID, org.Name, string(org.SubscriptionStatus),
	).Scan(&org.CreditBalance, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert organization: %w", mapPgError(err))
	}
	return nil
}

func (t *postgresTx) LockOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	return getOrganization(ctx, t.q, id, true)
}

func (t *postgresTx) SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status model.SubscriptionStatus) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE organizations SET subscription_status = $2, updated_at = NOW()
		WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update subscription status: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, txn *model.CreditTransaction) (int64, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, organization_id, user_id, amount, transaction_type, asset_id, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		txn.ID, txn.OrganizationID, txn.UserID, txn.Amount, string(txn.Type), txn.AssetID, nullIfEmpty(txn.ExternalRef),
	).Scan(&txn.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert credit transaction: %w", mapPgError(err))
	}

	var balance int64
	err = t.q.QueryRow(ctx, `
		UPDATE organizations
		SET credit_balance = credit_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance`, txn.OrganizationID, txn.Amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", mapPgError(err))
	}
	return balance, nil
}

func (t *postgresTx) FindTransactionByExternalRef(ctx context.Context, orgID uuid.UUID, ref string) (*model.CreditTransaction, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE organization_id = $1 AND external_ref = $2`, orgID, ref)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return txn, nil
}

func (t *postgresTx) LedgerSum(ctx context.Context, orgID uuid.UUID) (int64, error) {
	return ledgerSum(ctx, t.q, orgID)
}

func (t *postgresTx) InsertAsset(ctx context.Context, a *model.Asset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO assets (
			id, organization_id, user_id, original_document_url, original_document_name,
			asset_type, status, credits_used, audience, tone, compliance_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		a.ID, a.OrganizationID, a.UserID, a.OriginalDocumentURL, a.OriginalDocumentName,
		string(a.AssetType), string(a.Status), a.CreditsUsed, a.Audience, a.Tone, a.ComplianceText,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert asset: %w", mapPgError(err))
	}
	return nil
}

func (t *postgresTx) LockAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	return getAsset(ctx, t.q, id, true)
}

func (t *postgresTx) UpdateAssetStatus(ctx context.Context, id uuid.UUID, status model.AssetStatus, outputURL *string, completedAt *time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE assets
		SET status = $2,
		    output_url = COALESCE($3, output_url),
		    completed_at = COALESCE($4, completed_at)
		WHERE id = $1`, id, string(status), outputURL, completedAt)
	if err != nil {
		return fmt.Errorf("update asset status: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) FindSubmission(ctx context.Context, orgID uuid.UUID, key string) (*model.SubmissionRecord, error) {
	return findSubmission(ctx, t.q, orgID, key)
}

func (t *postgresTx) InsertSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO submissions (organization_id, idempotency_key, request_hash, result)
		VALUES ($1, $2, $3, $4)`,
		rec.OrganizationID, rec.IdempotencyKey, rec.RequestHash, []byte(rec.Result))
	if err != nil {
		return fmt.Errorf("insert submission: %w", mapPgError(err))
	}
	return nil
}

func (t *postgresTx) InsertOutbox(ctx context.Context, ev *model.OutboxEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO outbox_events (id, topic, aggregate_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload),
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", mapPgError(err))
	}
	return nil
}

const assetColumns = `id, organization_id, user_id, original_document_url, original_document_name,
	asset_type, status, credits_used, audience, tone, compliance_text, output_url, created_at, completed_at`

const transactionColumns = `id, organization_id, user_id, amount, transaction_type, asset_id,
	COALESCE(external_ref, ''), created_at`

func getOrganization(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*model.Organization, error) {
	query := `
		SELECT id, name, subscription_status, credit_balance, created_at, updated_at
		FROM organizations
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var org model.Organization
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&org.ID, &org.Name, &status, &org.CreditBalance, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	org.SubscriptionStatus = model.SubscriptionStatus(status)
	return &org, nil
}

func getAsset(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	asset, err := scanAsset(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapPgError(err)
	}
	return asset, nil
}

func findSubmission(ctx context.Context, q querier, orgID uuid.UUID, key string) (*model.SubmissionRecord, error) {
	rec := model.SubmissionRecord{OrganizationID: orgID, IdempotencyKey: key}
	var result []byte
	err := q.QueryRow(ctx, `
		SELECT request_hash, result
		FROM submissions
		WHERE organization_id = $1 AND idempotency_key = $2`, orgID, key).Scan(&rec.RequestHash, &result)
	if err != nil {
		return nil, mapPgError(err)
	}
	rec.Result = result
	return &rec, nil
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var assetType, status string
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.UserID, &a.OriginalDocumentURL, &a.OriginalDocumentName,
		&assetType, &status, &a.CreditsUsed, &a.Audience, &a.Tone, &a.ComplianceText,
		&a.OutputURL, &a.CreatedAt, &a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AssetType = model.AssetType(assetType)
	a.Status = model.AssetStatus(status)
	return &a, nil
}

func scanTransaction(row pgx.Row) (*model.CreditTransaction, error) {
	var t model.CreditTransaction
	var txType string
	err := row.Scan(&t.ID, &t.OrganizationID, &t.UserID, &t.Amount, &txType, &t.AssetID, &t.ExternalRef, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(txType)
	return &t, nil
}

// mapPgError translates driver errors into the package sentinels while
// keeping the original error in the chain for diagnostics.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCheckViolation:
			if pgErr.ConstraintName == "organizations_credit_balance_check" {
				return fmt.Errorf("%w: %w", ErrNegativeBalance, err)
			}
		case pgUniqueViolation:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
