package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

// Postgres persists accounts and transactions in PostgreSQL. Money is stored in cents.
type Postgres struct {
	db *pgxpool.Pool
}

// ConnectPostgres opens a pool against databaseURL and verifies it with a ping.
func ConnectPostgres(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tables and indexes when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	var cents int64
	acc := domain.Account{UserID: userID}
	err := p.db.QueryRow(ctx, `SELECT balance_cents, updated_at FROM accounts WHERE user_id = $1`, userID).
		Scan(&cents, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("get account %s: %w", userID, domain.ErrAccountNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", userID, err)
	}
	acc.Balance = domain.FromCents(cents)
	return acc, nil
}

func (p *Postgres) UpsertAccount(ctx context.Context, account domain.Account) error {
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO accounts (user_id, balance_cents, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET balance_cents = EXCLUDED.balance_cents, updated_at = EXCLUDED.updated_at`,
		account.UserID, domain.ToCents(account.Balance), account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", account.UserID, err)
	}
	return nil
}

// DebitAccount relies on a single guarded UPDATE so concurrent debits cannot overdraw.
func (p *Postgres) DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	cents := domain.ToCents(amount)
	var balance int64
	acc := domain.Account{UserID: userID}
	err := p.db.QueryRow(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance_cents >= $2
		RETURNING balance_cents, updated_at`, userID, cents).Scan(&balance, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := p.GetAccount(ctx, userID)
		if getErr != nil {
			return domain.Account{}, getErr
		}
		return domain.Account{}, &domain.ConflictError{UserID: userID, Requested: amount, Available: current.Balance}
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("debit account %s: %w", userID, err)
	}
	acc.Balance = domain.FromCents(balance)
	return acc, nil
}

func (p *Postgres) CreditAccount(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	var balance int64
	acc := domain.Account{UserID: userID}
	err := p.db.QueryRow(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance_cents, updated_at`, userID, domain.ToCents(amount)).Scan(&balance, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("credit account %s: %w", userID, domain.ErrAccountNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("credit account %s: %w", userID, err)
	}
	acc.Balance = domain.FromCents(balance)
	return acc, nil
}

func (p *Postgres) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	flags := tx.Flags
	if flags == nil {
		flags = []string{}
	}

	tag, err := p.db.Exec(ctx, `
		INSERT INTO transactions (
			id, request_id, user_id, amount_cents, currency, merchant, status, decline_reason,
			risk_score, flags, gateway, external_payment_id, processing_latency_ms, created_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13, $14, $15::jsonb)
		ON CONFLICT (request_id) DO NOTHING`,
		tx.ID, tx.RequestID, tx.UserID, domain.ToCents(tx.Amount), tx.Currency, tx.Merchant,
		string(tx.Status), string(tx.DeclineReason), tx.RiskScore, flags, tx.Gateway,
		tx.ExternalPaymentID, tx.ProcessingLatencyMs, tx.CreatedAt, metadata,
	)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append transaction %s: %w", tx.RequestID, domain.ErrDuplicateRequest)
	}
	return nil
}

func (p *Postgres) FindByRequestID(ctx context.Context, requestID string) (domain.Transaction, bool, error) {
	row := p.db.QueryRow(ctx, selectTransactionSQL+` WHERE request_id = $1`, requestID)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("find transaction %s: %w", requestID, err)
	}
	return tx, true, nil
}

func (p *Postgres) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	rows, err := p.db.Query(ctx, selectTransactionSQL+` ORDER BY created_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *Postgres) CountTransactions(ctx context.Context, filter domain.TransactionFilter) (int64, error) {
	var since *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}
	var n int64
	err := p.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR merchant = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)`,
		filter.UserID, filter.Merchant, string(filter.Status), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (p *Postgres) MerchantStats(ctx context.Context, merchant string, since time.Time) (domain.MerchantStats, error) {
	stats := domain.MerchantStats{Merchant: merchant}
	err := p.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'DECLINED')
		FROM transactions
		WHERE merchant = $1 AND created_at >= $2`, merchant, since).Scan(&stats.Total, &stats.Declined)
	if err != nil {
		return domain.MerchantStats{}, fmt.Errorf("merchant stats %s: %w", merchant, err)
	}
	return stats, nil
}

func (p *Postgres) Summary(ctx context.Context, now time.Time) (domain.Summary, error) {
	var s domain.Summary
	var avgCents, volumeCents int64
	err := p.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'DECLINED'),
			COUNT(*) FILTER (WHERE status = 'ERROR'),
			COALESCE(ROUND(AVG(amount_cents) FILTER (WHERE status = 'APPROVED')), 0)::bigint,
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'APPROVED'), 0)::bigint,
			COUNT(*) FILTER (WHERE created_at > $1)
		FROM transactions`, now.Add(-time.Minute)).Scan(
		&s.TotalTransactions, &s.ApprovedTransactions, &s.DeclinedTransactions, &s.ErrorTransactions,
		&avgCents, &volumeCents, &s.LastMinute,
	)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("transaction summary: %w", err)
	}
	s.AvgApprovedAmount = domain.FromCents(avgCents)
	s.TotalVolume = domain.FromCents(volumeCents)
	return s, nil
}

func (p *Postgres) VolumePerMinute(ctx context.Context, since time.Time) ([]domain.VolumeBucket, error) {
	rows, err := p.db.Query(ctx, `
		SELECT date_trunc('minute', created_at) AS minute, COUNT(*), COALESCE(SUM(amount_cents), 0)::bigint
		FROM transactions
		WHERE created_at >= $1
		GROUP BY 1
		ORDER BY 1 DESC
		LIMIT 60`, since)
	if err != nil {
		return nil, fmt.Errorf("volume per minute: %w", err)
	}
	defer rows.Close()

	var out []domain.VolumeBucket
	for rows.Next() {
		var b domain.VolumeBucket
		var cents int64
		if err := rows.Scan(&b.Minute, &b.TransactionCount, &cents); err != nil {
			return nil, fmt.Errorf("scan volume bucket: %w", err)
		}
		b.Volume = domain.FromCents(cents)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Postgres) Close(context.Context) error {
	p.db.Close()
	return nil
}

const selectTransactionSQL = `
	SELECT id, request_id, user_id, amount_cents, currency, merchant, status,
	       COALESCE(decline_reason, ''), risk_score, COALESCE(flags, '{}'), COALESCE(gateway, ''),
	       COALESCE(external_payment_id, ''), processing_latency_ms, created_at,
	       COALESCE(metadata, '{}'::jsonb)
	FROM transactions`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx       domain.Transaction
		cents    int64
		status   string
		reason   string
		metadata []byte
	)
	err := row.Scan(&tx.ID, &tx.RequestID, &tx.UserID, &cents, &tx.Currency, &tx.Merchant, &status,
		&reason, &tx.RiskScore, &tx.Flags, &tx.Gateway, &tx.ExternalPaymentID, &tx.ProcessingLatencyMs,
		&tx.CreatedAt, &metadata)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Amount = domain.FromCents(cents)
	tx.Status = domain.Status(status)
	tx.DeclineReason = domain.DeclineReason(reason)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return tx, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id       TEXT PRIMARY KEY,
	balance_cents BIGINT NOT NULL CHECK (balance_cents >= 0),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	id                    TEXT PRIMARY KEY,
	request_id            TEXT NOT NULL UNIQUE,
	user_id               TEXT NOT NULL,
	amount_cents          BIGINT NOT NULL,
	currency              TEXT NOT NULL DEFAULT 'USD',
	merchant              TEXT NOT NULL,
	status                TEXT NOT NULL,
	decline_reason        TEXT,
	risk_score            DOUBLE PRECISION NOT NULL DEFAULT 0,
	flags                 TEXT[] NOT NULL DEFAULT '{}',
	gateway               TEXT,
	external_payment_id   TEXT,
	processing_latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	metadata              JSONB
);

CREATE INDEX IF NOT EXISTS transactions_user_created_idx ON transactions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS transactions_merchant_created_idx ON transactions (merchant, created_at DESC);
`
