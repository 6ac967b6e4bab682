package payments

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/innkeep/innkeep/internal/money"
)

// PostgresStore persists the payment ledger in PostgreSQL. The unique
// index on provider_payment_id is the idempotency guard.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const paymentColumns = `id, provider, provider_payment_id, target_kind, target_id,
		       external_ref, status, amount, currency, raw, created_at`

func (p *PostgresStore) Create(ctx context.Context, rec *PaymentRecord) error {
	raw := rec.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_records (
			id, provider, provider_payment_id, target_kind, target_id,
			external_ref, status, amount, currency, raw, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`,
		rec.ID, rec.Provider, rec.ProviderPaymentID, string(rec.TargetKind), rec.TargetID,
		rec.ExternalRef, string(rec.Status), rec.Amount.Amount, rec.Amount.Currency,
		[]byte(raw), rec.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*PaymentRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE id = $1`, id)
	return scanPayment(row)
}

func (p *PostgresStore) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*PaymentRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE provider_payment_id = $1`,
		providerPaymentID)
	return scanPayment(row)
}

func (p *PostgresStore) ListByTarget(ctx context.Context, kind TargetKind, targetID string) ([]*PaymentRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records
		 WHERE target_kind = $1 AND target_id = $2
		 ORDER BY created_at ASC`,
		string(kind), targetID)
	if err != nil {
		return nil, fmt.Errorf("query payment records: %w", err)
	}
	defer rows.Close()

	var out []*PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SumApproved(ctx context.Context, targetIDs []string, from, to time.Time) (money.Money, int, error) {
	if len(targetIDs) == 0 {
		return money.Money{}, 0, nil
	}
	var (
		total    sql.NullInt64
		currency sql.NullString
		count    int
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), MIN(currency), COUNT(*)
		FROM payment_records
		WHERE status = 'approved' AND target_kind = 'reservation'
		  AND target_id = ANY($1)
		  AND created_at >= $2 AND created_at < $3`,
		pq.Array(targetIDs), from, to).Scan(&total, &currency, &count)
	if err != nil {
		return money.Money{}, 0, fmt.Errorf("sum approved payments: %w", err)
	}
	if count == 0 || !currency.Valid {
		return money.Money{}, 0, nil
	}
	return money.Money{Amount: total.Int64, Currency: currency.String}, count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*PaymentRecord, error) {
	var (
		rec          PaymentRecord
		kind, status string
		amount       int64
		currency     string
		raw          []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Provider, &rec.ProviderPaymentID, &kind, &rec.TargetID,
		&rec.ExternalRef, &status, &amount, &currency, &raw, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment record: %w", err)
	}
	rec.TargetKind = TargetKind(kind)
	rec.Status = Status(status)
	rec.Amount = money.Money{Amount: amount, Currency: currency}
	rec.Raw = raw
	return &rec, nil
}
