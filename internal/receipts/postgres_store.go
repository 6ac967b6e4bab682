package receipts

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists receipts. Rows are append-only; nothing in the
// platform updates or deletes a receipt once issued.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const receiptColumns = `id, site_id, target_kind, target_id, payment_id,
	amount, currency, payload_hash, signature, issued_at, expires_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.SiteID, string(r.TargetKind), r.TargetID, r.PaymentID,
		r.Amount.Amount, r.Amount.Currency, r.PayloadHash, r.Signature,
		r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)

	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListBySite(ctx context.Context, siteID string, limit int) ([]*Receipt, error) {
	return p.list(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE site_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, siteID, limit)
}

func (p *PostgresStore) ListByTarget(ctx context.Context, targetID string) ([]*Receipt, error) {
	return p.list(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE target_id = $1
		ORDER BY created_at DESC`, targetID)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc rowScanner) (*Receipt, error) {
	r := &Receipt{}
	var kind string
	err := sc.Scan(
		&r.ID, &r.SiteID, &kind, &r.TargetID, &r.PaymentID,
		&r.Amount.Amount, &r.Amount.Currency, &r.PayloadHash, &r.Signature,
		&r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.TargetKind = TargetKind(kind)
	return r, nil
}
