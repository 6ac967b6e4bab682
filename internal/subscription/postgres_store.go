package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const subscriptionColumns = `id, site_id, plan, status, trial_end,
		       period_start, period_end, payment_failed_at, grace_deadline,
		       retry_count, next_retry_at, last_payment_id, cancelled_at,
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, site_id, plan, status, trial_end,
			period_start, period_end, payment_failed_at, grace_deadline,
			retry_count, next_retry_at, last_payment_id, cancelled_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`,
		sub.ID, sub.SiteID, string(sub.Plan), string(sub.Status), sub.TrialEnd,
		sub.PeriodStart, sub.PeriodEnd, nullTime(sub.PaymentFailedAt), nullTime(sub.GraceDeadline),
		sub.RetryCount, nullTime(sub.NextRetryAt), nullString(sub.LastPaymentID), nullTime(sub.CancelledAt),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (p *PostgresStore) GetBySite(ctx context.Context, siteID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE site_id = $1`, siteID)
	return scanSubscription(row)
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan = $2, status = $3, trial_end = $4,
			period_start = $5, period_end = $6,
			payment_failed_at = $7, grace_deadline = $8,
			retry_count = $9, next_retry_at = $10,
			last_payment_id = $11, cancelled_at = $12, updated_at = $13
		WHERE id = $1`,
		sub.ID, string(sub.Plan), string(sub.Status), sub.TrialEnd,
		sub.PeriodStart, sub.PeriodEnd,
		nullTime(sub.PaymentFailedAt), nullTime(sub.GraceDeadline),
		sub.RetryCount, nullTime(sub.NextRetryAt),
		nullString(sub.LastPaymentID), nullTime(sub.CancelledAt), sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscription rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Subscription, error) {
	return p.query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 ORDER BY created_at DESC LIMIT $1`, limit)
}

func (p *PostgresStore) ListDueTrials(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return p.query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'trial' AND trial_end <= $1
		 ORDER BY trial_end ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) ListDueRenewals(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return p.query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'active' AND period_end <= $1
		 ORDER BY period_end ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return p.query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'payment_failed'
		   AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		 ORDER BY next_retry_at ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return p.query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'payment_failed'
		   AND grace_deadline IS NOT NULL AND grace_deadline < $1
		 ORDER BY grace_deadline ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var (
		sub             Subscription
		plan, status    string
		paymentFailedAt sql.NullTime
		graceDeadline   sql.NullTime
		nextRetryAt     sql.NullTime
		cancelledAt     sql.NullTime
		lastPaymentID   sql.NullString
	)
	err := row.Scan(
		&sub.ID, &sub.SiteID, &plan, &status, &sub.TrialEnd,
		&sub.PeriodStart, &sub.PeriodEnd, &paymentFailedAt, &graceDeadline,
		&sub.RetryCount, &nextRetryAt, &lastPaymentID, &cancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Plan = PlanID(plan)
	sub.Status = Status(status)
	sub.PaymentFailedAt = timePtr(paymentFailedAt)
	sub.GraceDeadline = timePtr(graceDeadline)
	sub.NextRetryAt = timePtr(nextRetryAt)
	sub.CancelledAt = timePtr(cancelledAt)
	if lastPaymentID.Valid {
		sub.LastPaymentID = lastPaymentID.String
	}
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	cp := t.Time
	return &cp
}
