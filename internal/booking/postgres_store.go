package booking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/innkeep/innkeep/internal/pagination"
)

// PostgresStore persists reservations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reservation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reservationColumns = `id, site_id, accommodation_type_id, start_date, end_date,
		       guests, guest_name, guest_email, guest_phone,
		       total_amount, currency, status, payment_status,
		       payment_ref, checkout_url, expires_at,
		       confirmed_at, cancelled_at, created_at, updated_at`

// CreateIfAvailable inserts the reservation inside a transaction that
// first takes a row-level lock on the accommodation type and recounts
// active overlapping reservations. The lock serialises concurrent
// bookings for the same type across processes; the count-then-insert
// therefore cannot oversell.
func (p *PostgresStore) CreateIfAvailable(ctx context.Context, r *Reservation, capacityUnits int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var typeID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM accommodation_types WHERE id = $1 FOR UPDATE`,
		r.AccommodationTypeID).Scan(&typeID)
	if err == sql.ErrNoRows {
		return ErrTypeNotFound
	}
	if err != nil {
		return fmt.Errorf("lock accommodation type: %w", err)
	}

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE accommodation_type_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_date < $2 AND end_date > $3`,
		r.AccommodationTypeID, r.Range.End, r.Range.Start).Scan(&active)
	if err != nil {
		return fmt.Errorf("count active reservations: %w", err)
	}
	if active >= capacityUnits {
		return ErrNoUnits
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (
			id, site_id, accommodation_type_id, start_date, end_date,
			guests, guest_name, guest_email, guest_phone,
			total_amount, currency, status, payment_status,
			payment_ref, checkout_url, expires_at,
			confirmed_at, cancelled_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20
		)`,
		r.ID, r.SiteID, r.AccommodationTypeID, r.Range.Start, r.Range.End,
		r.Guests, r.Guest.FullName, r.Guest.Email, nullString(r.Guest.Phone),
		r.TotalPrice.Amount, r.TotalPrice.Currency, string(r.Status), string(r.PaymentStatus),
		nullString(r.PaymentRef), nullString(r.CheckoutURL), r.ExpiresAt,
		nullTime(r.ConfirmedAt), nullTime(r.CancelledAt), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Reservation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) Update(ctx context.Context, r *Reservation) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE reservations SET
			status = $1, payment_status = $2, payment_ref = $3,
			checkout_url = $4, confirmed_at = $5, cancelled_at = $6,
			updated_at = $7
		WHERE id = $8`,
		string(r.Status), string(r.PaymentStatus), nullString(r.PaymentRef),
		nullString(r.CheckoutURL), nullTime(r.ConfirmedAt), nullTime(r.CancelledAt),
		r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListBySite(ctx context.Context, siteID string, limit int) ([]*Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE site_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReservations(rows)
}

func (p *PostgresStore) ListBySitePage(ctx context.Context, siteID string, before *pagination.Cursor, limit int) ([]*Reservation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+reservationColumns+`
			FROM reservations
			WHERE site_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, siteID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+reservationColumns+`
			FROM reservations
			WHERE site_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, siteID, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReservations(rows)
}

func (p *PostgresStore) CountActiveOverlapping(ctx context.Context, typeID string, dr DateRange, excludeID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE accommodation_type_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_date < $2 AND end_date > $3
		  AND ($4 = '' OR id <> $4)`,
		typeID, dr.End, dr.Start, excludeID).Scan(&count)
	return count, err
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReservations(rows)
}

func (p *PostgresStore) ListConfirmedSince(ctx context.Context, since time.Time, limit int) ([]*Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'confirmed' AND confirmed_at >= $1
		ORDER BY confirmed_at ASC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReservations(rows)
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row scanner) (*Reservation, error) {
	r := &Reservation{}
	var (
		startDate, endDate    time.Time
		status, payStatus     string
		phone, payRef, chkURL sql.NullString
		confirmedAt           sql.NullTime
		cancelledAt           sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.SiteID, &r.AccommodationTypeID, &startDate, &endDate,
		&r.Guests, &r.Guest.FullName, &r.Guest.Email, &phone,
		&r.TotalPrice.Amount, &r.TotalPrice.Currency, &status, &payStatus,
		&payRef, &chkURL, &r.ExpiresAt,
		&confirmedAt, &cancelledAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Range = DateRange{Start: startDate.UTC(), End: endDate.UTC()}
	r.Status = Status(status)
	r.PaymentStatus = PaymentStatus(payStatus)
	if phone.Valid {
		r.Guest.Phone = phone.String
	}
	if payRef.Valid {
		r.PaymentRef = payRef.String
	}
	if chkURL.Valid {
		r.CheckoutURL = chkURL.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		r.ConfirmedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	return r, nil
}

func scanReservations(rows *sql.Rows) ([]*Reservation, error) {
	var result []*Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
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

var _ Store = (*PostgresStore)(nil)
