package site

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists sites and accommodation types in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed site store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const siteColumns = `id, name, slug, operator_email, collector_id, customer_id,
		       status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Site) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, slug, operator_email, collector_id, customer_id,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Name, s.Slug, s.OperatorEmail,
		nullString(s.CollectorID), nullString(s.CustomerID),
		string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Site, error) {
	return scanSite(p.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Site, error) {
	return scanSite(p.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE slug = $1`, slug))
}

func (p *PostgresStore) Update(ctx context.Context, s *Site) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sites SET name = $1, operator_email = $2, collector_id = $3,
			customer_id = $4, status = $5, updated_at = $6
		WHERE id = $7`,
		s.Name, s.OperatorEmail, nullString(s.CollectorID),
		nullString(s.CustomerID), string(s.Status), s.UpdatedAt, s.ID,
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

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Site, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+siteColumns+` FROM sites ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

const typeColumns = `id, site_id, name, capacity_units, min_guests, max_guests,
		       nightly_amount, currency, active, created_at, updated_at`

func (p *PostgresStore) CreateType(ctx context.Context, at *AccommodationType) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accommodation_types (id, site_id, name, capacity_units,
			min_guests, max_guests, nightly_amount, currency, active,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		at.ID, at.SiteID, at.Name, at.CapacityUnits,
		at.MinGuests, at.MaxGuests, at.NightlyRate.Amount, at.NightlyRate.Currency,
		at.Active, at.CreatedAt, at.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetType(ctx context.Context, id string) (*AccommodationType, error) {
	return scanType(p.db.QueryRowContext(ctx,
		`SELECT `+typeColumns+` FROM accommodation_types WHERE id = $1`, id))
}

func (p *PostgresStore) UpdateType(ctx context.Context, at *AccommodationType) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accommodation_types SET name = $1, capacity_units = $2,
			min_guests = $3, max_guests = $4, nightly_amount = $5,
			currency = $6, active = $7, updated_at = $8
		WHERE id = $9`,
		at.Name, at.CapacityUnits, at.MinGuests, at.MaxGuests,
		at.NightlyRate.Amount, at.NightlyRate.Currency, at.Active,
		at.UpdatedAt, at.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTypeNotFound
	}
	return nil
}

func (p *PostgresStore) ListTypes(ctx context.Context, siteID string) ([]*AccommodationType, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+typeColumns+` FROM accommodation_types
		WHERE site_id = $1 ORDER BY created_at ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AccommodationType
	for rows.Next() {
		at, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, at)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountTypes(ctx context.Context, siteID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accommodation_types WHERE site_id = $1`, siteID).Scan(&count)
	return count, err
}

func (p *PostgresStore) SumUnits(ctx context.Context, siteID string) (int, error) {
	var sum int
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(capacity_units), 0) FROM accommodation_types WHERE site_id = $1`,
		siteID).Scan(&sum)
	return sum, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(row scanner) (*Site, error) {
	s := &Site{}
	var status string
	var collector, customer sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.Slug, &s.OperatorEmail,
		&collector, &customer, &status, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	if collector.Valid {
		s.CollectorID = collector.String
	}
	if customer.Valid {
		s.CustomerID = customer.String
	}
	return s, nil
}

func scanType(row scanner) (*AccommodationType, error) {
	at := &AccommodationType{}
	err := row.Scan(&at.ID, &at.SiteID, &at.Name, &at.CapacityUnits,
		&at.MinGuests, &at.MaxGuests, &at.NightlyRate.Amount, &at.NightlyRate.Currency,
		&at.Active, &at.CreatedAt, &at.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTypeNotFound
	}
	if err != nil {
		return nil, err
	}
	return at, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
