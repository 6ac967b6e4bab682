package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
)

const endpointColumns = `id, site_id, url, secret, events, active, created_at, last_success, last_error, consecutive_failures`

// PostgresStore persists webhook endpoints in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, ep *Endpoint) error {
	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, site_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ep.ID, ep.SiteID, ep.URL, ep.Secret, eventsJSON, ep.Active, ep.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints WHERE id = $1
	`, id)
	return scanEndpoint(row)
}

func (p *PostgresStore) GetBySite(ctx context.Context, siteID string) ([]*Endpoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints WHERE site_id = $1 ORDER BY created_at DESC
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEndpoints(rows)
}

func (p *PostgresStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Endpoint, error) {
	// json.Marshal safely encodes the event type for the JSONB containment query
	eventsJSON, _ := json.Marshal([]string{string(eventType)})

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE active = TRUE AND events @> $1::jsonb
	`, string(eventsJSON))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEndpoints(rows)
}

func (p *PostgresStore) Update(ctx context.Context, ep *Endpoint) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET
			active = $1,
			last_success = $2,
			last_error = $3,
			consecutive_failures = $4
		WHERE id = $5
	`, ep.Active, ep.LastSuccess, ep.LastError, ep.ConsecutiveFailures, ep.ID)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEndpoint(sc rowScanner) (*Endpoint, error) {
	ep := &Endpoint{}
	var eventsJSON []byte
	var lastSuccess sql.NullTime
	var lastError sql.NullString

	err := sc.Scan(
		&ep.ID, &ep.SiteID, &ep.URL, &ep.Secret, &eventsJSON,
		&ep.Active, &ep.CreatedAt, &lastSuccess, &lastError, &ep.ConsecutiveFailures,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		ep.LastSuccess = &lastSuccess.Time
	}
	ep.LastError = lastError.String

	return ep, nil
}

func scanEndpoints(rows *sql.Rows) ([]*Endpoint, error) {
	var eps []*Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}
