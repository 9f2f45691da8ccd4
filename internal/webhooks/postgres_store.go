package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is a PostgreSQL-backed subscription store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subColumns = `id, company_id, url, secret, events, active, created_at`

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_subscriptions (company_id, url, secret, events, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		sub.CompanyID, sub.URL, sub.Secret, pq.Array(sub.Events), sub.Active,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	return scanSub(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByCompany(ctx context.Context, companyID int64) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE company_id = $1 ORDER BY id ASC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	return collectSubs(rows)
}

func (s *PostgresStore) ListActiveForCompanies(ctx context.Context, companyIDs []int64) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE active AND company_id = ANY($1) ORDER BY id ASC`, pq.Array(companyIDs))
	if err != nil {
		return nil, fmt.Errorf("list active webhook subscriptions: %w", err)
	}
	return collectSubs(rows)
}

func collectSubs(rows *sql.Rows) ([]*Subscription, error) {
	defer rows.Close()
	var result []*Subscription
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSub(row rowScanner) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.CompanyID, &sub.URL, &sub.Secret,
		pq.Array(&sub.Events), &sub.Active, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook subscription: %w", err)
	}
	return &sub, nil
}
