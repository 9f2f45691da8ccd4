package offers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed offer store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, load_id, hauler_company_id, created_by_user_id, amount, currency, message, status, expires_at, accepted_at, rejected_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, offer *Offer) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO offers (load_id, hauler_company_id, created_by_user_id, amount, currency, message, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		offer.LoadID, offer.HaulerCompanyID, offer.CreatedByUserID,
		offer.Amount, offer.Currency, offer.Message, offer.Status, offer.ExpiresAt,
	).Scan(&offer.ID, &offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Offer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	offer, err := scanOffer(row)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (s *PostgresStore) Update(ctx context.Context, offer *Offer) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = $2, accepted_at = $3, rejected_at = $4, updated_at = NOW()
		WHERE id = $1`,
		offer.ID, offer.Status, offer.AcceptedAt, offer.RejectedAt)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByLoad(ctx context.Context, loadID int64, haulerCompanyID *int64, afterID int64, limit int) ([]*Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE load_id = $1 AND id > $2 AND ($3::bigint IS NULL OR hauler_company_id = $3)
		ORDER BY id ASC
		LIMIT $4`,
		loadID, afterID, haulerCompanyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var result []*Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, offer)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ExpirePendingSiblings(ctx context.Context, loadID, exceptID int64) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status = $3, updated_at = NOW()
		WHERE load_id = $1 AND id <> $2 AND status = $4`,
		loadID, exceptID, StatusExpired, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("expire sibling offers: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sibling offers: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*Offer, error) {
	var offer Offer
	err := row.Scan(
		&offer.ID, &offer.LoadID, &offer.HaulerCompanyID, &offer.CreatedByUserID,
		&offer.Amount, &offer.Currency, &offer.Message, &offer.Status,
		&offer.ExpiresAt, &offer.AcceptedAt, &offer.RejectedAt,
		&offer.CreatedAt, &offer.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	return &offer, nil
}
