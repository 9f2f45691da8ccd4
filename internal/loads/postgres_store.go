package loads

import (
	"context"
	"database/sql"
)

// PostgresStore persists loads in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed load store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const loadColumns = `id, shipper_company_id, status, currency, asking_amount,
	       awarded_offer_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Load) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO loads (shipper_company_id, status, currency, asking_amount, awarded_offer_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		l.ShipperCompanyID, string(l.Status), l.Currency, l.AskingAmount, l.AwardedOfferID,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Load, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+loadColumns+` FROM loads WHERE id = $1`, id)

	var l Load
	var status string
	err := row.Scan(&l.ID, &l.ShipperCompanyID, &status, &l.Currency, &l.AskingAmount,
		&l.AwardedOfferID, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Status = Status(status)
	return &l, nil
}

func (p *PostgresStore) Update(ctx context.Context, l *Load) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE loads SET status = $1, awarded_offer_id = $2, updated_at = NOW()
		WHERE id = $3`,
		string(l.Status), l.AwardedOfferID, l.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
