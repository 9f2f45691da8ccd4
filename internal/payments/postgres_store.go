package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is a PostgreSQL-backed payment store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, trip_id, payer_company_id, beneficiary_company_id, amount, currency,
	status, is_escrow, auto_release_at, external_provider, external_intent_id, external_charge_id,
	amount_to_hauler, amount_to_shipper, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, payment *Payment) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payments (trip_id, payer_company_id, beneficiary_company_id, amount, currency,
			status, is_escrow, external_provider, external_intent_id, external_charge_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		RETURNING id, created_at, updated_at`,
		payment.TripID, payment.PayerCompanyID, payment.BeneficiaryCompanyID,
		payment.Amount, payment.Currency, payment.Status, payment.IsEscrow,
		payment.ExternalProvider, payment.ExternalIntentID, payment.ExternalChargeID,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *PostgresStore) GetByTrip(ctx context.Context, tripID int64) (*Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE trip_id = $1`, tripID)
	return scanPayment(row)
}

func (s *PostgresStore) GetByIntent(ctx context.Context, intentID string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_intent_id = $1`, intentID)
	return scanPayment(row)
}

func (s *PostgresStore) Update(ctx context.Context, payment *Payment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, auto_release_at = $3,
			external_intent_id = NULLIF($4, ''), external_charge_id = NULLIF($5, ''),
			amount_to_hauler = $6, amount_to_shipper = $7, updated_at = NOW()
		WHERE id = $1`,
		payment.ID, payment.Status, payment.AutoReleaseAt,
		payment.ExternalIntentID, payment.ExternalChargeID,
		payment.AmountToHauler, payment.AmountToShipper)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDueForRelease(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND auto_release_at IS NOT NULL AND auto_release_at < $2
		ORDER BY auto_release_at ASC
		LIMIT $3`,
		StatusEscrowFunded, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list due payments: %w", err)
	}
	defer rows.Close()

	var due []*Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, payment)
	}
	return due, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	var payment Payment
	var intentID, chargeID sql.NullString
	err := row.Scan(
		&payment.ID, &payment.TripID, &payment.PayerCompanyID, &payment.BeneficiaryCompanyID,
		&payment.Amount, &payment.Currency, &payment.Status, &payment.IsEscrow,
		&payment.AutoReleaseAt, &payment.ExternalProvider, &intentID, &chargeID,
		&payment.AmountToHauler, &payment.AmountToShipper,
		&payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	payment.ExternalIntentID = intentID.String
	payment.ExternalChargeID = chargeID.String
	return &payment, nil
}
