package disputes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed dispute store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, payment_id, trip_id, load_id, opened_by_company_id, opened_by_user_id,
	reason_code, description, requested_action, status,
	outcome, amount_to_hauler, amount_to_shipper,
	resolved_by_user_id, resolved_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, dispute *Dispute) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO disputes (payment_id, trip_id, load_id, opened_by_company_id, opened_by_user_id,
			reason_code, description, requested_action, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		dispute.PaymentID, dispute.TripID, dispute.LoadID,
		dispute.OpenedByCompanyID, dispute.OpenedByUserID,
		dispute.ReasonCode, dispute.Description, dispute.RequestedAction,
		dispute.Status,
	).Scan(&dispute.ID, &dispute.CreatedAt, &dispute.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

func (s *PostgresStore) Update(ctx context.Context, dispute *Dispute) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $2, outcome = $3, amount_to_hauler = $4, amount_to_shipper = $5,
			resolved_by_user_id = $6, resolved_at = $7, updated_at = NOW()
		WHERE id = $1`,
		dispute.ID, dispute.Status, dispute.Outcome,
		dispute.AmountToHauler, dispute.AmountToShipper,
		dispute.ResolvedByUserID, dispute.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetActiveByPayment(ctx context.Context, paymentID int64) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE payment_id = $1 AND status IN ($2, $3)
		ORDER BY id DESC
		LIMIT 1`,
		paymentID, StatusOpen, StatusUnderReview)
	return scanDispute(row)
}

func scanDispute(row *sql.Row) (*Dispute, error) {
	var dispute Dispute
	var outcome sql.NullString
	err := row.Scan(
		&dispute.ID, &dispute.PaymentID, &dispute.TripID, &dispute.LoadID,
		&dispute.OpenedByCompanyID, &dispute.OpenedByUserID,
		&dispute.ReasonCode, &dispute.Description, &dispute.RequestedAction,
		&dispute.Status,
		&outcome, &dispute.AmountToHauler, &dispute.AmountToShipper,
		&dispute.ResolvedByUserID, &dispute.ResolvedAt,
		&dispute.CreatedAt, &dispute.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	if outcome.Valid {
		v := Outcome(outcome.String)
		dispute.Outcome = &v
	}
	return &dispute, nil
}
