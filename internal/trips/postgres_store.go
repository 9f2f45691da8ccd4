package trips

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed trip store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tripColumns = `id, load_id, offer_id, shipper_company_id, hauler_company_id,
	driver_id, vehicle_ref, status, started_at, delivered_at, confirmed_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, trip *Trip) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO trips (load_id, offer_id, shipper_company_id, hauler_company_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		trip.LoadID, trip.OfferID, trip.ShipperCompanyID, trip.HaulerCompanyID, trip.Status,
	).Scan(&trip.ID, &trip.CreatedAt, &trip.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Trip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	return scanTrip(row)
}

func (s *PostgresStore) GetByLoad(ctx context.Context, loadID int64) (*Trip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE load_id = $1`, loadID)
	return scanTrip(row)
}

func (s *PostgresStore) Update(ctx context.Context, trip *Trip) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE trips
		SET driver_id = $2, vehicle_ref = NULLIF($3, ''), status = $4,
			started_at = $5, delivered_at = $6, confirmed_at = $7, updated_at = NOW()
		WHERE id = $1`,
		trip.ID, trip.DriverID, trip.VehicleRef, trip.Status,
		trip.StartedAt, trip.DeliveredAt, trip.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTrip(row *sql.Row) (*Trip, error) {
	var trip Trip
	var vehicleRef sql.NullString
	err := row.Scan(
		&trip.ID, &trip.LoadID, &trip.OfferID, &trip.ShipperCompanyID, &trip.HaulerCompanyID,
		&trip.DriverID, &vehicleRef, &trip.Status,
		&trip.StartedAt, &trip.DeliveredAt, &trip.ConfirmedAt,
		&trip.CreatedAt, &trip.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trip: %w", err)
	}
	trip.VehicleRef = vehicleRef.String
	return &trip, nil
}
