// Package trips tracks the physical execution of an awarded load, from
// escrow funding through delivery confirmation to closure.
//
// A trip is spawned when an offer is accepted and advances through a strict
// state machine. The funding gate is the one cross-cutting rule: wheels do
// not turn until the escrow is funded.
package trips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockhaul/stockhaul/internal/events"
	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/loads"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
	"github.com/stockhaul/stockhaul/internal/payments"
	"github.com/stockhaul/stockhaul/internal/syncutil"
)

var (
	ErrNotFound      = errors.New("trip not found")
	ErrInvalidStatus = errors.New("invalid trip status for this operation")
	ErrForbidden     = errors.New("not authorized for this trip operation")
)

// Status represents the state of a trip.
type Status string

const (
	StatusPendingEscrow      Status = "pending_escrow"
	StatusReadyToStart       Status = "ready_to_start"
	StatusInProgress         Status = "in_progress"
	StatusDeliveredAwaiting  Status = "delivered_awaiting_confirmation"
	StatusDeliveredConfirmed Status = "delivered_confirmed"
	StatusDisputed           Status = "disputed"
	StatusClosed             Status = "closed"
)

// Trip is the execution record for an awarded load.
type Trip struct {
	ID               int64      `json:"id"`
	LoadID           int64      `json:"loadId"`
	OfferID          int64      `json:"offerId"`
	ShipperCompanyID int64      `json:"shipperCompanyId"`
	HaulerCompanyID  int64      `json:"haulerCompanyId"`
	DriverID         *int64     `json:"driverId,omitempty"`
	VehicleRef       string     `json:"vehicleRef,omitempty"`
	Status           Status     `json:"status"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Store persists trip data.
type Store interface {
	Create(ctx context.Context, trip *Trip) error
	Get(ctx context.Context, id int64) (*Trip, error)
	GetByLoad(ctx context.Context, loadID int64) (*Trip, error)
	Update(ctx context.Context, trip *Trip) error
}

// Service implements trip business logic.
type Service struct {
	store    Store
	loads    loads.Store
	payments *payments.Service
	bus      *events.Bus
	locks    syncutil.ShardedMutex
}

// NewService creates a new trip service.
func NewService(store Store, loadStore loads.Store, paymentService *payments.Service) *Service {
	return &Service{
		store:    store,
		loads:    loadStore,
		payments: paymentService,
	}
}

// WithEvents wires the pipeline event bus.
func (s *Service) WithEvents(b *events.Bus) *Service {
	s.bus = b
	return s
}

// SpawnForAcceptedOffer creates the trip record at offer acceptance.
// Called only from the offer-accept operation, under its per-load lock.
func (s *Service) SpawnForAcceptedOffer(ctx context.Context, loadID, offerID, shipperCompanyID, haulerCompanyID int64) (*Trip, error) {
	trip := &Trip{
		LoadID:           loadID,
		OfferID:          offerID,
		ShipperCompanyID: shipperCompanyID,
		HaulerCompanyID:  haulerCompanyID,
		Status:           StatusPendingEscrow,
	}
	if err := s.store.Create(ctx, trip); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusPendingEscrow)).Inc()
	return trip, nil
}

// Get returns a trip visible to the caller.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id int64) (*Trip, error) {
	trip, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.ActsFor(trip.ShipperCompanyID) && !caller.ActsFor(trip.HaulerCompanyID) {
		return nil, ErrForbidden
	}
	return trip, nil
}

// Lookup fetches a trip without a visibility check. For trusted in-process
// collaborators (the dispute engine), not for handlers.
func (s *Service) Lookup(ctx context.Context, id int64) (*Trip, error) {
	return s.store.Get(ctx, id)
}

// AssignDriver sets the driver on a trip that has not started. Hauler
// company only. Reassignment before start is allowed.
func (s *Service) AssignDriver(ctx context.Context, caller identity.Identity, tripID, driverID int64) (*Trip, error) {
	return s.assign(ctx, caller, tripID, func(trip *Trip) {
		trip.DriverID = &driverID
	})
}

// AssignVehicle sets the vehicle on a trip that has not started, under the
// same rules as driver assignment.
func (s *Service) AssignVehicle(ctx context.Context, caller identity.Identity, tripID int64, vehicleRef string) (*Trip, error) {
	return s.assign(ctx, caller, tripID, func(trip *Trip) {
		trip.VehicleRef = vehicleRef
	})
}

func (s *Service) assign(ctx context.Context, caller identity.Identity, tripID int64, apply func(*Trip)) (*Trip, error) {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !identity.CanManageTrip(caller, trip.HaulerCompanyID) {
		return nil, ErrForbidden
	}
	if trip.Status != StatusPendingEscrow && trip.Status != StatusReadyToStart {
		return nil, ErrInvalidStatus
	}

	apply(trip)
	if err := s.store.Update(ctx, trip); err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}
	return trip, nil
}

// Start puts a trip in progress. The escrow must be funded; a trip still
// pending escrow, or whose funding was somehow reversed, cannot start.
func (s *Service) Start(ctx context.Context, caller identity.Identity, tripID int64) (*Trip, error) {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !identity.CanStartTrip(caller, trip.HaulerCompanyID, trip.ShipperCompanyID, trip.DriverID) {
		return nil, ErrForbidden
	}
	if trip.Status == StatusPendingEscrow {
		return nil, payments.ErrEscrowNotFunded
	}
	if trip.Status != StatusReadyToStart {
		return nil, ErrInvalidStatus
	}

	funded, err := s.payments.EscrowFunded(ctx, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("check escrow: %w", err)
	}
	if !funded {
		return nil, payments.ErrEscrowNotFunded
	}

	now := time.Now().UTC()
	trip.Status = StatusInProgress
	trip.StartedAt = &now
	if err := s.store.Update(ctx, trip); err != nil {
		return nil, fmt.Errorf("start trip: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusInProgress)).Inc()

	if err := s.setLoadStatus(ctx, trip.LoadID, loads.StatusInTransit); err != nil {
		logging.L(ctx).Error("failed to move load in transit", "tripId", trip.ID, "loadId", trip.LoadID, "error", err)
	}
	s.publish(ctx, events.TripStarted, trip)
	return trip, nil
}

// MarkDelivered records the hauler's delivery claim.
func (s *Service) MarkDelivered(ctx context.Context, caller identity.Identity, tripID int64) (*Trip, error) {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !identity.CanMarkDelivered(caller, trip.HaulerCompanyID, trip.DriverID) {
		return nil, ErrForbidden
	}
	if trip.Status != StatusInProgress {
		return nil, ErrInvalidStatus
	}

	now := time.Now().UTC()
	trip.Status = StatusDeliveredAwaiting
	trip.DeliveredAt = &now
	if err := s.store.Update(ctx, trip); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusDeliveredAwaiting)).Inc()

	if err := s.setLoadStatus(ctx, trip.LoadID, loads.StatusDelivered); err != nil {
		logging.L(ctx).Error("failed to move load to delivered", "tripId", trip.ID, "loadId", trip.LoadID, "error", err)
	}
	s.publish(ctx, events.TripDelivered, trip)
	return trip, nil
}

// ConfirmDelivery records the shipper's acceptance of the delivery and arms
// the auto-release countdown on the escrow.
//
// The countdown is armed after the per-trip lock is released: settlement
// closes the trip while holding the per-payment lock, so the payment lock is
// never taken inside the trip lock. ArmForTrip re-reads and status-guards
// under its own lock.
func (s *Service) ConfirmDelivery(ctx context.Context, caller identity.Identity, tripID int64) (*Trip, error) {
	trip, err := s.confirmDelivery(ctx, caller, tripID)
	if err != nil {
		return nil, err
	}

	if _, err := s.payments.ArmForTrip(ctx, trip.ID); err != nil {
		// The trip is confirmed but the countdown is not armed; the escrow
		// waits for a dispute resolution or an admin force op.
		logging.L(ctx).Error("CRITICAL: failed to arm auto-release after confirmation",
			"tripId", trip.ID, "error", err)
	}
	s.publish(ctx, events.TripConfirmed, trip)
	return trip, nil
}

// confirmDelivery performs the trip-side confirmation under the per-trip lock.
func (s *Service) confirmDelivery(ctx context.Context, caller identity.Identity, tripID int64) (*Trip, error) {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !identity.CanConfirmDelivery(caller, trip.ShipperCompanyID) {
		return nil, ErrForbidden
	}
	if trip.Status != StatusDeliveredAwaiting {
		return nil, ErrInvalidStatus
	}

	funded, err := s.payments.EscrowFunded(ctx, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("check escrow: %w", err)
	}
	if !funded {
		return nil, payments.ErrEscrowNotFunded
	}

	now := time.Now().UTC()
	trip.Status = StatusDeliveredConfirmed
	trip.ConfirmedAt = &now
	if err := s.store.Update(ctx, trip); err != nil {
		return nil, fmt.Errorf("confirm delivery: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusDeliveredConfirmed)).Inc()
	return trip, nil
}

// MarkReady advances a trip from pending escrow once funding lands.
// A no-op if the trip already moved on (webhook replay). Implements
// payments.TripControl.
func (s *Service) MarkReady(ctx context.Context, tripID int64) error {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Status != StatusPendingEscrow {
		return nil
	}

	trip.Status = StatusReadyToStart
	if err := s.store.Update(ctx, trip); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusReadyToStart)).Inc()
	return nil
}

// CloseCompleted closes the trip and completes its load after the escrow
// settles. Valid from delivered-confirmed or disputed (a dispute resolution
// settles the escrow directly). Implements payments.TripControl.
func (s *Service) CloseCompleted(ctx context.Context, tripID int64) error {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Status == StatusClosed {
		return nil
	}
	if trip.Status != StatusDeliveredConfirmed && trip.Status != StatusDisputed {
		return ErrInvalidStatus
	}

	trip.Status = StatusClosed
	if err := s.store.Update(ctx, trip); err != nil {
		return fmt.Errorf("close trip: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusClosed)).Inc()

	if err := s.setLoadStatus(ctx, trip.LoadID, loads.StatusCompleted); err != nil {
		logging.L(ctx).Error("failed to complete load", "tripId", trip.ID, "loadId", trip.LoadID, "error", err)
	}
	s.publish(ctx, events.TripClosed, trip)
	return nil
}

// MarkDisputed flags the trip while a dispute is open. Only a delivered trip
// can be disputed.
func (s *Service) MarkDisputed(ctx context.Context, tripID int64) error {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Status != StatusDeliveredAwaiting && trip.Status != StatusDeliveredConfirmed {
		return ErrInvalidStatus
	}

	trip.Status = StatusDisputed
	if err := s.store.Update(ctx, trip); err != nil {
		return fmt.Errorf("mark disputed: %w", err)
	}
	metrics.TripsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	return nil
}

// Reinstate returns a disputed trip to delivered-confirmed after the dispute
// is withdrawn. Backing out of a dispute stands as acceptance of the delivery.
func (s *Service) Reinstate(ctx context.Context, tripID int64) error {
	unlock := s.locks.LockID(tripID)
	defer unlock()

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Status != StatusDisputed {
		return ErrInvalidStatus
	}

	now := time.Now().UTC()
	trip.Status = StatusDeliveredConfirmed
	if trip.ConfirmedAt == nil {
		trip.ConfirmedAt = &now
	}
	if err := s.store.Update(ctx, trip); err != nil {
		return fmt.Errorf("reinstate trip: %w", err)
	}
	return nil
}

func (s *Service) setLoadStatus(ctx context.Context, loadID int64, status loads.Status) error {
	load, err := s.loads.Get(ctx, loadID)
	if err != nil {
		return err
	}
	load.Status = status
	return s.loads.Update(ctx, load)
}

func (s *Service) publish(ctx context.Context, eventType events.Type, trip *Trip) {
	s.bus.Publish(ctx, eventType,
		[]int64{trip.ShipperCompanyID, trip.HaulerCompanyID},
		map[string]any{"tripId": trip.ID, "loadId": trip.LoadID, "status": trip.Status})
}
