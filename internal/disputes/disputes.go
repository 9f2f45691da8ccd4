// Package disputes lets either party contest a delivery while the money is
// still in escrow, freezing the auto-release countdown until an admin
// adjudicates or the opener backs down.
//
// At most one active dispute exists per payment. Opening clears the
// auto-release deadline before the dispute record is written, so the sweep
// can never race a fresh dispute into a release.
package disputes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockhaul/stockhaul/internal/events"
	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
	"github.com/stockhaul/stockhaul/internal/payments"
	"github.com/stockhaul/stockhaul/internal/syncutil"
	"github.com/stockhaul/stockhaul/internal/trips"
)

var (
	ErrNotFound      = errors.New("dispute not found")
	ErrAlreadyOpen   = errors.New("an active dispute already exists for this payment")
	ErrInvalidStatus = errors.New("invalid dispute status for this operation")
	ErrForbidden     = errors.New("not authorized for this dispute operation")
	ErrBadOutcome    = errors.New("unknown resolution outcome")
)

// Status represents the state of a dispute.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusCancelled   Status = "cancelled"
)

// Outcome is an adjudication result.
type Outcome string

const (
	OutcomeRelease Outcome = "release_to_hauler"
	OutcomeRefund  Outcome = "refund_to_shipper"
	OutcomeSplit   Outcome = "split"
)

// Dispute is a contested delivery awaiting adjudication.
type Dispute struct {
	ID                int64      `json:"id"`
	PaymentID         int64      `json:"paymentId"`
	TripID            int64      `json:"tripId"`
	LoadID            int64      `json:"loadId"`
	OpenedByCompanyID int64      `json:"openedByCompanyId"`
	OpenedByUserID    int64      `json:"openedByUserId"`
	ReasonCode        string     `json:"reasonCode"`
	Description       string     `json:"description,omitempty"`
	// RequestedAction is the outcome the opener asks for; adjudication is
	// free to decide otherwise.
	RequestedAction   string     `json:"requestedAction,omitempty"`
	Status            Status     `json:"status"`
	Outcome           *Outcome   `json:"outcome,omitempty"`
	AmountToHauler    *int64     `json:"amountToHauler,omitempty"`
	AmountToShipper   *int64     `json:"amountToShipper,omitempty"`
	ResolvedByUserID  *int64     `json:"resolvedByUserId,omitempty"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Active reports whether the dispute still blocks release.
func (d *Dispute) Active() bool {
	return d.Status == StatusOpen || d.Status == StatusUnderReview
}

// Store persists dispute data.
type Store interface {
	Create(ctx context.Context, dispute *Dispute) error
	Get(ctx context.Context, id int64) (*Dispute, error)
	Update(ctx context.Context, dispute *Dispute) error
	// GetActiveByPayment returns the payment's open or under-review dispute,
	// or ErrNotFound.
	GetActiveByPayment(ctx context.Context, paymentID int64) (*Dispute, error)
}

// Service implements dispute business logic.
type Service struct {
	store    Store
	trips    *trips.Service
	payments *payments.Service
	bus      *events.Bus
	// locks serializes dispute mutations per payment, enforcing the
	// one-active-dispute rule against concurrent opens.
	locks syncutil.ShardedMutex
}

// NewService creates a new dispute service.
func NewService(store Store, tripService *trips.Service, paymentService *payments.Service) *Service {
	return &Service{
		store:    store,
		trips:    tripService,
		payments: paymentService,
	}
}

// WithEvents wires the pipeline event bus.
func (s *Service) WithEvents(b *events.Bus) *Service {
	s.bus = b
	return s
}

// HasBlockingDispute implements payments.DisputeChecker.
func (s *Service) HasBlockingDispute(ctx context.Context, paymentID int64) (bool, error) {
	_, err := s.store.GetActiveByPayment(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OpenParams carries the opener's grievance.
type OpenParams struct {
	ReasonCode      string
	Description     string
	RequestedAction string
}

// Open raises a dispute against a trip's escrow. Either party may open one
// after the hauler claims delivery, as long as the escrow has not settled.
// The auto-release countdown stops before the dispute record exists.
func (s *Service) Open(ctx context.Context, caller identity.Identity, tripID int64, params OpenParams) (*Dispute, error) {
	trip, err := s.trips.Lookup(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !identity.CanOpenDispute(caller, trip.ShipperCompanyID, trip.HaulerCompanyID) {
		return nil, ErrForbidden
	}
	if trip.Status != trips.StatusDeliveredAwaiting && trip.Status != trips.StatusDeliveredConfirmed {
		return nil, trips.ErrInvalidStatus
	}

	payment, err := s.payments.ForTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockID(payment.ID)
	defer unlock()

	if _, err := s.store.GetActiveByPayment(ctx, payment.ID); err == nil {
		return nil, ErrAlreadyOpen
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	payment, err = s.payments.ForTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	hadDeadline := payment.AutoReleaseAt != nil

	// Freeze the money first. Fails if the escrow already settled or was
	// never funded, which also means there is nothing left to dispute.
	if _, err := s.payments.HaltAutoRelease(ctx, payment.ID); err != nil {
		return nil, err
	}

	if err := s.trips.MarkDisputed(ctx, tripID); err != nil {
		// The trip raced out of a disputable state. Undo the freeze, but
		// only if a countdown was actually running before.
		if hadDeadline {
			if _, resumeErr := s.payments.ResumeAutoRelease(ctx, payment.ID); resumeErr != nil {
				logging.L(ctx).Error("failed to restore auto-release after aborted dispute",
					"paymentId", payment.ID, "error", resumeErr)
			}
		}
		return nil, err
	}

	dispute := &Dispute{
		PaymentID:         payment.ID,
		TripID:            trip.ID,
		LoadID:            trip.LoadID,
		OpenedByCompanyID: caller.CompanyID,
		OpenedByUserID:    caller.UserID,
		ReasonCode:        params.ReasonCode,
		Description:       params.Description,
		RequestedAction:   params.RequestedAction,
		Status:            StatusOpen,
	}
	if err := s.store.Create(ctx, dispute); err != nil {
		return nil, fmt.Errorf("create dispute: %w", err)
	}
	metrics.DisputesTotal.WithLabelValues(string(StatusOpen)).Inc()

	logging.L(ctx).Info("dispute opened",
		"disputeId", dispute.ID, "paymentId", payment.ID, "tripId", trip.ID,
		"openedByCompanyId", caller.CompanyID)
	s.publish(ctx, events.DisputeOpened, dispute, trip)
	return dispute, nil
}

// Get returns a dispute visible to the caller: either party on the trip, or
// an admin.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id int64) (*Dispute, error) {
	dispute, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	trip, err := s.trips.Lookup(ctx, dispute.TripID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.ActsFor(trip.ShipperCompanyID) && !caller.ActsFor(trip.HaulerCompanyID) {
		return nil, ErrForbidden
	}
	return dispute, nil
}

// StartReview moves an open dispute under admin review. Cancellation is no
// longer possible after this point.
func (s *Service) StartReview(ctx context.Context, caller identity.Identity, disputeID int64) (*Dispute, error) {
	if !identity.CanAdjudicate(caller) {
		return nil, ErrForbidden
	}

	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockID(dispute.PaymentID)
	defer unlock()

	dispute, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != StatusOpen {
		return nil, ErrInvalidStatus
	}

	dispute.Status = StatusUnderReview
	if err := s.store.Update(ctx, dispute); err != nil {
		return nil, fmt.Errorf("start review: %w", err)
	}
	metrics.DisputesTotal.WithLabelValues(string(StatusUnderReview)).Inc()
	return dispute, nil
}

// Resolve adjudicates a dispute under review and settles the escrow
// accordingly. Split outcomes carry the two amounts, which must sum exactly
// to the payment amount.
func (s *Service) Resolve(ctx context.Context, caller identity.Identity, disputeID int64, outcome Outcome, toHauler, toShipper int64) (*Dispute, error) {
	if !identity.CanAdjudicate(caller) {
		return nil, ErrForbidden
	}

	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockID(dispute.PaymentID)
	defer unlock()

	dispute, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != StatusUnderReview {
		return nil, ErrInvalidStatus
	}

	switch outcome {
	case OutcomeRelease:
		_, err = s.payments.ResolveRelease(ctx, dispute.PaymentID)
	case OutcomeRefund:
		_, err = s.payments.ResolveRefund(ctx, dispute.PaymentID)
	case OutcomeSplit:
		_, err = s.payments.ResolveSplit(ctx, dispute.PaymentID, toHauler, toShipper)
	default:
		return nil, ErrBadOutcome
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dispute.Status = StatusResolved
	dispute.Outcome = &outcome
	dispute.ResolvedByUserID = &caller.UserID
	dispute.ResolvedAt = &now
	if outcome == OutcomeSplit {
		dispute.AmountToHauler = &toHauler
		dispute.AmountToShipper = &toShipper
	}
	if err := s.store.Update(ctx, dispute); err != nil {
		return nil, fmt.Errorf("resolve dispute: %w", err)
	}
	metrics.DisputesTotal.WithLabelValues(string(StatusResolved)).Inc()

	trip, lookupErr := s.trips.Lookup(ctx, dispute.TripID)
	if lookupErr == nil {
		logging.L(ctx).Info("dispute resolved",
			"disputeId", dispute.ID, "paymentId", dispute.PaymentID,
			"outcome", outcome, "adminUserId", caller.UserID)
		s.publish(ctx, events.DisputeResolved, dispute, trip)
	}
	return dispute, nil
}

// Cancel withdraws an open dispute. Only the opener's company (or an admin)
// may cancel, and only before review starts. The trip settles at
// delivered-confirmed and the auto-release countdown restarts from a full
// hold window.
func (s *Service) Cancel(ctx context.Context, caller identity.Identity, disputeID int64) (*Dispute, error) {
	dispute, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockID(dispute.PaymentID)
	defer unlock()

	dispute, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !identity.CanCancelDispute(caller, dispute.OpenedByCompanyID) {
		return nil, ErrForbidden
	}
	if dispute.Status != StatusOpen {
		return nil, ErrInvalidStatus
	}

	dispute.Status = StatusCancelled
	if err := s.store.Update(ctx, dispute); err != nil {
		return nil, fmt.Errorf("cancel dispute: %w", err)
	}
	metrics.DisputesTotal.WithLabelValues(string(StatusCancelled)).Inc()

	if err := s.trips.Reinstate(ctx, dispute.TripID); err != nil {
		logging.L(ctx).Error("failed to reinstate trip after dispute cancellation",
			"disputeId", dispute.ID, "tripId", dispute.TripID, "error", err)
	}
	if _, err := s.payments.ResumeAutoRelease(ctx, dispute.PaymentID); err != nil {
		logging.L(ctx).Error("failed to resume auto-release after dispute cancellation",
			"disputeId", dispute.ID, "paymentId", dispute.PaymentID, "error", err)
	}

	trip, lookupErr := s.trips.Lookup(ctx, dispute.TripID)
	if lookupErr == nil {
		s.publish(ctx, events.DisputeCancelled, dispute, trip)
	}
	return dispute, nil
}

func (s *Service) publish(ctx context.Context, eventType events.Type, dispute *Dispute, trip *trips.Trip) {
	s.bus.Publish(ctx, eventType,
		[]int64{trip.ShipperCompanyID, trip.HaulerCompanyID},
		map[string]any{"disputeId": dispute.ID, "paymentId": dispute.PaymentID, "tripId": dispute.TripID, "status": dispute.Status})
}
