// Package offers manages hauler bids on published loads.
//
// Acceptance is the pivot of the whole pipeline: in one atomic step the
// winning offer is locked in, every competing offer expires, the trip and
// escrow payment come into existence, and the load leaves the marketplace.
// A per-load lock serializes accept against competing accepts, withdrawals
// and rejections.
package offers

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
	"github.com/stockhaul/stockhaul/internal/trips"
)

var (
	ErrNotFound         = errors.New("offer not found")
	ErrInvalidStatus    = errors.New("invalid offer status for this operation")
	ErrForbidden        = errors.New("not authorized for this offer operation")
	ErrSelfBid          = errors.New("cannot bid on your own company's load")
	ErrInvalidAmount    = errors.New("offer amount must be positive")
	ErrCurrencyMismatch = errors.New("offer currency must match the load currency")
	ErrLoadNotOpen      = errors.New("load is not open for offers")
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWithdrawn Status = "withdrawn"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusAccepted  Status = "accepted"
)

// Offer is a hauler company's bid to carry a load.
type Offer struct {
	ID              int64      `json:"id"`
	LoadID          int64      `json:"loadId"`
	HaulerCompanyID int64      `json:"haulerCompanyId"`
	CreatedByUserID int64      `json:"createdByUserId"`
	Amount          int64      `json:"amount"` // minor units
	Currency        string     `json:"currency"`
	Message         string     `json:"message,omitempty"`
	Status          Status     `json:"status"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	AcceptedAt      *time.Time `json:"acceptedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Store persists offer data.
type Store interface {
	Create(ctx context.Context, offer *Offer) error
	Get(ctx context.Context, id int64) (*Offer, error)
	Update(ctx context.Context, offer *Offer) error
	// ListByLoad returns a load's offers in insertion order. A non-nil
	// haulerCompanyID restricts the listing to that company's offers.
	ListByLoad(ctx context.Context, loadID int64, haulerCompanyID *int64, afterID int64, limit int) ([]*Offer, error)
	// ExpirePendingSiblings expires every pending offer on the load except
	// the given one, returning how many were expired.
	ExpirePendingSiblings(ctx context.Context, loadID, exceptID int64) (int, error)
}

// AcceptResult is everything offer acceptance brings into existence.
type AcceptResult struct {
	Offer   *Offer            `json:"offer"`
	Trip    *trips.Trip       `json:"trip"`
	Payment *payments.Payment `json:"payment"`
}

// Service implements offer business logic.
type Service struct {
	store    Store
	loads    loads.Store
	trips    *trips.Service
	payments *payments.Service
	bus      *events.Bus
	// loadLocks serializes every offer mutation per load, so accept is
	// atomic against competing accepts, withdrawals and rejections.
	loadLocks syncutil.ShardedMutex
}

// NewService creates a new offer service.
func NewService(store Store, loadStore loads.Store, tripService *trips.Service, paymentService *payments.Service) *Service {
	return &Service{
		store:    store,
		loads:    loadStore,
		trips:    tripService,
		payments: paymentService,
	}
}

// WithEvents wires the pipeline event bus.
func (s *Service) WithEvents(b *events.Bus) *Service {
	s.bus = b
	return s
}

// CreateParams carries the hauler's bid. ExpiresAt is an optional deadline
// after which the offer can no longer be accepted.
type CreateParams struct {
	Amount    int64
	Currency  string
	Message   string
	ExpiresAt *time.Time
}

// Create places a new offer on a published load. Only haulers bid, and never
// on their own company's loads.
func (s *Service) Create(ctx context.Context, caller identity.Identity, loadID int64, params CreateParams) (*Offer, error) {
	load, err := s.loads.Get(ctx, loadID)
	if err != nil {
		return nil, err
	}
	if identity.IsSelfBid(caller, load.ShipperCompanyID) {
		return nil, ErrSelfBid
	}
	if !identity.CanCreateOffer(caller, load.ShipperCompanyID) {
		return nil, ErrForbidden
	}
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := params.Currency
	if currency == "" {
		currency = load.Currency
	}
	if currency != load.Currency {
		return nil, ErrCurrencyMismatch
	}

	unlock := s.loadLocks.LockID(loadID)
	defer unlock()

	// Re-read under lock: the load may have been awarded since the checks.
	load, err = s.loads.Get(ctx, loadID)
	if err != nil {
		return nil, err
	}
	if load.Status != loads.StatusPublished {
		return nil, ErrLoadNotOpen
	}

	offer := &Offer{
		LoadID:          loadID,
		HaulerCompanyID: caller.CompanyID,
		CreatedByUserID: caller.UserID,
		Amount:          params.Amount,
		Currency:        currency,
		Message:         params.Message,
		ExpiresAt:       params.ExpiresAt,
		Status:          StatusPending,
	}
	if err := s.store.Create(ctx, offer); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	metrics.OffersTotal.WithLabelValues(string(StatusPending)).Inc()

	s.bus.Publish(ctx, events.OfferCreated,
		[]int64{load.ShipperCompanyID, offer.HaulerCompanyID},
		map[string]any{"offerId": offer.ID, "loadId": loadID, "amount": params.Amount})
	return offer, nil
}

// Get returns an offer visible to the caller: the load's shipper, the
// bidding hauler company, or an admin.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id int64) (*Offer, error) {
	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	load, err := s.loads.Get(ctx, offer.LoadID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.ActsFor(load.ShipperCompanyID) && !caller.ActsFor(offer.HaulerCompanyID) {
		return nil, ErrForbidden
	}
	return offer, nil
}

// ListForLoad returns a load's offers in insertion order. The load's shipper
// and admins see every offer; a hauler sees only its own company's.
func (s *Service) ListForLoad(ctx context.Context, caller identity.Identity, loadID, afterID int64, limit int) ([]*Offer, error) {
	load, err := s.loads.Get(ctx, loadID)
	if err != nil {
		return nil, err
	}

	var companyFilter *int64
	if !identity.CanSeeAllOffers(caller, load.ShipperCompanyID) {
		companyFilter = &caller.CompanyID
	}
	return s.store.ListByLoad(ctx, loadID, companyFilter, afterID, limit)
}

// Withdraw retracts a pending offer. Hauler company only.
func (s *Service) Withdraw(ctx context.Context, caller identity.Identity, offerID int64) (*Offer, error) {
	return s.close(ctx, offerID, StatusWithdrawn, func(offer *Offer, load *loads.Load) bool {
		return identity.CanWithdrawOffer(caller, offer.HaulerCompanyID)
	})
}

// Reject declines a pending offer. Shipper company only.
func (s *Service) Reject(ctx context.Context, caller identity.Identity, offerID int64) (*Offer, error) {
	return s.close(ctx, offerID, StatusRejected, func(offer *Offer, load *loads.Load) bool {
		return identity.CanDecideOffer(caller, load.ShipperCompanyID)
	})
}

// close moves a pending offer to a terminal non-accepted status under the
// per-load lock, so it cannot race the accept of the same offer.
func (s *Service) close(ctx context.Context, offerID int64, to Status, allowed func(*Offer, *loads.Load) bool) (*Offer, error) {
	offer, err := s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	unlock := s.loadLocks.LockID(offer.LoadID)
	defer unlock()

	offer, err = s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	load, err := s.loads.Get(ctx, offer.LoadID)
	if err != nil {
		return nil, err
	}
	if !allowed(offer, load) {
		return nil, ErrForbidden
	}
	if offer.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	offer.Status = to
	if to == StatusRejected {
		now := time.Now().UTC()
		offer.RejectedAt = &now
	}
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("update offer: %w", err)
	}
	metrics.OffersTotal.WithLabelValues(string(to)).Inc()

	eventType := events.OfferWithdrawn
	if to == StatusRejected {
		eventType = events.OfferRejected
	}
	s.bus.Publish(ctx, eventType,
		[]int64{load.ShipperCompanyID, offer.HaulerCompanyID},
		map[string]any{"offerId": offer.ID, "loadId": offer.LoadID})
	return offer, nil
}

// Accept awards the load to the offer. One atomic step under the per-load
// lock: the offer is accepted, competing pending offers expire, the trip and
// its escrow payment are created, and the load is marked awaiting escrow.
// Exactly one accept can win; later attempts fail on the status guards.
func (s *Service) Accept(ctx context.Context, caller identity.Identity, offerID int64) (*AcceptResult, error) {
	offer, err := s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	unlock := s.loadLocks.LockID(offer.LoadID)
	defer unlock()

	offer, err = s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	load, err := s.loads.Get(ctx, offer.LoadID)
	if err != nil {
		return nil, err
	}
	if !identity.CanDecideOffer(caller, load.ShipperCompanyID) {
		return nil, ErrForbidden
	}
	if load.Status != loads.StatusPublished {
		return nil, ErrLoadNotOpen
	}
	if offer.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	now := time.Now().UTC()
	if offer.ExpiresAt != nil && offer.ExpiresAt.Before(now) {
		// A lapsed offer flips to expired, not accepted.
		offer.Status = StatusExpired
		if err := s.store.Update(ctx, offer); err != nil {
			return nil, fmt.Errorf("expire offer: %w", err)
		}
		metrics.OffersTotal.WithLabelValues(string(StatusExpired)).Inc()
		return nil, ErrInvalidStatus
	}

	offer.Status = StatusAccepted
	offer.AcceptedAt = &now
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("accept offer: %w", err)
	}
	metrics.OffersTotal.WithLabelValues(string(StatusAccepted)).Inc()

	expired, err := s.store.ExpirePendingSiblings(ctx, offer.LoadID, offer.ID)
	if err != nil {
		return nil, fmt.Errorf("expire sibling offers: %w", err)
	}

	trip, err := s.trips.SpawnForAcceptedOffer(ctx, load.ID, offer.ID, load.ShipperCompanyID, offer.HaulerCompanyID)
	if err != nil {
		return nil, fmt.Errorf("spawn trip: %w", err)
	}
	payment, err := s.payments.OpenForTrip(ctx, trip.ID, load.ShipperCompanyID, offer.HaulerCompanyID, offer.Amount, offer.Currency)
	if err != nil {
		return nil, fmt.Errorf("open payment: %w", err)
	}

	load.Status = loads.StatusAwaitingEscrow
	load.AwardedOfferID = &offer.ID
	if err := s.loads.Update(ctx, load); err != nil {
		return nil, fmt.Errorf("award load: %w", err)
	}

	logging.L(ctx).Info("offer accepted",
		"offerId", offer.ID, "loadId", load.ID, "tripId", trip.ID,
		"paymentId", payment.ID, "expiredSiblings", expired)
	s.bus.Publish(ctx, events.OfferAccepted,
		[]int64{load.ShipperCompanyID, offer.HaulerCompanyID},
		map[string]any{"offerId": offer.ID, "loadId": load.ID, "tripId": trip.ID, "paymentId": payment.ID})

	return &AcceptResult{Offer: offer, Trip: trip, Payment: payment}, nil
}
