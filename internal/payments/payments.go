// Package payments implements the escrow payment controller.
//
// Flow:
//  1. Offer accepted → Payment created awaiting funding
//  2. Shipper requests a funding intent → provider collects the money
//  3. Provider webhook confirms funding → escrow funded, trip may start
//  4. Delivery confirmed → auto-release timer armed
//  5. Timer elapses with no open dispute → released to the hauler
//
// Disputes halt the timer; resolution or admin force ops settle the escrow.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockhaul/stockhaul/internal/events"
	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
	"github.com/stockhaul/stockhaul/internal/syncutil"
)

var (
	ErrNotFound        = errors.New("payment not found")
	ErrInvalidStatus   = errors.New("invalid payment status for this operation")
	ErrForbidden       = errors.New("not authorized for this payment operation")
	ErrEscrowNotFunded = errors.New("escrow is not funded")
	ErrSplitMismatch   = errors.New("split amounts must sum to the payment amount")
	ErrUnknownIntent   = errors.New("unknown payment intent")
)

// Status represents the state of an escrow payment.
type Status string

const (
	StatusAwaitingFunding Status = "awaiting_funding"
	StatusEscrowFunded    Status = "escrow_funded"
	StatusReleased        Status = "released_to_hauler"
	StatusRefunded        Status = "refunded_to_shipper"
	StatusSplit           Status = "split_between_parties"
	StatusCancelled       Status = "cancelled"
)

// Provider webhook event names.
const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
)

// Payment is the monetary record for a trip, 1:1 with the accepted offer.
type Payment struct {
	ID                   int64      `json:"id"`
	TripID               int64      `json:"tripId"`
	PayerCompanyID       int64      `json:"payerCompanyId"`       // shipper
	BeneficiaryCompanyID int64      `json:"beneficiaryCompanyId"` // hauler
	Amount               int64      `json:"amount"`               // minor units
	Currency             string     `json:"currency"`
	Status               Status     `json:"status"`
	IsEscrow             bool       `json:"isEscrow"`
	AutoReleaseAt        *time.Time `json:"autoReleaseAt,omitempty"`
	ExternalProvider     string     `json:"externalProvider"`
	ExternalIntentID     string     `json:"externalIntentId,omitempty"`
	ExternalChargeID     string     `json:"externalChargeId,omitempty"`
	AmountToHauler       *int64     `json:"resolutionAmountToHauler,omitempty"`
	AmountToShipper      *int64     `json:"resolutionAmountToShipper,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the payment is in a final state.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case StatusReleased, StatusRefunded, StatusSplit, StatusCancelled:
		return true
	}
	return false
}

// Store persists payment data.
type Store interface {
	Create(ctx context.Context, payment *Payment) error
	Get(ctx context.Context, id int64) (*Payment, error)
	GetByTrip(ctx context.Context, tripID int64) (*Payment, error)
	GetByIntent(ctx context.Context, intentID string) (*Payment, error)
	Update(ctx context.Context, payment *Payment) error
	// ListDueForRelease returns funded payments whose auto-release deadline
	// is before the given time.
	ListDueForRelease(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}

// TripControl abstracts the trip transitions the controller drives, so
// payments doesn't import trips (trips imports payments for the funding gate).
type TripControl interface {
	// MarkReady advances a trip awaiting escrow to ready-to-start.
	// A no-op if the trip already moved on.
	MarkReady(ctx context.Context, tripID int64) error
	// CloseCompleted closes the trip and completes its load after the
	// escrow reaches a terminal resolution.
	CloseCompleted(ctx context.Context, tripID int64) error
}

// DisputeChecker reports whether a payment has a dispute blocking release.
type DisputeChecker interface {
	HasBlockingDispute(ctx context.Context, paymentID int64) (bool, error)
}

// Service implements escrow payment business logic.
type Service struct {
	store      Store
	provider   *Provider
	holdWindow time.Duration
	trips      TripControl
	disputes   DisputeChecker
	bus        *events.Bus
	locks      syncutil.ShardedMutex
}

// NewService creates a new payment service.
func NewService(store Store, provider *Provider, holdWindow time.Duration) *Service {
	if holdWindow <= 0 {
		holdWindow = 24 * time.Hour
	}
	return &Service{
		store:      store,
		provider:   provider,
		holdWindow: holdWindow,
	}
}

// WithTrips wires the trip transitions driven by funding and release.
func (s *Service) WithTrips(t TripControl) *Service {
	s.trips = t
	return s
}

// WithDisputes wires the dispute check consulted before any release.
func (s *Service) WithDisputes(d DisputeChecker) *Service {
	s.disputes = d
	return s
}

// WithEvents wires the pipeline event bus.
func (s *Service) WithEvents(b *events.Bus) *Service {
	s.bus = b
	return s
}

// HoldWindow returns the configured delivery-confirmation hold window.
func (s *Service) HoldWindow() time.Duration {
	return s.holdWindow
}

// OpenForTrip creates the escrow payment record at offer acceptance.
// Called only from the offer-accept operation, under its per-load lock.
func (s *Service) OpenForTrip(ctx context.Context, tripID, payerCompanyID, beneficiaryCompanyID, amount int64, currency string) (*Payment, error) {
	payment := &Payment{
		TripID:               tripID,
		PayerCompanyID:       payerCompanyID,
		BeneficiaryCompanyID: beneficiaryCompanyID,
		Amount:               amount,
		Currency:             currency,
		Status:               StatusAwaitingFunding,
		IsEscrow:             true,
		ExternalProvider:     s.provider.Name(),
	}
	if err := s.store.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(StatusAwaitingFunding)).Inc()
	return payment, nil
}

// Get returns a payment visible to the caller.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id int64) (*Payment, error) {
	payment, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !identity.CanViewPayment(caller, payment.PayerCompanyID, payment.BeneficiaryCompanyID) {
		return nil, ErrForbidden
	}
	return payment, nil
}

// ForTrip fetches a trip's payment without a visibility check. For trusted
// in-process collaborators (the dispute engine), not for handlers.
func (s *Service) ForTrip(ctx context.Context, tripID int64) (*Payment, error) {
	return s.store.GetByTrip(ctx, tripID)
}

// FundingIntent is the provider handle returned to the paying shipper.
type FundingIntent struct {
	PaymentID    int64  `json:"paymentId"`
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
}

// CreateFundingIntent issues (or re-issues) the provider funding intent for a
// trip's payment. Idempotent: an existing intent id is reused. The payment
// status does not change here; the provider webhook is the completion signal.
func (s *Service) CreateFundingIntent(ctx context.Context, caller identity.Identity, tripID int64) (*FundingIntent, error) {
	payment, err := s.store.GetByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockID(payment.ID)
	defer unlock()

	payment, err = s.store.Get(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if !identity.CanCreateFundingIntent(caller, payment.PayerCompanyID) {
		return nil, ErrForbidden
	}
	if payment.Status != StatusAwaitingFunding {
		return nil, ErrInvalidStatus
	}

	if payment.ExternalIntentID == "" {
		payment.ExternalIntentID = s.provider.MintIntentID()
		if err := s.store.Update(ctx, payment); err != nil {
			return nil, fmt.Errorf("persist funding intent: %w", err)
		}
	}

	return &FundingIntent{
		PaymentID:    payment.ID,
		IntentID:     payment.ExternalIntentID,
		ClientSecret: s.provider.ClientSecret(payment.ExternalIntentID),
	}, nil
}

// HandleProviderEvent processes a provider webhook delivery. Transitions are
// status-guarded so redelivery of the same event is a no-op. An unknown
// intent id returns ErrUnknownIntent, which the webhook endpoint acknowledges
// rather than erroring (stale or duplicate delivery).
func (s *Service) HandleProviderEvent(ctx context.Context, intentID, event, chargeID string) (*Payment, error) {
	payment, err := s.store.GetByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownIntent
		}
		return nil, err
	}

	unlock := s.locks.LockID(payment.ID)
	defer unlock()

	payment, err = s.store.Get(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	switch event {
	case EventPaymentSucceeded:
		if payment.Status != StatusAwaitingFunding {
			return payment, nil // replay
		}
		payment.Status = StatusEscrowFunded
		payment.ExternalChargeID = chargeID
		if err := s.store.Update(ctx, payment); err != nil {
			return nil, fmt.Errorf("persist funding: %w", err)
		}
		metrics.PaymentsTotal.WithLabelValues(string(StatusEscrowFunded)).Inc()

		if s.trips != nil {
			if err := s.trips.MarkReady(ctx, payment.TripID); err != nil {
				logging.L(ctx).Error("failed to advance trip after funding",
					"paymentId", payment.ID, "tripId", payment.TripID, "error", err)
			}
		}
		s.bus.Publish(ctx, events.PaymentFunded,
			[]int64{payment.PayerCompanyID, payment.BeneficiaryCompanyID},
			map[string]any{"paymentId": payment.ID, "tripId": payment.TripID, "amount": payment.Amount})

	case EventPaymentFailed:
		// Funding never happened; the payment stays awaiting funding so the
		// shipper can retry with a fresh charge. A failure event arriving
		// after a success is stale and ignored.
		if payment.Status != StatusAwaitingFunding {
			return payment, nil
		}
		payment.ExternalChargeID = ""
		if err := s.store.Update(ctx, payment); err != nil {
			return nil, fmt.Errorf("persist funding failure: %w", err)
		}

	default:
		logging.L(ctx).Warn("ignoring unrecognized provider event", "event", event, "intentId", intentID)
	}

	return payment, nil
}

// ArmForTrip arms the auto-release timer on a funded payment after delivery
// confirmation. Returns ErrEscrowNotFunded if the escrow is not funded.
func (s *Service) ArmForTrip(ctx context.Context, tripID int64) (*Payment, error) {
	payment, err := s.store.GetByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.LockID(payment.ID)
	defer unlock()

	payment, err = s.store.Get(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowFunded {
		return nil, ErrEscrowNotFunded
	}

	at := time.Now().Add(s.holdWindow)
	payment.AutoReleaseAt = &at
	if err := s.store.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("arm auto-release: %w", err)
	}
	return payment, nil
}

// EscrowFunded reports whether a trip's payment is escrow-funded.
func (s *Service) EscrowFunded(ctx context.Context, tripID int64) (bool, error) {
	payment, err := s.store.GetByTrip(ctx, tripID)
	if err != nil {
		return false, err
	}
	return payment.Status == StatusEscrowFunded, nil
}

// HaltAutoRelease clears the auto-release timer while a dispute is open.
// Returns the funded payment, or ErrEscrowNotFunded if the escrow already
// settled (a dispute can no longer be raised against it).
func (s *Service) HaltAutoRelease(ctx context.Context, paymentID int64) (*Payment, error) {
	unlock := s.locks.LockID(paymentID)
	defer unlock()

	payment, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowFunded {
		return nil, ErrEscrowNotFunded
	}

	if payment.AutoReleaseAt != nil {
		payment.AutoReleaseAt = nil
		if err := s.store.Update(ctx, payment); err != nil {
			return nil, fmt.Errorf("halt auto-release: %w", err)
		}
	}
	return payment, nil
}

// ResumeAutoRelease re-arms the timer after a dispute cancellation, counting
// the hold window from now.
func (s *Service) ResumeAutoRelease(ctx context.Context, paymentID int64) (*Payment, error) {
	unlock := s.locks.LockID(paymentID)
	defer unlock()

	payment, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowFunded {
		return payment, nil
	}

	at := time.Now().Add(s.holdWindow)
	payment.AutoReleaseAt = &at
	if err := s.store.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("resume auto-release: %w", err)
	}
	return payment, nil
}

// ReleaseDue runs one auto-release sweep pass: every funded payment whose
// hold window elapsed and which has no open or under-review dispute is
// released to the hauler. Safe to run repeatedly and concurrently; the
// status guard and the under-lock re-read make each release happen at most
// once. Returns the ids of the payments released.
func (s *Service) ReleaseDue(ctx context.Context) ([]int64, error) {
	due, err := s.store.ListDueForRelease(ctx, time.Now(), 100)
	if err != nil {
		return nil, fmt.Errorf("list due payments: %w", err)
	}

	var released []int64
	for _, candidate := range due {
		ok, err := s.releaseOne(ctx, candidate.ID)
		if err != nil {
			logging.L(ctx).Warn("auto-release failed", "paymentId", candidate.ID, "error", err)
			continue
		}
		if ok {
			released = append(released, candidate.ID)
		}
	}
	return released, nil
}

// releaseOne releases a single due payment. Returns false when the payment
// turned out not to be eligible after the under-lock re-read.
func (s *Service) releaseOne(ctx context.Context, paymentID int64) (bool, error) {
	unlock := s.locks.LockID(paymentID)
	defer unlock()

	// Re-read under lock: a dispute may have opened, or a concurrent sweep
	// may have released, since the candidate list was built.
	payment, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if payment.Status != StatusEscrowFunded || payment.AutoReleaseAt == nil || payment.AutoReleaseAt.After(time.Now()) {
		return false, nil
	}
	if s.disputes != nil {
		blocked, err := s.disputes.HasBlockingDispute(ctx, payment.ID)
		if err != nil {
			return false, fmt.Errorf("dispute check: %w", err)
		}
		if blocked {
			return false, nil
		}
	}

	if err := s.settle(ctx, payment, StatusReleased, nil, nil); err != nil {
		return false, err
	}
	metrics.AutoReleasedTotal.Inc()
	logging.L(ctx).Info("auto-released escrow payment",
		"paymentId", payment.ID, "tripId", payment.TripID,
		"beneficiaryCompanyId", payment.BeneficiaryCompanyID, "amount", payment.Amount)
	return true, nil
}

// ForceRelease settles a funded escrow to the hauler, bypassing the timer.
// Admin-only manual intervention.
func (s *Service) ForceRelease(ctx context.Context, caller identity.Identity, paymentID int64) (*Payment, error) {
	return s.force(ctx, caller, paymentID, StatusReleased)
}

// ForceRefund settles a funded escrow back to the shipper, bypassing the timer.
// Admin-only manual intervention.
func (s *Service) ForceRefund(ctx context.Context, caller identity.Identity, paymentID int64) (*Payment, error) {
	return s.force(ctx, caller, paymentID, StatusRefunded)
}

func (s *Service) force(ctx context.Context, caller identity.Identity, paymentID int64, to Status) (*Payment, error) {
	if !identity.CanAdjudicate(caller) {
		return nil, ErrForbidden
	}

	unlock := s.locks.LockID(paymentID)
	defer unlock()

	payment, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowFunded {
		return nil, ErrInvalidStatus
	}

	if err := s.settle(ctx, payment, to, nil, nil); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("escrow payment force-settled",
		"paymentId", payment.ID, "status", payment.Status, "adminUserId", caller.UserID)
	return payment, nil
}

// ResolveRelease settles the escrow to the hauler as a dispute outcome.
// Authorization was checked by the dispute engine.
func (s *Service) ResolveRelease(ctx context.Context, paymentID int64) (*Payment, error) {
	return s.resolve(ctx, paymentID, StatusReleased, nil, nil)
}

// ResolveRefund settles the escrow back to the shipper as a dispute outcome.
func (s *Service) ResolveRefund(ctx context.Context, paymentID int64) (*Payment, error) {
	return s.resolve(ctx, paymentID, StatusRefunded, nil, nil)
}

// ResolveSplit settles the escrow between the parties. The two amounts must
// sum exactly to the payment amount; no rounding tolerance.
func (s *Service) ResolveSplit(ctx context.Context, paymentID, toHauler, toShipper int64) (*Payment, error) {
	if toHauler < 0 || toShipper < 0 {
		return nil, ErrSplitMismatch
	}
	return s.resolve(ctx, paymentID, StatusSplit, &toHauler, &toShipper)
}

func (s *Service) resolve(ctx context.Context, paymentID int64, to Status, toHauler, toShipper *int64) (*Payment, error) {
	unlock := s.locks.LockID(paymentID)
	defer unlock()

	payment, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowFunded {
		return nil, ErrInvalidStatus
	}
	if to == StatusSplit && (toHauler == nil || toShipper == nil || *toHauler+*toShipper != payment.Amount) {
		return nil, ErrSplitMismatch
	}

	if err := s.settle(ctx, payment, to, toHauler, toShipper); err != nil {
		return nil, err
	}
	return payment, nil
}

// settle applies a terminal status, clears the timer, records split amounts,
// and closes the trip and load. Callers hold the per-payment lock and have
// verified the escrow_funded guard.
func (s *Service) settle(ctx context.Context, payment *Payment, to Status, toHauler, toShipper *int64) error {
	payment.Status = to
	payment.AutoReleaseAt = nil
	payment.AmountToHauler = toHauler
	payment.AmountToShipper = toShipper
	if err := s.store.Update(ctx, payment); err != nil {
		return fmt.Errorf("persist settlement: %w", err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(to)).Inc()

	if s.trips != nil {
		if err := s.trips.CloseCompleted(ctx, payment.TripID); err != nil {
			logging.L(ctx).Error("failed to close trip after settlement",
				"paymentId", payment.ID, "tripId", payment.TripID, "error", err)
		}
	}

	parties := []int64{payment.PayerCompanyID, payment.BeneficiaryCompanyID}
	data := map[string]any{"paymentId": payment.ID, "tripId": payment.TripID, "amount": payment.Amount}
	switch to {
	case StatusReleased:
		s.bus.Publish(ctx, events.PaymentReleased, parties, data)
	case StatusRefunded:
		s.bus.Publish(ctx, events.PaymentRefunded, parties, data)
	case StatusSplit:
		data["amountToHauler"] = *toHauler
		data["amountToShipper"] = *toShipper
		s.bus.Publish(ctx, events.PaymentSplit, parties, data)
	}
	return nil
}
