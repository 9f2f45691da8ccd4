package trips

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/loads"
	"github.com/stockhaul/stockhaul/internal/payments"
)

var (
	shipper = identity.Identity{UserID: 1, CompanyID: 10, Role: identity.RoleShipper}
	hauler  = identity.Identity{UserID: 2, CompanyID: 20, Role: identity.RoleHauler}
	driver  = identity.Identity{UserID: 3, CompanyID: 21, Role: identity.RoleDriver}
	admin   = identity.Identity{UserID: 99, CompanyID: 1, Role: identity.RoleAdmin}
)

type fixture struct {
	trips    *Service
	payments *payments.Service
	loads    loads.Store
	trip     *Trip
	payment  *payments.Payment
}

// newFixture builds a trip in pending_escrow with its load and payment, the
// state an accepted offer leaves behind.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	loadStore := loads.NewMemoryStore()
	load := &loads.Load{
		ShipperCompanyID: shipper.CompanyID,
		Status:           loads.StatusAwaitingEscrow,
		Currency:         "USD",
		AskingAmount:     300_000,
	}
	require.NoError(t, loadStore.Create(ctx, load))

	paymentSvc := payments.NewService(payments.NewMemoryStore(), payments.NewProvider("sandbox", "whsec_test"), time.Hour)
	tripSvc := NewService(NewMemoryStore(), loadStore, paymentSvc)
	paymentSvc.WithTrips(tripSvc)

	trip, err := tripSvc.SpawnForAcceptedOffer(ctx, load.ID, 41, shipper.CompanyID, hauler.CompanyID)
	require.NoError(t, err)
	payment, err := paymentSvc.OpenForTrip(ctx, trip.ID, shipper.CompanyID, hauler.CompanyID, 300_000, "USD")
	require.NoError(t, err)

	return &fixture{trips: tripSvc, payments: paymentSvc, loads: loadStore, trip: trip, payment: payment}
}

func (f *fixture) fund(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	intent, err := f.payments.CreateFundingIntent(ctx, shipper, f.trip.ID)
	require.NoError(t, err)
	_, err = f.payments.HandleProviderEvent(ctx, intent.IntentID, payments.EventPaymentSucceeded, "ch_test")
	require.NoError(t, err)
}

func TestStart_BlockedUntilFunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.trips.Start(ctx, hauler, f.trip.ID)
	assert.ErrorIs(t, err, payments.ErrEscrowNotFunded)

	f.fund(t)

	started, err := f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	load, err := f.loads.Get(ctx, f.trip.LoadID)
	require.NoError(t, err)
	assert.Equal(t, loads.StatusInTransit, load.Status)
}

func TestFunding_AdvancesTripToReady(t *testing.T) {
	f := newFixture(t)
	f.fund(t)

	trip, err := f.trips.Get(context.Background(), hauler, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyToStart, trip.Status)
}

func TestStart_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t)

	outsider := identity.Identity{UserID: 7, CompanyID: 999, Role: identity.RoleHauler}
	_, err := f.trips.Start(ctx, outsider, f.trip.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// The assigned driver may start even from a different company id.
	_, err = f.trips.AssignDriver(ctx, hauler, f.trip.ID, driver.UserID)
	require.NoError(t, err)
	started, err := f.trips.Start(ctx, driver, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
}

func TestAssignDriver_OnlyBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.trips.AssignDriver(ctx, shipper, f.trip.ID, driver.UserID)
	assert.ErrorIs(t, err, ErrForbidden)

	assigned, err := f.trips.AssignDriver(ctx, hauler, f.trip.ID, driver.UserID)
	require.NoError(t, err)
	require.NotNil(t, assigned.DriverID)
	assert.Equal(t, driver.UserID, *assigned.DriverID)

	assigned, err = f.trips.AssignVehicle(ctx, hauler, f.trip.ID, "TRK-114")
	require.NoError(t, err)
	assert.Equal(t, "TRK-114", assigned.VehicleRef)

	f.fund(t)
	_, err = f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)

	_, err = f.trips.AssignDriver(ctx, hauler, f.trip.ID, 12)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.trips.AssignVehicle(ctx, hauler, f.trip.ID, "TRK-115")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMarkDelivered_ShipperCannot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t)
	_, err := f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)

	_, err = f.trips.MarkDelivered(ctx, shipper, f.trip.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	delivered, err := f.trips.MarkDelivered(ctx, hauler, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeliveredAwaiting, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	load, err := f.loads.Get(ctx, f.trip.LoadID)
	require.NoError(t, err)
	assert.Equal(t, loads.StatusDelivered, load.Status)
}

func TestConfirmDelivery_ArmsAutoRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t)
	_, err := f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)
	_, err = f.trips.MarkDelivered(ctx, hauler, f.trip.ID)
	require.NoError(t, err)

	// Only the shipper confirms.
	_, err = f.trips.ConfirmDelivery(ctx, hauler, f.trip.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	confirmed, err := f.trips.ConfirmDelivery(ctx, shipper, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeliveredConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	payment, err := f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, payment.AutoReleaseAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *payment.AutoReleaseAt, time.Minute)

	// Confirming twice is rejected.
	_, err = f.trips.ConfirmDelivery(ctx, shipper, f.trip.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

// pausingTripStore pauses the delivery-confirmation write until the resume
// channel closes, so a concurrent settlement can take the payment lock first.
type pausingTripStore struct {
	Store
	confirming chan struct{}
	resume     chan struct{}
}

func (s *pausingTripStore) Update(ctx context.Context, trip *Trip) error {
	if trip.Status == StatusDeliveredConfirmed {
		close(s.confirming)
		<-s.resume
	}
	return s.Store.Update(ctx, trip)
}

// signalPaymentStore closes gotLock on the first under-lock read after arm,
// marking the moment the settlement path holds the payment lock.
type signalPaymentStore struct {
	payments.Store
	armed   atomic.Bool
	gotLock chan struct{}
}

func (s *signalPaymentStore) Get(ctx context.Context, id int64) (*payments.Payment, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.gotLock)
	}
	return s.Store.Get(ctx, id)
}

// TestConfirmDelivery_ConcurrentForceRelease pins the interleaving where an
// admin force-release acquires the payment lock while the confirmation still
// holds the trip lock. Both calls must finish: confirmation never takes the
// payment lock inside the trip lock, the settlement closes the trip, and the
// late arm is rejected by the status guard.
func TestConfirmDelivery_ConcurrentForceRelease(t *testing.T) {
	ctx := context.Background()

	loadStore := loads.NewMemoryStore()
	load := &loads.Load{ShipperCompanyID: shipper.CompanyID, Status: loads.StatusAwaitingEscrow, Currency: "USD", AskingAmount: 300_000}
	require.NoError(t, loadStore.Create(ctx, load))

	releaseHasLock := make(chan struct{})
	tripStore := &pausingTripStore{Store: NewMemoryStore(), confirming: make(chan struct{}), resume: releaseHasLock}
	payStore := &signalPaymentStore{Store: payments.NewMemoryStore(), gotLock: releaseHasLock}

	paymentSvc := payments.NewService(payStore, payments.NewProvider("sandbox", "whsec_test"), time.Hour)
	tripSvc := NewService(tripStore, loadStore, paymentSvc)
	paymentSvc.WithTrips(tripSvc)

	trip, err := tripSvc.SpawnForAcceptedOffer(ctx, load.ID, 41, shipper.CompanyID, hauler.CompanyID)
	require.NoError(t, err)
	payment, err := paymentSvc.OpenForTrip(ctx, trip.ID, shipper.CompanyID, hauler.CompanyID, 300_000, "USD")
	require.NoError(t, err)
	intent, err := paymentSvc.CreateFundingIntent(ctx, shipper, trip.ID)
	require.NoError(t, err)
	_, err = paymentSvc.HandleProviderEvent(ctx, intent.IntentID, payments.EventPaymentSucceeded, "ch_test")
	require.NoError(t, err)
	_, err = tripSvc.Start(ctx, hauler, trip.ID)
	require.NoError(t, err)
	_, err = tripSvc.MarkDelivered(ctx, hauler, trip.ID)
	require.NoError(t, err)

	confirmDone := make(chan error, 1)
	go func() {
		_, err := tripSvc.ConfirmDelivery(ctx, shipper, trip.ID)
		confirmDone <- err
	}()

	<-tripStore.confirming
	payStore.armed.Store(true)
	releaseDone := make(chan error, 1)
	go func() {
		_, err := paymentSvc.ForceRelease(ctx, admin, payment.ID)
		releaseDone <- err
	}()

	deadline := time.After(3 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case err := <-confirmDone:
			require.NoError(t, err)
			confirmDone = nil
		case err := <-releaseDone:
			require.NoError(t, err)
			releaseDone = nil
		case <-deadline:
			t.Fatal("confirm-delivery and force-release blocked on each other's locks")
		}
	}

	settled, err := paymentSvc.Get(ctx, admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusReleased, settled.Status)
	assert.Nil(t, settled.AutoReleaseAt)

	closed, err := tripSvc.Get(ctx, shipper, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
}

func TestMarkReady_ReplaySafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t)
	_, err := f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)

	// A redelivered funding webhook must not regress an in-progress trip.
	require.NoError(t, f.trips.MarkReady(ctx, f.trip.ID))
	trip, err := f.trips.Get(ctx, admin, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, trip.Status)
}

func TestCloseCompleted_CompletesLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t)
	_, err := f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)
	_, err = f.trips.MarkDelivered(ctx, hauler, f.trip.ID)
	require.NoError(t, err)
	_, err = f.trips.ConfirmDelivery(ctx, shipper, f.trip.ID)
	require.NoError(t, err)

	require.NoError(t, f.trips.CloseCompleted(ctx, f.trip.ID))

	trip, err := f.trips.Get(ctx, shipper, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, trip.Status)

	load, err := f.loads.Get(ctx, f.trip.LoadID)
	require.NoError(t, err)
	assert.Equal(t, loads.StatusCompleted, load.Status)

	// Idempotent.
	require.NoError(t, f.trips.CloseCompleted(ctx, f.trip.ID))
}

func TestCloseCompleted_RejectsPrematureClose(t *testing.T) {
	f := newFixture(t)
	err := f.trips.CloseCompleted(context.Background(), f.trip.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMarkDisputedAndReinstate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t)
	_, err := f.trips.Start(ctx, hauler, f.trip.ID)
	require.NoError(t, err)

	// Too early: nothing delivered yet.
	err = f.trips.MarkDisputed(ctx, f.trip.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.trips.MarkDelivered(ctx, hauler, f.trip.ID)
	require.NoError(t, err)

	require.NoError(t, f.trips.MarkDisputed(ctx, f.trip.ID))

	trip, err := f.trips.Get(ctx, shipper, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, trip.Status)

	// Reinstating a never-confirmed trip settles it as confirmed.
	require.NoError(t, f.trips.Reinstate(ctx, f.trip.ID))
	trip, err = f.trips.Get(ctx, shipper, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeliveredConfirmed, trip.Status)
	require.NotNil(t, trip.ConfirmedAt)
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, caller := range []identity.Identity{shipper, hauler, admin} {
		_, err := f.trips.Get(ctx, caller, f.trip.ID)
		assert.NoError(t, err)
	}

	outsider := identity.Identity{UserID: 8, CompanyID: 777, Role: identity.RoleShipper}
	_, err := f.trips.Get(ctx, outsider, f.trip.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.trips.Get(ctx, admin, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}
