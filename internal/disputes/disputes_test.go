package disputes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/loads"
	"github.com/stockhaul/stockhaul/internal/payments"
	"github.com/stockhaul/stockhaul/internal/trips"
)

var (
	shipper = identity.Identity{UserID: 1, CompanyID: 10, Role: identity.RoleShipper}
	hauler  = identity.Identity{UserID: 2, CompanyID: 20, Role: identity.RoleHauler}
	admin   = identity.Identity{UserID: 99, CompanyID: 1, Role: identity.RoleAdmin}
)

type fixture struct {
	disputes *Service
	trips    *trips.Service
	payments *payments.Service
	loads    loads.Store
	trip     *trips.Trip
	payment  *payments.Payment
}

// newFixture wires the full pipeline and drives it to a funded, delivered
// trip, one step short of confirmation.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	loadStore := loads.NewMemoryStore()
	load := &loads.Load{
		ShipperCompanyID: shipper.CompanyID,
		Status:           loads.StatusAwaitingEscrow,
		Currency:         "USD",
		AskingAmount:     200_000,
	}
	require.NoError(t, loadStore.Create(ctx, load))

	paymentSvc := payments.NewService(payments.NewMemoryStore(), payments.NewProvider("sandbox", "whsec_test"), time.Hour)
	tripSvc := trips.NewService(trips.NewMemoryStore(), loadStore, paymentSvc)
	disputeSvc := NewService(NewMemoryStore(), tripSvc, paymentSvc)
	paymentSvc.WithTrips(tripSvc).WithDisputes(disputeSvc)

	trip, err := tripSvc.SpawnForAcceptedOffer(ctx, load.ID, 51, shipper.CompanyID, hauler.CompanyID)
	require.NoError(t, err)
	payment, err := paymentSvc.OpenForTrip(ctx, trip.ID, shipper.CompanyID, hauler.CompanyID, 200_000, "USD")
	require.NoError(t, err)

	intent, err := paymentSvc.CreateFundingIntent(ctx, shipper, trip.ID)
	require.NoError(t, err)
	_, err = paymentSvc.HandleProviderEvent(ctx, intent.IntentID, payments.EventPaymentSucceeded, "ch_test")
	require.NoError(t, err)
	_, err = tripSvc.Start(ctx, hauler, trip.ID)
	require.NoError(t, err)
	_, err = tripSvc.MarkDelivered(ctx, hauler, trip.ID)
	require.NoError(t, err)

	return &fixture{disputes: disputeSvc, trips: tripSvc, payments: paymentSvc, loads: loadStore, trip: trip, payment: payment}
}

func (f *fixture) confirm(t *testing.T) {
	t.Helper()
	_, err := f.trips.ConfirmDelivery(context.Background(), shipper, f.trip.ID)
	require.NoError(t, err)
}

func TestOpen_FreezesAutoRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)

	payment, err := f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, payment.AutoReleaseAt)

	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "two animals injured on arrival"})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, dispute.Status)
	assert.Equal(t, "two animals injured on arrival", dispute.ReasonCode)
	assert.Equal(t, shipper.CompanyID, dispute.OpenedByCompanyID)

	payment, err = f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	assert.Nil(t, payment.AutoReleaseAt)

	trip, err := f.trips.Lookup(ctx, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trips.StatusDisputed, trip.Status)

	// The sweep finds nothing to release.
	released, err := f.payments.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestOpen_EitherPartyMayOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The hauler can dispute an unconfirmed delivery (shipper going silent).
	dispute, err := f.disputes.Open(ctx, hauler, f.trip.ID, OpenParams{ReasonCode: "shipper not confirming delivery"})
	require.NoError(t, err)
	assert.Equal(t, hauler.CompanyID, dispute.OpenedByCompanyID)

	outsider := identity.Identity{UserID: 5, CompanyID: 555, Role: identity.RoleShipper}
	_, err = f.disputes.Open(ctx, outsider, f.trip.ID, OpenParams{ReasonCode: "none of my business"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOpen_OneActiveDisputePerPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)

	_, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "first"})
	require.NoError(t, err)
	_, err = f.disputes.Open(ctx, hauler, f.trip.ID, OpenParams{ReasonCode: "second"})
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestOpen_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			caller := shipper
			if n%2 == 0 {
				caller = hauler
			}
			_, errs[n] = f.disputes.Open(ctx, caller, f.trip.ID, OpenParams{ReasonCode: "race"})
		}(i)
	}
	wg.Wait()

	opened := 0
	for _, err := range errs {
		if err == nil {
			opened++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyOpen)
		}
	}
	assert.Equal(t, 1, opened)
}

func TestOpen_RejectedBeforeDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Walk a second pipeline only as far as in_progress.
	load := &loads.Load{ShipperCompanyID: shipper.CompanyID, Status: loads.StatusAwaitingEscrow, Currency: "USD", AskingAmount: 100}
	require.NoError(t, f.loads.Create(ctx, load))
	trip, err := f.trips.SpawnForAcceptedOffer(ctx, load.ID, 52, shipper.CompanyID, hauler.CompanyID)
	require.NoError(t, err)
	_, err = f.payments.OpenForTrip(ctx, trip.ID, shipper.CompanyID, hauler.CompanyID, 100, "USD")
	require.NoError(t, err)
	intent, err := f.payments.CreateFundingIntent(ctx, shipper, trip.ID)
	require.NoError(t, err)
	_, err = f.payments.HandleProviderEvent(ctx, intent.IntentID, payments.EventPaymentSucceeded, "")
	require.NoError(t, err)
	_, err = f.trips.Start(ctx, hauler, trip.ID)
	require.NoError(t, err)

	_, err = f.disputes.Open(ctx, shipper, trip.ID, OpenParams{ReasonCode: "too early"})
	assert.ErrorIs(t, err, trips.ErrInvalidStatus)

	// The aborted open must not leave a frozen or armed timer behind.
	payment, err := f.payments.ForTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusEscrowFunded, payment.Status)
	assert.Nil(t, payment.AutoReleaseAt)
}

func TestOpen_RejectedAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)
	_, err := f.payments.ForceRelease(ctx, admin, f.payment.ID)
	require.NoError(t, err)

	_, err = f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "money already moved"})
	assert.Error(t, err)
}

func TestResolve_Split(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)
	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "partial damage"})
	require.NoError(t, err)

	// Resolution requires review first.
	_, err = f.disputes.Resolve(ctx, admin, dispute.ID, OutcomeSplit, 150_000, 50_000)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.disputes.StartReview(ctx, shipper, dispute.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.disputes.StartReview(ctx, admin, dispute.ID)
	require.NoError(t, err)

	// Amounts must sum exactly.
	_, err = f.disputes.Resolve(ctx, admin, dispute.ID, OutcomeSplit, 150_000, 49_999)
	assert.ErrorIs(t, err, payments.ErrSplitMismatch)

	resolved, err := f.disputes.Resolve(ctx, admin, dispute.ID, OutcomeSplit, 150_000, 50_000)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Outcome)
	assert.Equal(t, OutcomeSplit, *resolved.Outcome)
	require.NotNil(t, resolved.ResolvedByUserID)
	assert.Equal(t, admin.UserID, *resolved.ResolvedByUserID)

	payment, err := f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusSplit, payment.Status)

	trip, err := f.trips.Lookup(ctx, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trips.StatusClosed, trip.Status)

	load, err := f.loads.Get(ctx, f.trip.LoadID)
	require.NoError(t, err)
	assert.Equal(t, loads.StatusCompleted, load.Status)
}

func TestResolve_Refund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)
	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "wrong livestock delivered"})
	require.NoError(t, err)
	_, err = f.disputes.StartReview(ctx, admin, dispute.ID)
	require.NoError(t, err)

	_, err = f.disputes.Resolve(ctx, admin, dispute.ID, OutcomeRefund, 0, 0)
	require.NoError(t, err)

	payment, err := f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusRefunded, payment.Status)
}

func TestCancel_RestoresTimerAndTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)
	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "resolved offline"})
	require.NoError(t, err)

	// Only the opener's company or an admin can cancel.
	_, err = f.disputes.Cancel(ctx, hauler, dispute.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := f.disputes.Cancel(ctx, shipper, dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	trip, err := f.trips.Lookup(ctx, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trips.StatusDeliveredConfirmed, trip.Status)

	payment, err := f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, payment.AutoReleaseAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *payment.AutoReleaseAt, time.Minute)

	// A new dispute may now be opened.
	_, err = f.disputes.Open(ctx, hauler, f.trip.ID, OpenParams{ReasonCode: "second round"})
	assert.NoError(t, err)
}

func TestCancel_NotAfterReviewStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)
	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "under review"})
	require.NoError(t, err)
	_, err = f.disputes.StartReview(ctx, admin, dispute.ID)
	require.NoError(t, err)

	_, err = f.disputes.Cancel(ctx, shipper, dispute.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancel_UnconfirmedTripSettlesAsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dispute, err := f.disputes.Open(ctx, hauler, f.trip.ID, OpenParams{ReasonCode: "no confirmation"})
	require.NoError(t, err)

	_, err = f.disputes.Cancel(ctx, hauler, dispute.ID)
	require.NoError(t, err)

	// Backing out counts as acceptance of the delivery.
	trip, err := f.trips.Lookup(ctx, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trips.StatusDeliveredConfirmed, trip.Status)
	require.NotNil(t, trip.ConfirmedAt)

	payment, err := f.payments.Get(ctx, shipper, f.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, payment.AutoReleaseAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *payment.AutoReleaseAt, time.Minute)
}

func TestHasBlockingDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)

	blocked, err := f.disputes.HasBlockingDispute(ctx, f.payment.ID)
	require.NoError(t, err)
	assert.False(t, blocked)

	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "hold the money"})
	require.NoError(t, err)

	blocked, err = f.disputes.HasBlockingDispute(ctx, f.payment.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	_, err = f.disputes.Cancel(ctx, shipper, dispute.ID)
	require.NoError(t, err)

	blocked, err = f.disputes.HasBlockingDispute(ctx, f.payment.ID)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.confirm(t)
	dispute, err := f.disputes.Open(ctx, shipper, f.trip.ID, OpenParams{ReasonCode: "visibility"})
	require.NoError(t, err)

	for _, caller := range []identity.Identity{shipper, hauler, admin} {
		_, err := f.disputes.Get(ctx, caller, dispute.ID)
		assert.NoError(t, err)
	}
	outsider := identity.Identity{UserID: 5, CompanyID: 555, Role: identity.RoleHauler}
	_, err = f.disputes.Get(ctx, outsider, dispute.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}
