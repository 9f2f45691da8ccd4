package identity

import "testing"

func ptr(v int64) *int64 { return &v }

func TestCanCreateOffer(t *testing.T) {
	hauler := Identity{UserID: 1, CompanyID: 10, Role: RoleHauler}
	shipperUser := Identity{UserID: 2, CompanyID: 20, Role: RoleShipper}

	if !CanCreateOffer(hauler, 20) {
		t.Error("hauler bidding on another company's load should be allowed")
	}
	if CanCreateOffer(hauler, 10) {
		t.Error("bidding on own company's load should be denied")
	}
	if CanCreateOffer(shipperUser, 10) {
		t.Error("shippers cannot place offers")
	}
	if !IsSelfBid(hauler, 10) || IsSelfBid(hauler, 20) {
		t.Error("IsSelfBid should compare companies")
	}
}

func TestCanStartTrip(t *testing.T) {
	cases := []struct {
		name   string
		caller Identity
		want   bool
	}{
		{"hauler company", Identity{UserID: 5, CompanyID: 10, Role: RoleHauler}, true},
		{"shipper company", Identity{UserID: 6, CompanyID: 20, Role: RoleShipper}, true},
		{"assigned driver", Identity{UserID: 77, CompanyID: 99, Role: RoleDriver}, true},
		{"admin", Identity{UserID: 1, CompanyID: 0, Role: RoleAdmin}, true},
		{"stranger", Identity{UserID: 8, CompanyID: 30, Role: RoleHauler}, false},
	}
	for _, tc := range cases {
		if got := CanStartTrip(tc.caller, 10, 20, ptr(77)); got != tc.want {
			t.Errorf("%s: CanStartTrip = %v, want %v", tc.name, got, tc.want)
		}
	}

	// No assigned driver yet: driver user cannot start.
	driver := Identity{UserID: 77, CompanyID: 99, Role: RoleDriver}
	if CanStartTrip(driver, 10, 20, nil) {
		t.Error("unassigned driver should not start the trip")
	}
}

func TestCanMarkDelivered_ShipperDenied(t *testing.T) {
	shipperUser := Identity{UserID: 6, CompanyID: 20, Role: RoleShipper}
	if CanMarkDelivered(shipperUser, 10, ptr(77)) {
		t.Error("shipper must not claim delivery on the hauler's behalf")
	}
	haulerUser := Identity{UserID: 5, CompanyID: 10, Role: RoleHauler}
	if !CanMarkDelivered(haulerUser, 10, nil) {
		t.Error("hauler company should mark delivered")
	}
}

func TestDisputeGuards(t *testing.T) {
	shipperUser := Identity{UserID: 6, CompanyID: 20, Role: RoleShipper}
	haulerUser := Identity{UserID: 5, CompanyID: 10, Role: RoleHauler}
	stranger := Identity{UserID: 9, CompanyID: 55, Role: RoleHauler}
	admin := Identity{UserID: 1, CompanyID: 0, Role: RoleAdmin}

	for _, caller := range []Identity{shipperUser, haulerUser, admin} {
		if !CanOpenDispute(caller, 20, 10) {
			t.Errorf("caller %+v should open a dispute", caller)
		}
	}
	if CanOpenDispute(stranger, 20, 10) {
		t.Error("third parties cannot open disputes")
	}

	if !CanCancelDispute(shipperUser, 20) || CanCancelDispute(haulerUser, 20) {
		t.Error("only the opener's company (or admin) cancels")
	}
	if !CanCancelDispute(admin, 20) {
		t.Error("admin cancels any dispute")
	}
	if CanAdjudicate(shipperUser) || !CanAdjudicate(admin) {
		t.Error("only admin adjudicates")
	}
}
