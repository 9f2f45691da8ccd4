package identity

// Authorization guard: pure predicates over (caller, entity facts).
// Every pipeline operation consults exactly one of these instead of
// re-implementing company/role comparisons at each call site.
//
// The split of authority is deliberate: the hauler side controls physical
// progress (assign, start, deliver), the shipper side controls funding and
// acceptance (fund, confirm, accept). Admin bypasses company scoping but is
// the only role that may force payment outcomes or adjudicate disputes.

// CanCreateOffer: a hauler user bidding for its own company, never on its
// own company's load.
func CanCreateOffer(caller Identity, loadShipperCompanyID int64) bool {
	if caller.Role != RoleHauler {
		return false
	}
	return caller.CompanyID != loadShipperCompanyID
}

// IsSelfBid reports whether the offer would be a bid on the caller's own load.
func IsSelfBid(caller Identity, loadShipperCompanyID int64) bool {
	return caller.CompanyID == loadShipperCompanyID
}

// CanWithdrawOffer: the hauler company that placed the offer.
func CanWithdrawOffer(caller Identity, offerHaulerCompanyID int64) bool {
	return caller.ActsFor(offerHaulerCompanyID)
}

// CanDecideOffer: the shipper company that owns the load (reject and accept).
func CanDecideOffer(caller Identity, loadShipperCompanyID int64) bool {
	return caller.ActsFor(loadShipperCompanyID)
}

// CanSeeAllOffers: the load's shipper and admins see every offer;
// haulers see only their own company's.
func CanSeeAllOffers(caller Identity, loadShipperCompanyID int64) bool {
	return caller.IsAdmin() || caller.ActsFor(loadShipperCompanyID)
}

// CanManageTrip: assignment of driver and vehicle belongs to the hauler company.
func CanManageTrip(caller Identity, tripHaulerCompanyID int64) bool {
	return caller.ActsFor(tripHaulerCompanyID)
}

// CanStartTrip: the hauler company, the assigned driver, the shipper company,
// or an admin.
func CanStartTrip(caller Identity, tripHaulerCompanyID, loadShipperCompanyID int64, assignedDriverID *int64) bool {
	if caller.IsAdmin() {
		return true
	}
	if caller.ActsFor(tripHaulerCompanyID) || caller.ActsFor(loadShipperCompanyID) {
		return true
	}
	return assignedDriverID != nil && caller.UserID == *assignedDriverID
}

// CanMarkDelivered: the hauler company, the assigned driver, or an admin.
// The shipper cannot claim delivery on the hauler's behalf.
func CanMarkDelivered(caller Identity, tripHaulerCompanyID int64, assignedDriverID *int64) bool {
	if caller.IsAdmin() {
		return true
	}
	if caller.ActsFor(tripHaulerCompanyID) {
		return true
	}
	return assignedDriverID != nil && caller.UserID == *assignedDriverID
}

// CanConfirmDelivery: only the shipper company validates the hauler's claim.
func CanConfirmDelivery(caller Identity, loadShipperCompanyID int64) bool {
	return caller.ActsFor(loadShipperCompanyID)
}

// CanCreateFundingIntent: only the paying shipper company.
func CanCreateFundingIntent(caller Identity, payerCompanyID int64) bool {
	return caller.ActsFor(payerCompanyID)
}

// CanViewPayment: either party to the payment, or an admin.
func CanViewPayment(caller Identity, payerCompanyID, beneficiaryCompanyID int64) bool {
	return caller.IsAdmin() || caller.ActsFor(payerCompanyID) || caller.ActsFor(beneficiaryCompanyID)
}

// CanOpenDispute: shipper or hauler on the trip, or an admin.
func CanOpenDispute(caller Identity, loadShipperCompanyID, tripHaulerCompanyID int64) bool {
	return caller.IsAdmin() || caller.ActsFor(loadShipperCompanyID) || caller.ActsFor(tripHaulerCompanyID)
}

// CanCancelDispute: the opener's company, or an admin.
func CanCancelDispute(caller Identity, openedByCompanyID int64) bool {
	return caller.IsAdmin() || caller.ActsFor(openedByCompanyID)
}

// CanAdjudicate: admin-only operations (start-review, resolve, force
// release/refund, sweep trigger).
func CanAdjudicate(caller Identity) bool {
	return caller.IsAdmin()
}
