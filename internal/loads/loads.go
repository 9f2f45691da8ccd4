// Package loads holds the freight-posting record the transaction pipeline
// operates on. The listing subsystem owns the full posting (route, stock
// description, dates); the pipeline reads the fields below and mutates only
// the status and the awarded offer.
package loads

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("load not found")
)

// Status is the pipeline-visible state of a load.
type Status string

const (
	StatusPublished      Status = "published"       // open for offers
	StatusAwaitingEscrow Status = "awaiting_escrow" // offer accepted, funding pending
	StatusInTransit      Status = "in_transit"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
)

// Load is a freight posting owned by a shipper company.
type Load struct {
	ID               int64     `json:"id"`
	ShipperCompanyID int64     `json:"shipperCompanyId"`
	Status           Status    `json:"status"`
	Currency         string    `json:"currency"`
	AskingAmount     int64     `json:"askingAmount"` // minor units
	AwardedOfferID   *int64    `json:"awardedOfferId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store persists loads.
type Store interface {
	Create(ctx context.Context, load *Load) error
	Get(ctx context.Context, id int64) (*Load, error)
	Update(ctx context.Context, load *Load) error
}
