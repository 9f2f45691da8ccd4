// Package webhooks delivers pipeline events to subscriber endpoints.
// Companies register URLs for the event types they care about; deliveries
// are signed with a per-subscription secret so receivers can authenticate
// the payload.
package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/stockhaul/stockhaul/internal/idgen"
)

var (
	ErrNotFound  = errors.New("webhook subscription not found")
	ErrForbidden = errors.New("not authorized for this subscription")
)

// Subscription is a company's registered webhook endpoint.
type Subscription struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"companyId"`
	URL       string    `json:"url"`
	// Secret signs deliveries. Returned only on creation.
	Secret    string    `json:"secret,omitempty"`
	// Events filters delivery by event type. Empty means every event the
	// company is party to.
	Events    []string  `json:"events,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether the subscription wants the event type.
func (s *Subscription) Matches(eventType string) bool {
	if !s.Active {
		return false
	}
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id int64) (*Subscription, error)
	Delete(ctx context.Context, id int64) error
	ListByCompany(ctx context.Context, companyID int64) ([]*Subscription, error)
	// ListActiveForCompanies returns active subscriptions belonging to any
	// of the given companies.
	ListActiveForCompanies(ctx context.Context, companyIDs []int64) ([]*Subscription, error)
}

// NewSecret mints a subscription signing secret.
func NewSecret() string {
	return "whsec_" + idgen.Hex(24)
}
