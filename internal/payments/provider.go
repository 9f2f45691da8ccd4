package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/stockhaul/stockhaul/internal/idgen"
)

// Provider is the stand-in for the external payment provider. It mints
// intent ids, derives client secrets, and verifies webhook authenticity.
// Funding itself happens off-platform; the webhook endpoint is the only
// channel through which money movement is observed.
type Provider struct {
	name          string
	webhookSecret string
}

// NewProvider creates a provider handle. An empty webhook secret disables
// webhook verification (local development only; production config requires
// the secret).
func NewProvider(name, webhookSecret string) *Provider {
	if name == "" {
		name = "sandbox"
	}
	return &Provider{name: name, webhookSecret: webhookSecret}
}

// Name returns the provider name recorded on payments.
func (p *Provider) Name() string {
	return p.name
}

// MintIntentID generates a new funding intent id.
func (p *Provider) MintIntentID() string {
	return idgen.WithPrefix("pi_")
}

// ClientSecret derives the client-side secret for an intent. Deterministic
// so re-requesting the same intent returns the same secret.
func (p *Provider) ClientSecret(intentID string) string {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(intentID))
	return intentID + "_secret_" + hex.EncodeToString(mac.Sum(nil))[:24]
}

// VerifyWebhook checks the shared-secret header on a provider delivery.
func (p *Provider) VerifyWebhook(headerSecret string) bool {
	if p.webhookSecret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(headerSecret), []byte(p.webhookSecret)) == 1
}
