package stepup

import (
	"time"

	"github.com/google/uuid"
)

// Grant is a time-boxed proof that a second-factor challenge succeeded for
// one (admin, session, scope) triple. At most one live grant exists per
// triple; issuing again overwrites the previous one.
type Grant struct {
	AdminID         uuid.UUID      `json:"admin_id"`
	SessionID       uuid.UUID      `json:"session_id"`
	Scope           Scope          `json:"scope"`
	RiskContextHash string         `json:"risk_context_hash"`
	IssuedAt        time.Time      `json:"issued_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	SingleUse       bool           `json:"single_use"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
}

// Expired reports whether the grant is past its expiry at the given instant
func (g *Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.After(now)
}

// TTL returns the remaining lifetime of the grant at the given instant
func (g *Grant) TTL(now time.Time) time.Duration {
	return g.ExpiresAt.Sub(now)
}
