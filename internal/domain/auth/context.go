package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Surface selects how a guard denies: structured JSON for API clients or a
// redirect for browser flows. One parameterized pipeline serves both.
type Surface int

const (
	SurfaceAPI Surface = iota
	SurfaceUI
)

// String returns the surface name
func (s Surface) String() string {
	if s == SurfaceUI {
		return "ui"
	}
	return "api"
}

const (
	requestContextKey = "request_context"
	actorContextKey   = "actor_context"
)

// RequestContext is the immutable per-request value constructed once at
// pipeline entry and threaded through every downstream call. Nothing below
// the pipeline reads request attributes from ambient state.
type RequestContext struct {
	RequestID string
	IP        string
	UserAgent string
	Route     string
}

// ActorContext identifies the authenticated admin behind a request
type ActorContext struct {
	AdminID     uuid.UUID
	SessionID   uuid.UUID
	DisplayName string
}

// NewRequestContext builds a request context from the inbound request. The
// operation name decouples downstream scope lookups from the framework's
// route objects.
func NewRequestContext(c *fiber.Ctx, operation string) RequestContext {
	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return RequestContext{
		RequestID: requestID,
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
		Route:     operation,
	}
}

// RequestContextFrom returns the request context attached by the pipeline,
// or a fresh one for routes outside it
func RequestContextFrom(c *fiber.Ctx) RequestContext {
	if rc, ok := c.Locals(requestContextKey).(RequestContext); ok {
		return rc
	}
	return NewRequestContext(c, "")
}

// ActorFrom returns the actor context attached by the session guard
func ActorFrom(c *fiber.Ctx) (ActorContext, bool) {
	actor, ok := c.Locals(actorContextKey).(ActorContext)
	return actor, ok
}
