package auth

import (
	"errors"
	"log/slog"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Anvoria/backoffice/internal/domain/permission"
	"github.com/Anvoria/backoffice/internal/domain/session"
	"github.com/Anvoria/backoffice/internal/domain/stepup"
	"github.com/Anvoria/backoffice/internal/utils"
)

const (
	// SessionCookieName carries the opaque bearer token.
	SessionCookieName = "auth_token"

	loginPath       = "/login"
	setupPath       = "/2fa/setup"
	verifyPath      = "/2fa/verify"
	stageSession    = "session"
	stageActor      = "actor"
	stageState      = "session_state"
	stageScope      = "scope"
	stagePermission = "authorization"
)

// stepUpExempt names the operations an admin must be able to reach while the
// session is still pending its second factor. Without these the verification
// flow would deadlock.
var stepUpExempt = map[string]bool{
	"twofactor.setup.begin": true,
	"twofactor.setup":       true,
	"twofactor.verify":      true,
	"auth.logout":           true,
}

// Deps are the collaborators the guard stages call into
type Deps struct {
	Sessions    session.Service
	Admins      adminDirectory
	Engine      *stepup.Engine
	Registry    *stepup.Registry
	Permissions permission.Service
}

type adminDirectory interface {
	DisplayName(id uuid.UUID) (string, error)
}

// Stage is one named step of the guard pipeline
type Stage struct {
	Name    string
	Handler fiber.Handler
}

// Pipeline is the ordered guard chain in front of every protected operation.
// The order is fixed: session, actor, session_state, scope, authorization.
// Scope checks run only against sessions already proven live and elevated,
// and permission checks never see an unverified actor.
type Pipeline struct {
	deps    Deps
	surface Surface
	stages  []Stage
}

// NewPipeline builds the guard chain for one surface
func NewPipeline(deps Deps, surface Surface) *Pipeline {
	p := &Pipeline{deps: deps, surface: surface}
	p.stages = []Stage{
		{Name: stageSession, Handler: p.sessionStage},
		{Name: stageActor, Handler: p.actorStage},
		{Name: stageState, Handler: p.stateStage},
		{Name: stageScope, Handler: p.scopeStage},
		{Name: stagePermission, Handler: p.permissionStage},
	}
	return p
}

// StageNames returns the stage order for inspection
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Protect wraps the final handlers with the full guard chain for a named
// operation. The operation name is the key scope and permission lookups use.
func (p *Pipeline) Protect(operation string, handlers ...fiber.Handler) []fiber.Handler {
	chain := make([]fiber.Handler, 0, len(p.stages)+1+len(handlers))
	chain = append(chain, p.enter(operation))
	for _, stage := range p.stages {
		chain = append(chain, stage.Handler)
	}
	return append(chain, handlers...)
}

// enter attaches the immutable request context before any guard runs
func (p *Pipeline) enter(operation string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(requestContextKey, NewRequestContext(c, operation))
		return c.Next()
	}
}

// sessionStage resolves the bearer cookie to a live session. All three
// failure kinds produce the same response; the distinction goes to the log.
func (p *Pipeline) sessionStage(c *fiber.Ctx) error {
	rc := RequestContextFrom(c)

	sess, err := p.deps.Sessions.Validate(c.Cookies(SessionCookieName))
	if err != nil {
		slog.Info("Session validation failed",
			slog.String("reason", sessionFailureKind(err)),
			slog.String("route", rc.Route),
			slog.String("request_id", rc.RequestID))
		return p.denyUnauthenticated(c)
	}

	c.Locals(actorContextKey, ActorContext{
		AdminID:   sess.AdminID,
		SessionID: sess.ID,
	})
	return c.Next()
}

// actorStage enriches the actor with presentation data. A lookup failure
// degrades the display name, never the request.
func (p *Pipeline) actorStage(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return p.denyUnauthenticated(c)
	}

	name, err := p.deps.Admins.DisplayName(actor.AdminID)
	if err != nil {
		slog.Debug("Failed to resolve admin display name",
			slog.String("admin_id", actor.AdminID.String()),
			slog.String("error", err.Error()))
	} else {
		actor.DisplayName = name
	}

	c.Locals(actorContextKey, actor)
	return c.Next()
}

// stateStage requires an active session state, recomputed on every request.
// Second-factor and logout operations are exempt so the admin can complete
// or abandon verification.
func (p *Pipeline) stateStage(c *fiber.Ctx) error {
	rc := RequestContextFrom(c)
	if stepUpExempt[rc.Route] {
		return c.Next()
	}

	actor, ok := ActorFrom(c)
	if !ok {
		return p.denyUnauthenticated(c)
	}

	status := p.deps.Engine.SessionStatus(c.UserContext(), actor.AdminID, actor.SessionID)
	if status.Active() {
		return c.Next()
	}

	if p.surface == SurfaceUI {
		if !status.TOTPEnrolled {
			return c.Redirect(setupPath, fiber.StatusFound)
		}
		return c.Redirect(verifyRedirect(stepup.ScopeLogin, c.OriginalURL()), fiber.StatusFound)
	}
	return utils.StepUpRequiredResponse(c, stepup.ScopeLogin.String())
}

// scopeStage consumes the step-up grant for operations that demand one. The
// login scope was already proven by the state stage.
func (p *Pipeline) scopeStage(c *fiber.Ctx) error {
	rc := RequestContextFrom(c)

	scope, required := p.deps.Registry.Required(rc.Route)
	if !required || scope == stepup.ScopeLogin {
		return c.Next()
	}

	actor, ok := ActorFrom(c)
	if !ok {
		return p.denyUnauthenticated(c)
	}

	if p.deps.Engine.Authorize(c.UserContext(), actor.AdminID, actor.SessionID, scope) {
		return c.Next()
	}

	p.deps.Engine.LogDenial(actor.AdminID, actor.SessionID, scope, rc.RequestID)

	if p.surface == SurfaceUI {
		return c.Redirect(verifyRedirect(scope, c.OriginalURL()), fiber.StatusFound)
	}
	return utils.StepUpRequiredResponse(c, scope.String())
}

// permissionStage checks the static operation permission. Backend failures
// deny.
func (p *Pipeline) permissionStage(c *fiber.Ctx) error {
	rc := RequestContextFrom(c)

	actor, ok := ActorFrom(c)
	if !ok {
		return p.denyUnauthenticated(c)
	}

	allowed, err := p.deps.Permissions.HasPermission(actor.AdminID, rc.Route)
	if err != nil {
		slog.Error("Permission check failed",
			slog.String("admin_id", actor.AdminID.String()),
			slog.String("route", rc.Route),
			slog.String("error", err.Error()))
		return utils.ErrorResponse(c, "forbidden", fiber.StatusForbidden)
	}
	if !allowed {
		return utils.ErrorResponse(c, "forbidden", fiber.StatusForbidden)
	}
	return c.Next()
}

func (p *Pipeline) denyUnauthenticated(c *fiber.Ctx) error {
	if p.surface == SurfaceUI {
		return c.Redirect(loginPath, fiber.StatusFound)
	}
	return utils.AuthRequiredResponse(c)
}

func verifyRedirect(scope stepup.Scope, originalURL string) string {
	return verifyPath + "?scope=" + scope.String() +
		"&return_to=" + url.QueryEscape(SafeReturnPath(originalURL))
}

func sessionFailureKind(err error) string {
	switch {
	case errors.Is(err, session.ErrExpiredSession):
		return "expired"
	case errors.Is(err, session.ErrRevokedSession):
		return "revoked"
	default:
		return "invalid"
	}
}
