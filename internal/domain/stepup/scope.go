package stepup

// Scope is a named class of sensitive operation that requires a fresh
// second-factor confirmation beyond primary login.
type Scope string

const (
	// ScopeLogin marks primary-factor operations; its grant is what makes a
	// session ACTIVE.
	ScopeLogin Scope = "login"

	ScopeAdminCreate    Scope = "admin_create"
	ScopePasswordChange Scope = "password_change"
	ScopeRoleAssign     Scope = "role_assign"
	ScopeSessionRevoke  Scope = "session_revoke"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	switch s {
	case ScopeLogin, ScopeAdminCreate, ScopePasswordChange, ScopeRoleAssign, ScopeSessionRevoke:
		return true
	default:
		return false
	}
}

// String returns the scope value
func (s Scope) String() string {
	return string(s)
}

// Registry is an immutable mapping from operation name to its required
// scope. It is built once at startup; operations not listed require no
// step-up beyond an active session.
type Registry struct {
	scopes map[string]Scope
}

// NewRegistry builds a registry from an operation-to-scope mapping
func NewRegistry(entries map[string]Scope) *Registry {
	scopes := make(map[string]Scope, len(entries))
	for op, sc := range entries {
		scopes[op] = sc
	}
	return &Registry{scopes: scopes}
}

// DefaultRegistry maps this module's protected operations to their scopes
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Scope{
		"admin.create":          ScopeAdminCreate,
		"admin.password_change": ScopePasswordChange,
		"role.assign":           ScopeRoleAssign,
		"session.revoke_all":    ScopeSessionRevoke,
	})
}

// Required returns the scope demanded by the named operation. Unknown
// operations require no scope.
func (r *Registry) Required(operation string) (Scope, bool) {
	sc, ok := r.scopes[operation]
	return sc, ok
}
