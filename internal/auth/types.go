package auth

import "context"

// Scopes carried in access tokens.
const (
	ScopeWorkflowsRead  = "workflows:read"
	ScopeWorkflowsWrite = "workflows:write"
	ScopeAgentsExecute  = "agents:execute"
)

// DefaultScopes are granted when a token is issued without explicit scopes.
var DefaultScopes = []string{ScopeWorkflowsRead, ScopeWorkflowsWrite, ScopeAgentsExecute}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
	TokenID string   `json:"jti,omitempty"`
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ContextKey is the key type for context values
type ContextKey string

// PrincipalContextKey is the context key for the authenticated principal
const PrincipalContextKey ContextKey = "principal"

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok && p != nil
}
