package gate

import (
	"strings"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/models"
	"github.com/Skotchmaster/claims_auth/internal/tokens"
)

// Identity is what downstream business logic learns about the caller.
type Identity struct {
	UserID   uint        `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

var errCredentials = errs.Unauthenticated(errs.ErrAuthentication.Error())

type Verifier interface {
	ParseAndVerify(token string) (*tokens.Claims, error)
}

// Gate authenticates access tokens. It only reads the codec's key and is
// safe to call from any number of goroutines.
type Gate struct {
	Codec Verifier
}

func New(codec Verifier) *Gate {
	return &Gate{Codec: codec}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is case-insensitive.
func BearerToken(header string) (string, bool) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token := strings.TrimSpace(rest)
	return token, token != ""
}

// Authenticate resolves an Authorization header value. A header without
// the Bearer scheme is rejected. Every failure yields the same error.
func (g *Gate) Authenticate(header string) (Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return Identity{}, errCredentials
	}
	return g.Verify(token)
}

// Verify resolves a raw access token.
func (g *Gate) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, errCredentials
	}

	claims, err := g.Codec.ParseAndVerify(token)
	if err != nil || claims == nil {
		return Identity{}, errCredentials
	}
	if claims.Type != tokens.TypeAccess || claims.Subject == "" || claims.UserID == 0 {
		return Identity{}, errCredentials
	}

	return Identity{
		UserID:   claims.UserID,
		Username: claims.Subject,
		Role:     claims.Role,
	}, nil
}

// RoleGate admits identities holding Required or the admin role.
type RoleGate struct {
	Required models.Role
}

func RequireRole(role models.Role) RoleGate {
	return RoleGate{Required: role}
}

func (g RoleGate) Check(id Identity) bool {
	return id.Role == g.Required || id.Role == models.RoleAdmin
}

func (g RoleGate) Require(id Identity) (Identity, error) {
	if !g.Check(id) {
		return Identity{}, errs.Forbidden(string(g.Required))
	}
	return id, nil
}
