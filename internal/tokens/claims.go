package tokens

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/claims_auth/internal/models"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the signed payload of both token kinds. Role is only set on
// access tokens.
type Claims struct {
	UserID uint        `json:"user_id"`
	Role   models.Role `json:"role,omitempty"`
	Type   Type        `json:"type"`
	jwt.RegisteredClaims
}

var (
	errMissingSubject = errors.New("token has no subject")
	errMissingUserID  = errors.New("token has no user_id")
	errUnknownType    = errors.New("unknown token type")
	errUnknownRole    = errors.New("unknown role")
)

// Validate runs after signature and expiry checks and rejects payloads
// missing required fields.
func (c Claims) Validate() error {
	if c.Subject == "" {
		return errMissingSubject
	}
	if c.UserID == 0 {
		return errMissingUserID
	}
	switch c.Type {
	case TypeAccess:
		if _, ok := models.ParseRole(string(c.Role)); !ok {
			return errUnknownRole
		}
	case TypeRefresh:
	default:
		return errUnknownType
	}
	return nil
}
