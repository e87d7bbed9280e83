package tokens

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/models"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Codec signs and verifies claim sets with one symmetric HS256 key. It
// holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

func NewCodec(secret []byte, accessTTL, refreshTTL time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errs.Misconfigured("signing secret is empty")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	c := &Codec{
		secret:     append([]byte(nil), secret...),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	c.parser = c.newParser()
	return c, nil
}

// WithClock returns a copy of the codec that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	cp.parser = cp.newParser()
	return &cp
}

func (c *Codec) newParser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// Issue signs claims with exp = now + ttl and the given type. A fresh jti
// keeps two tokens issued in the same second distinct.
func (c *Codec) Issue(claims Claims, ttl time.Duration, typ Type) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(ttl)

	claims.Type = typ
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	if err := claims.Validate(); err != nil {
		return "", time.Time{}, fmt.Errorf("issue %s token: %w", typ, err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

func (c *Codec) IssueAccess(userID uint, username string, role models.Role) (string, time.Time, error) {
	return c.Issue(Claims{
		UserID:           userID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: username},
	}, c.accessTTL, TypeAccess)
}

func (c *Codec) IssueRefresh(userID uint, username string) (string, time.Time, error) {
	return c.Issue(Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: username},
	}, c.refreshTTL, TypeRefresh)
}

// ParseAndVerify checks signature, algorithm, expiry and required fields.
// It never consults the refresh ledger. Every failure wraps
// errs.ErrAuthentication and no partial claims are returned.
func (c *Codec) ParseAndVerify(tokenStr string) (*Claims, error) {
	var claims Claims
	tkn, err := c.parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: %v", errs.ErrAuthentication, err)
	}
	return &claims, nil
}
