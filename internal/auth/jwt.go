// Package auth mints and verifies the bearer tokens that identify
// proxy users. Tokens are compact JWTs signed with HMAC-SHA-256 under a
// shared symmetric secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/config"
)

// Verification failures, each carrying a one-word reason suffix that the
// HTTP layer appends to its 401 body. All wrap raskol.ErrUnauthorized.
var (
	ErrBadFormat     = fmt.Errorf("%w: bad-format", raskol.ErrUnauthorized)
	ErrBadSignature  = fmt.Errorf("%w: bad-signature", raskol.ErrUnauthorized)
	ErrWrongIssuer   = fmt.Errorf("%w: wrong-issuer", raskol.ErrUnauthorized)
	ErrWrongAudience = fmt.Errorf("%w: wrong-audience", raskol.ErrUnauthorized)
	ErrExpired       = fmt.Errorf("%w: expired", raskol.ErrUnauthorized)
)

// Claims is the token payload: the registered claim set plus a role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Codec mints and verifies tokens under one JWT configuration.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
}

// NewCodec builds a Codec from the [jwt] config section.
func NewCodec(cfg config.JWTConfig) *Codec {
	return &Codec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// Mint signs a token for uid with the given ttl and role. It has no
// side effects. A negative ttl produces an already-expired token, which
// is occasionally useful in tests.
func (c *Codec) Mint(uid string, ttl time.Duration, role string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("mint: uid must be non-empty")
	}
	if role == "" {
		role = raskol.RoleUser
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("mint: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a serialized token against the configured
// secret, issuer, and audience, evaluating "exp" at the supplied now.
// Leeway is zero: "exp" means what it says.
func (c *Codec) Verify(token string, now time.Time) (*raskol.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(0),
	)
	if err != nil {
		return nil, classify(err)
	}
	if claims.Subject == "" {
		return nil, ErrBadFormat
	}
	return &raskol.Identity{UID: claims.Subject, Role: claims.Role}, nil
}

// classify maps golang-jwt validation errors onto the domain failures.
// Order matters: a malformed token also fails signature checks, so the
// most specific sentinel is checked first.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrBadFormat
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrWrongIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrWrongAudience
	default:
		return fmt.Errorf("%w: %v", raskol.ErrUnauthorized, err)
	}
}
