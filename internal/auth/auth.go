// Package auth verifies connection tokens on behalf of the account
// subsystem. The core only needs the identity and role carried by the token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/example/shuttle-presence/internal/models"
)

// ErrAuthenticationFailed is fatal to the connection that presented the
// token; the server rejects the upgrade and closes.
var ErrAuthenticationFailed = errors.New("authentication failed")

type Identity struct {
	UserID string
	Role   models.Role
}

// Verifier authenticates a raw token into an identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Claims is the JWT payload issued by the account subsystem.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens and caches accepted ones so a
// reconnect storm does not re-parse the same token over and over. Entries
// expire well before any token the account subsystem issues.
type JWTVerifier struct {
	secret []byte
	cache  *ttlcache.Cache[string, Identity]
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	cache := ttlcache.New[string, Identity](
		ttlcache.WithTTL[string, Identity](5 * time.Minute),
	)
	go cache.Start()
	return &JWTVerifier{secret: []byte(secret), cache: cache}, nil
}

func (v *JWTVerifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrAuthenticationFailed
	}
	if item := v.cache.Get(raw); item != nil {
		return item.Value(), nil
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrAuthenticationFailed
	}
	ident := Identity{UserID: claims.UserID, Role: models.Role(claims.Role)}
	if ident.UserID == "" || !ident.Role.Valid() {
		return Identity{}, ErrAuthenticationFailed
	}
	v.cache.Set(raw, ident, ttlcache.DefaultTTL)
	return ident, nil
}

// Sign issues a token for the given identity. The account subsystem owns
// issuance in production; this is used by integration setups and tests.
func (v *JWTVerifier) Sign(userID string, role models.Role, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
