package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
	ErrWrongType = errors.New("wrong token type")
)

// Claims are deliberately minimal: identity id, email and the access/refresh
// discriminator. Role is resolved against the credential store per request,
// so a role change takes effect without waiting out token expiry.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

func newToken(sub, email, tokenType, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:   sub,
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{"residence-api"},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// NewAccessToken mints a short-lived token authorizing a single request's
// identity claim.
func NewAccessToken(sub, email, secret string, ttl time.Duration) (string, error) {
	return newToken(sub, email, TypeAccess, secret, ttl)
}

// NewRefreshToken mints a long-lived token exchangeable for fresh access
// tokens.
func NewRefreshToken(sub, email, secret string, ttl time.Duration) (string, error) {
	return newToken(sub, email, TypeRefresh, secret, ttl)
}

// Parse validates signature, lifetime and the type discriminator. An access
// token is never accepted where a refresh token is expected, and vice versa.
func Parse(tokenString, secret, expectedType string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.Type != expectedType {
		return nil, ErrWrongType
	}
	return claims, nil
}
