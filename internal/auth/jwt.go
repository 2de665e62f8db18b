package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Operator roles.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrUnknownRole  = errors.New("auth: unknown role")
)

// clockSkew tolerated between api instances when checking exp/iat.
const clockSkew = 30 * time.Second

// Token is a signed access token.
type Token struct {
	AccessToken string
	AccessExp   time.Time
}

// Claims is the operator token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func validRole(role string) bool {
	return role == RoleOperator || role == RoleAdmin
}

// Issue signs an access token for an operator. Each token carries a fresh jti so
// request logs can tell sessions of the same operator apart.
func Issue(subject, role, issuer, key string, accessTTL time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if !validRole(role) {
		return Token{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := time.Now()
	exp := now.Add(accessTTL)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, AccessExp: exp}, nil
}

// Parse verifies signature, expiry and issuer, and that the token names an operator
// with a known role. Every failure wraps ErrInvalidToken.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !validRole(claims.Role) {
		return Claims{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
