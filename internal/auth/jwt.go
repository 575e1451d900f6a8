// Package auth verifies the bearer tokens presented on the realtime channel
// and the HTTP query endpoints. Tokens are HS256 JWTs carrying a user_id claim.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

const accessTokenType = "access"

// Authenticator resolves a presented token to a stable user ID.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

// Claims is the token payload. user_id may be encoded as a number or a
// numeric string.
type Claims struct {
	UserID    json.Number `json:"user_id"`
	TokenType string      `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies and issues HS256 tokens with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuthenticator creates an authenticator for the given signing secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Authenticate verifies token and returns its user ID.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrMissingToken
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.TokenType != "" && claims.TokenType != accessTokenType {
		return 0, fmt.Errorf("%w: token_type %q", ErrInvalidToken, claims.TokenType)
	}

	userID, err := claims.UserID.Int64()
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad user_id claim", ErrInvalidToken)
	}
	return userID, nil
}

// Issue signs an access token for userID valid for ttl.
func (a *JWTAuthenticator) Issue(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    json.Number(fmt.Sprintf("%d", userID)),
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenFromRequest extracts a bearer token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
