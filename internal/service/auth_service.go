package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/session"
)

// ErrInvalidToken is returned for unparsable, forged or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the participant claims issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// AuthService validates participant tokens. Tokens are issued elsewhere and
// share the HS256 secret.
type AuthService struct {
	cfg   *config.Config
	clock func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg, clock: time.Now}
}

// IssueToken signs a participant token. Used by tooling and tests.
func (s *AuthService) IssueToken(userID uuid.UUID, name string, ttl time.Duration) (string, error) {
	now := s.clock()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID.String(),
		Name:   name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.clock), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("%w: user_id: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Identity binds validated claims to the session's identity contract.
// The user disappears once the token expires.
func (s *AuthService) Identity(claims *Claims) session.Identity {
	return &tokenIdentity{claims: claims, clock: s.clock}
}

type tokenIdentity struct {
	claims *Claims
	clock  func() time.Time
}

func (i *tokenIdentity) CurrentUser(context.Context) (uuid.UUID, error) {
	if i.claims == nil {
		return uuid.Nil, session.ErrAuthExpired
	}
	if exp := i.claims.ExpiresAt; exp != nil && !i.clock().Before(exp.Time) {
		return uuid.Nil, session.ErrAuthExpired
	}
	id, err := uuid.Parse(i.claims.UserID)
	if err != nil {
		return uuid.Nil, session.ErrAuthExpired
	}
	return id, nil
}
