package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleViewer is the only role issued today
const RoleViewer = "viewer"

// DefaultTokenTTL is how long a viewer token stays valid
const DefaultTokenTTL = 12 * time.Hour

var (
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrInvalidRole   = errors.New("token role is not allowed")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ViewerID string `json:"viewer_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates viewer tokens with a shared secret
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A zero ttl selects DefaultTokenTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateViewerToken generates a JWT token for a caption viewer
func (i *Issuer) GenerateViewerToken(viewerID string) (string, time.Time, error) {
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.ttl)
	claims := &JWTClaims{
		ViewerID: viewerID,
		Role:     RoleViewer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewerID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a viewer token and returns its claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Role != RoleViewer {
		return nil, ErrInvalidRole
	}
	return claims, nil
}
