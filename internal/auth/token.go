package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxsocial/notifygw/internal/model"
)

// ErrUnauthorized covers every admission failure: malformed or revoked
// claims and unknown subjects. ErrTokenExpired wraps it for the one cause
// clients can act on (refresh and retry); everything else stays opaque.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)
)

// IdentityReader is the slice of the identities repository admission needs.
type IdentityReader interface {
	GetByID(ctx context.Context, id string) (*model.Identity, error)
}

// Validator verifies an inbound connection's identity claim. Stateless; no
// side effects beyond validation.
type Validator struct {
	secret     []byte
	identities IdentityReader
}

func NewValidator(secret string, identities IdentityReader) *Validator {
	return &Validator{secret: []byte(secret), identities: identities}
}

// Admit parses and verifies the credential claim and returns the bound
// identity. Any failure surfaces as ErrUnauthorized.
func (v *Validator) Admit(ctx context.Context, token string) (*model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrUnauthorized
	}

	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	ident, err := v.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if ident == nil {
		return nil, ErrUnauthorized
	}
	return ident, nil
}

// Sign issues a short-lived token for an identity. Used by tests and the
// seed command; token issuance proper belongs to the account service.
func Sign(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return t.SignedString([]byte(secret))
}
