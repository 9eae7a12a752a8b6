package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds. An access token must never be accepted where a refresh
// token is required, and vice versa.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

const defaultIssuerName = "monitordb"

// Claims is the signed payload of both token kinds.
type Claims struct {
	Role string `json:"role"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Username returns the subject claim.
func (c *Claims) Username() string { return c.Subject }

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.name = name
		}
	}
}

// WithIssuerClock overrides the time source. Useful for expiry tests.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// Issuer mints and verifies HS256-signed tokens. The signing key is
// injected once at construction; tokens signed under any other key fail
// verification with ErrInvalidSignature.
type Issuer struct {
	key        []byte
	name       string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer constructs an Issuer with the process signing key.
func NewIssuer(key []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("auth: signing key is required")
	}
	iss := &Issuer{
		key:        key,
		name:       defaultIssuerName,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue signs a token of the given kind for the identity with a fresh
// random jti.
func (i *Issuer) Issue(identity *Identity, kind string) (string, *Claims, error) {
	ttl := i.accessTTL
	switch kind {
	case KindAccess:
	case KindRefresh:
		ttl = i.refreshTTL
	default:
		return "", nil, ErrWrongTokenKind
	}

	now := i.now().UTC()
	claims := &Claims{
		Role: string(identity.Role),
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   identity.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks signature, expiry, issuer, and kind. Pure function of
// the token string and the signing key; it consults no external state.
func (i *Issuer) Verify(token, kind string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformedToken
		}
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrMalformedToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}
