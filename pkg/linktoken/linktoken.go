package linktoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const audience = "patient-form"

// ErrExpired is returned for well-formed tokens past their expiry.
var ErrExpired = errors.New("link token expired")

// Claims binds a patient link to exactly one dispatch.
type Claims struct {
	DispatchID string `json:"did"`
	OwnerID    string `json:"oid"`
	jwt.RegisteredClaims
}

// Signer creates and validates patient questionnaire link tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a signer with the provided secret and TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 120 * 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a signed token for the dispatch.
func (s *Signer) Generate(dispatchID, ownerID string) (string, time.Time, error) {
	if dispatchID == "" {
		return "", time.Time{}, fmt.Errorf("dispatchID required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.ttl)
	claims := Claims{
		DispatchID: dispatchID,
		OwnerID:    ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   dispatchID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign link token: %w", err)
	}
	return signed, expiresAt.Truncate(time.Second), nil
}

// Parse validates a token and returns its claims.
func (s *Signer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithAudience(audience), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("invalid link token: %w", err)
	}
	if !parsed.Valid || claims.DispatchID == "" {
		return nil, fmt.Errorf("invalid link token claims")
	}
	return claims, nil
}
