package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ekaya-inc/signportal/pkg/models"
)

// Issuer mints HS256 tokens for users who log in with a password.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. An empty signing key gets a random one, so
// tokens do not survive a restart; config validation only allows that with
// verification disabled.
func NewIssuer(signingKey, issuer string, ttl time.Duration) (*Issuer, error) {
	if issuer == "" {
		return nil, errors.New("issuer name is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}

	return &Issuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Name returns the "iss" claim written into issued tokens.
func (i *Issuer) Name() string {
	return i.issuer
}

// Key returns the HMAC key, shared with the validator.
func (i *Issuer) Key() []byte {
	return i.key
}

// Issue returns a signed token for user and its expiry.
func (i *Issuer) Issue(user *models.User) (string, time.Time, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", time.Time{}, errors.New("cannot issue token without a user id")
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Role:  string(user.Role),
		Name:  user.Name,
		Email: user.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}
