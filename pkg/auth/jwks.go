package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates a JWT token string and returns its claims.
// This abstraction enables testing with mock implementations.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
	// Close releases any resources held by the validator.
	Close()
}

// ValidatorConfig contains configuration for the token validator.
type ValidatorConfig struct {
	// EnableVerification controls whether JWT signatures are verified.
	// Set to false for development mode (parses tokens without verification).
	EnableVerification bool
	// LocalIssuer is the "iss" of tokens signed with LocalKey.
	LocalIssuer string
	LocalKey    []byte
	// JWKSEndpoints maps external issuer URLs to their JWKS endpoint URLs.
	JWKSEndpoints map[string]string
}

// JWKSValidator accepts HS256 tokens from the local issuer and RSA/ECDSA
// tokens from whitelisted external issuers whose keys come from JWKS.
type JWKSValidator struct {
	endpoints map[string]keyfunc.Keyfunc
	config    *ValidatorConfig
	cancel    context.CancelFunc
}

// NewJWKSValidator creates a validator. With verification enabled it fetches
// JWKS for every configured external issuer and fails if any endpoint fails
// to load.
func NewJWKSValidator(ctx context.Context, config *ValidatorConfig) (*JWKSValidator, error) {
	refreshCtx, cancel := context.WithCancel(ctx)
	v := &JWKSValidator{
		endpoints: make(map[string]keyfunc.Keyfunc),
		config:    config,
		cancel:    cancel,
	}

	if !config.EnableVerification {
		return v, nil
	}
	if len(config.LocalKey) == 0 {
		cancel()
		return nil, errors.New("local signing key is required when verification is enabled")
	}

	for issuer, jwksURL := range config.JWKSEndpoints {
		jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		v.endpoints[issuer] = jwks
	}

	return v, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (v *JWKSValidator) ValidateToken(tokenString string) (*Claims, error) {
	var (
		claims *Claims
		err    error
	)
	if v.config.EnableVerification {
		claims, err = v.parseVerified(tokenString)
	} else {
		claims, err = v.parseUnverified(tokenString)
	}
	if err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (v *JWKSValidator) parseVerified(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFor, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

func (v *JWKSValidator) keyFor(token *jwt.Token) (interface{}, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if claims.Issuer == v.config.LocalIssuer {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method for local issuer: %v", token.Header["alg"])
		}
		return v.config.LocalKey, nil
	}

	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	jwks, exists := v.endpoints[claims.Issuer]
	if !exists {
		return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
	}
	return jwks.Keyfunc(token)
}

// parseUnverified parses a JWT without verifying the signature.
// Used in development mode when EnableVerification is false.
func (v *JWKSValidator) parseUnverified(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// Close stops background JWKS refreshes.
func (v *JWKSValidator) Close() {
	v.cancel()
}

var _ TokenValidator = (*JWKSValidator)(nil)
