package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the request.
	// It checks for the token in:
	//   1. Authorization header with "Bearer" scheme (API clients)
	//   2. The "signportal-session" cookie (browser clients), only when no header is sent
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	validator TokenValidator
	sessions  *SessionStore
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService. sessions may be nil for
// deployments that only accept bearer tokens.
func NewAuthService(validator TokenValidator, sessions *SessionStore, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		sessions:  sessions,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	tokenString, tokenSource, err := s.extractToken(r)
	if err != nil {
		return nil, "", err
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) extractToken(r *http.Request) (string, string, error) {
	// An explicit header names the caller; the cookie only stands in when it is absent.
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return "", "", ErrInvalidAuthFormat
		}
		return parts[1], "header", nil
	}

	if s.sessions != nil {
		if token, err := s.sessions.Token(r); err == nil {
			return token, "cookie", nil
		}
	}

	s.logger.Debug("No JWT found in request",
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method))
	return "", "", ErrMissingAuthorization
}

var _ AuthService = (*authService)(nil)
