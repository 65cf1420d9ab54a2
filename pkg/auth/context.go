package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/models"
)

// ErrNotAuthenticated is returned when a request context carries no claims.
var ErrNotAuthenticated = errors.New("authentication required")

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok {
		return ""
	}
	return claims.Subject
}

// RequireUserUUIDFromContext extracts the user ID from context as a UUID.
func RequireUserUUIDFromContext(ctx context.Context) (uuid.UUID, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == "" {
		return uuid.Nil, ErrNotAuthenticated
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrNotAuthenticated)
	}
	return id, nil
}

// PrincipalFromContext resolves the caller to {id, role}. Name and email are
// copied from the token when present.
func PrincipalFromContext(ctx context.Context) (*models.User, error) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return PrincipalFromClaims(claims)
}

// PrincipalFromClaims converts validated claims into the requesting user.
func PrincipalFromClaims(claims *Claims) (*models.User, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrNotAuthenticated)
	}
	role := models.Role(claims.Role)
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidRole, claims.Role)
	}
	return &models.User{
		ID:    id,
		Email: claims.Email,
		Name:  claims.Name,
		Role:  role,
	}, nil
}
