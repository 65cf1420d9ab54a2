package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
)

// Password length bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	maxPasswordBytes  = 72
)

// CreateUserRequest is the input for creating an account.
type CreateUserRequest struct {
	Email    string      `json:"email"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
	Password string      `json:"password"`
}

// UserService defines the interface for user operations.
type UserService interface {
	// Authenticate checks email and password. Unknown e-mail and wrong
	// password both return apperrors.ErrInvalidCredentials.
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	// Create adds an account. Only roles that can manage users may call it.
	Create(ctx context.Context, req CreateUserRequest, actor *models.User) (*models.User, error)
	// List returns users, optionally only those with role.
	List(ctx context.Context, role models.Role) ([]*models.User, error)
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	// EnsureBootstrapAdmin creates the first admin when none exists.
	// Returns nil when nothing was created.
	EnsureBootstrapAdmin(ctx context.Context, req CreateUserRequest) (*models.User, error)
}

type userService struct {
	userRepo   repositories.UserRepository
	auditor    *audit.SecurityAuditor
	bcryptCost int
	// dummyHash is compared against when the e-mail is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
	logger    *zap.Logger
}

// NewUserService creates a new user service. bcryptCost of 0 uses bcrypt.DefaultCost.
func NewUserService(userRepo repositories.UserRepository, auditor *audit.SecurityAuditor, bcryptCost int, logger *zap.Logger) UserService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("signportal-dummy-password"), bcryptCost)
	return &userService{
		userRepo:   userRepo,
		auditor:    auditor,
		bcryptCost: bcryptCost,
		dummyHash:  dummy,
		logger:     logger.Named("user-service"),
	}
}

var _ UserService = (*userService)(nil)

func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.auditor.LogLoginFailure(ctx, email)
		return nil, apperrors.ErrInvalidCredentials
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.auditor.LogLoginFailure(ctx, email)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.auditor.LogLoginFailure(ctx, email)
		return nil, apperrors.ErrInvalidCredentials
	}

	s.auditor.LogLoginSuccess(ctx, user.ID)
	return user, nil
}

func (s *userService) Create(ctx context.Context, req CreateUserRequest, actor *models.User) (*models.User, error) {
	if actor == nil || !actor.Role.Capabilities().CanManageUsers {
		return nil, apperrors.Forbidden("only administrators can create users")
	}

	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.auditor.LogUserCreated(ctx, actor.ID, user.ID, string(user.Role))
	return user, nil
}

func (s *userService) create(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("name is required")
	}
	if !models.IsValidRole(req.Role) {
		return nil, apperrors.Validation("invalid role %q", req.Role)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperrors.Validation("password must be at least %d characters", MinPasswordLength)
	}
	if len(req.Password) > maxPasswordBytes {
		return nil, apperrors.Validation("password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		Name:         name,
		Role:         req.Role,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, role models.Role) ([]*models.User, error) {
	if role != "" && !models.IsValidRole(role) {
		return nil, apperrors.Validation("invalid role %q", role)
	}
	return s.userRepo.List(ctx, role)
}

func (s *userService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *userService) EnsureBootstrapAdmin(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, nil
	}

	admins, err := s.userRepo.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		return nil, nil
	}

	req.Role = models.RoleAdmin
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "Administrator"
	}
	user, err := s.create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create bootstrap admin: %w", err)
	}

	s.logger.Info("Bootstrap administrator created", zap.String("user_id", user.ID.String()))
	s.auditor.LogUserCreated(ctx, uuid.Nil, user.ID, string(user.Role))
	return user, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperrors.Validation("email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", apperrors.Validation("invalid email address %q", raw)
	}
	return strings.ToLower(addr.Address), nil
}
