// seed-users creates accounts listed in a YAML file. Existing emails are
// skipped, so the command can be re-run after editing the file.
//
// Usage: go run ./scripts/seed-users users.yaml
//
// File format:
//
//	users:
//	  - email: maria.santos@example.gov
//	    name: Maria Santos
//	    role: supervisor
//	    password: change-me-now
//
// A password may be omitted when SEED_DEFAULT_PASSWORD is set.
// Configuration: same config.yaml / environment variables as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/signportal/pkg/apperrors"
	"github.com/ekaya-inc/signportal/pkg/audit"
	"github.com/ekaya-inc/signportal/pkg/config"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/models"
	"github.com/ekaya-inc/signportal/pkg/repositories"
	"github.com/ekaya-inc/signportal/pkg/services"
)

type seedFile struct {
	Users []seedUser `yaml:"users"`
}

type seedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <users.yaml>\n", os.Args[0])
		os.Exit(1)
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	requests, err := parseSeedFile(raw, os.Getenv("SEED_DEFAULT_PASSWORD"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid seed file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("seed-users")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &database.Config{URL: cfg.Database.URL(), MaxConnections: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	scopedCtx, release, err := db.ScopedContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire connection: %v\n", err)
		os.Exit(1)
	}
	defer release()

	logger := zap.NewNop()
	users := services.NewUserService(repositories.NewUserRepository(), audit.NewSecurityAuditor(logger), 0, logger)
	// Seeding acts with administrator rights.
	operator := &models.User{Role: models.RoleAdmin}

	created, skipped, failed := 0, 0, 0
	for _, req := range requests {
		user, err := users.Create(scopedCtx, req, operator)
		switch {
		case err == nil:
			created++
			fmt.Printf("CREATED  %-40s %s\n", user.Email, user.Role)
		case errors.Is(err, apperrors.ErrConflict):
			skipped++
			fmt.Printf("EXISTS   %s\n", req.Email)
		default:
			failed++
			fmt.Fprintf(os.Stderr, "FAILED   %s: %v\n", req.Email, err)
		}
	}

	fmt.Printf("Created: %d  Existing: %d  Failed: %d\n", created, skipped, failed)
	if failed > 0 {
		os.Exit(2)
	}
}

// parseSeedFile decodes the YAML list and fills missing passwords with
// defaultPassword. Field validation is left to UserService.
func parseSeedFile(raw []byte, defaultPassword string) ([]services.CreateUserRequest, error) {
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if len(file.Users) == 0 {
		return nil, errors.New("no users listed")
	}

	requests := make([]services.CreateUserRequest, 0, len(file.Users))
	for i, u := range file.Users {
		password := u.Password
		if password == "" {
			password = defaultPassword
		}
		if password == "" {
			return nil, fmt.Errorf("user %d (%s) has no password and SEED_DEFAULT_PASSWORD is not set", i+1, u.Email)
		}
		requests = append(requests, services.CreateUserRequest{
			Email:    u.Email,
			Name:     u.Name,
			Role:     models.Role(u.Role),
			Password: password,
		})
	}
	return requests, nil
}
