package auth

import (
	"context"
	"fmt"
	"time"

	"ea-license-server/internal/database"
	"ea-license-server/internal/logging"
)

// Service handles operator authentication against the admin_users
// table
type Service struct {
	repo      *database.Repository
	jwt       *JWTManager
	passwords *PasswordManager
	logger    *logging.Logger
}

// NewService creates an authentication service
func NewService(repo *database.Repository, jwt *JWTManager, passwords *PasswordManager) *Service {
	return &Service{
		repo:      repo,
		jwt:       jwt,
		passwords: passwords,
		logger:    logging.WithComponent("auth"),
	}
}

// Login authenticates an operator and returns a signed session token
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	user, err := s.repo.GetAdminUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil || !s.passwords.VerifyPassword(password, user.PasswordHash) {
		// Same error for unknown email and wrong password
		s.logger.Warn("failed login attempt", "email", email)
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(OperatorClaims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.repo.TouchAdminLogin(ctx, user.ID, now); err != nil {
		s.logger.WithError(err).Warn("failed to record login time", "user_id", user.ID)
	}

	s.logger.Info("operator logged in", "user_id", user.ID, "email", user.Email)
	return &LoginResponse{
		User: OperatorResponse{
			ID:          user.ID,
			Email:       user.Email,
			Name:        user.Name,
			Role:        user.Role,
			LastLoginAt: &now,
			CreatedAt:   user.CreatedAt,
		},
		AccessToken: token,
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
	}, nil
}

// ChangePassword rotates an operator's password after verifying the
// current one
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.repo.GetAdminUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil || !s.passwords.VerifyPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := s.passwords.ValidatePasswordStrength(newPassword); err != nil {
		return ErrWeakPassword
	}

	hash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdateAdminPassword(ctx, user.ID, hash)
}

// SeedAdmin creates the initial admin account when the table is
// empty, so a fresh deployment is reachable without manual SQL
func (s *Service) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	count, err := s.repo.CountAdminUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to check admin users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		return err
	}

	user := &database.AdminUser{
		Email:        email,
		PasswordHash: hash,
		Name:         "Administrator",
		Role:         RoleAdmin,
	}
	if err := s.repo.CreateAdminUser(ctx, user); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	s.logger.Info("seeded initial admin account", "email", email)
	return nil
}
