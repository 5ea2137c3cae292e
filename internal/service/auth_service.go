package service

import (
	"context"
	"strings"
	"time"

	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/pkg/ids"
	"github.com/quarryai/quarry/internal/pkg/jwt"
	"github.com/quarryai/quarry/internal/pkg/password"
	"github.com/quarryai/quarry/internal/repo"
	"github.com/quarryai/quarry/internal/tenant"
)

type AuthService struct {
	tenants   *repo.TenantRepo
	users     *repo.UserRepo
	jwtSecret []byte
	jwtTTL    time.Duration
}

func NewAuthService(tenants *repo.TenantRepo, users *repo.UserRepo, secret []byte, ttl time.Duration) *AuthService {
	return &AuthService{tenants: tenants, users: users, jwtSecret: secret, jwtTTL: ttl}
}

// RegisterTenant provisions a tenant and its first admin user in one call.
func (s *AuthService) RegisterTenant(ctx context.Context, slug, name, email, plainPassword, fullName string) (*model.User, string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" || email == "" || plainPassword == "" {
		return nil, "", appErr.Validationf("slug, email and password are required")
	}
	t := &model.Tenant{
		ID:     ids.New(),
		Slug:   slug,
		Name:   name,
		Status: model.TenantStatusActive,
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, "", err
	}
	return s.register(tenant.WithTenant(ctx, t.ID), t.ID, email, plainPassword, fullName, true)
}

// Register creates a user inside an existing tenant.
func (s *AuthService) Register(ctx context.Context, tenantSlug, email, plainPassword, fullName string) (*model.User, string, error) {
	if email == "" || plainPassword == "" {
		return nil, "", appErr.Validationf("email and password are required")
	}
	t, err := s.activeTenant(ctx, tenantSlug)
	if err != nil {
		return nil, "", err
	}
	return s.register(tenant.WithTenant(ctx, t.ID), t.ID, email, plainPassword, fullName, false)
}

func (s *AuthService) register(ctx context.Context, tenantID, email, plainPassword, fullName string, admin bool) (*model.User, string, error) {
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, "", err
	}
	user := &model.User{
		ID:           ids.New(),
		TenantID:     tenantID,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		FullName:     fullName,
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      admin,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}
	token, err := jwt.GenerateToken(user.ID, user.TenantID, user.Email, s.jwtSecret, s.jwtTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login authenticates within the tenant named by slug. Lookup failures and
// bad passwords collapse into one unauthorized error.
func (s *AuthService) Login(ctx context.Context, tenantSlug, email, plainPassword string) (*model.User, string, error) {
	t, err := s.activeTenant(ctx, tenantSlug)
	if err != nil {
		return nil, "", appErr.ErrUnauthorized
	}
	scoped := tenant.WithTenant(ctx, t.ID)
	user, err := s.users.GetByEmail(scoped, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, "", appErr.ErrUnauthorized
	}
	if !user.IsActive {
		return nil, "", appErr.ErrUnauthorized
	}
	if err := password.Compare(user.PasswordHash, plainPassword); err != nil {
		return nil, "", appErr.ErrUnauthorized
	}
	token, err := jwt.GenerateToken(user.ID, user.TenantID, user.Email, s.jwtSecret, s.jwtTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) activeTenant(ctx context.Context, slug string) (*model.Tenant, error) {
	t, err := s.tenants.GetBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return nil, err
	}
	if t.Status != model.TenantStatusActive {
		return nil, appErr.ErrForbidden
	}
	return t, nil
}
