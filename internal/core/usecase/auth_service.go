package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
)

var ErrUnauthorized = errors.New("unauthorized")

type AuthService struct {
	users ports.UserRepository
}

func NewAuthService(users ports.UserRepository) *AuthService {
	return &AuthService{users: users}
}

// Authenticate resolves a bearer token to the calling user and its grants.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Caller{}, ErrUnauthorized
	}

	user, err := s.users.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Caller{}, ErrUnauthorized
		}
		return domain.Caller{}, err
	}
	if !user.Active {
		return domain.Caller{}, ErrUnauthorized
	}

	grants, err := s.users.Grants(ctx, user.ID)
	if err != nil {
		return domain.Caller{}, fmt.Errorf("load grants: %w", err)
	}
	return domain.Caller{User: user, Grants: grants}, nil
}

// Bootstrap creates or refreshes a user that authenticates with token.
func (s *AuthService) Bootstrap(ctx context.Context, username, token string, defaultTenant domain.TenantID, staff bool) (domain.User, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(token) == "" {
		return domain.User{}, fmt.Errorf("%w: username and token are required", domain.ErrInvalidName)
	}
	if defaultTenant <= 0 {
		return domain.User{}, fmt.Errorf("%w: default tenant %d", domain.ErrInvalidIdentifier, defaultTenant)
	}
	return s.users.Upsert(ctx, domain.User{
		Username:      username,
		TokenHash:     HashToken(token),
		DefaultTenant: defaultTenant,
		Staff:         staff,
		Active:        true,
	})
}

func (s *AuthService) Grant(ctx context.Context, userID int64, tenant domain.TenantID, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", domain.ErrInvalidName, role)
	}
	if tenant <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidIdentifier, tenant)
	}
	return s.users.Grant(ctx, domain.AccessGrant{UserID: userID, TenantID: tenant, Role: role})
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
