package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/repository"
	"device-control-relay/pkg/hash"
	"device-control-relay/pkg/jwt"
)

// AuthService resolves a handshake into an Identity. Admins present a signed
// console token; devices present their enrolled id and, if one was issued,
// their enrollment key.
type AuthService struct {
	devices   repository.DeviceRepository
	users     repository.UserRepository
	revoked   repository.TokenRevocationList
	jwtSecret string
	logger    *slog.Logger
}

func NewAuthService(
	devices repository.DeviceRepository,
	users repository.UserRepository,
	revoked repository.TokenRevocationList,
	jwtSecret string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		devices:   devices,
		users:     users,
		revoked:   revoked,
		jwtSecret: jwtSecret,
		logger:    logger.With("component", "auth"),
	}
}

func (s *AuthService) VerifyAdminToken(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := jwt.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
	}

	role := domain.Role(claims.Role)
	if !role.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: unknown role %q", domain.ErrAuthenticationFailed, claims.Role)
	}
	if role != domain.RoleSuperadmin && claims.OrganizationID == "" {
		return domain.Identity{}, fmt.Errorf("%w: token carries no organization", domain.ErrAuthenticationFailed)
	}

	if s.revoked != nil && claims.ID != "" {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Error("revocation list unavailable, rejecting token", "user_id", claims.UserID, "error", err)
			return domain.Identity{}, fmt.Errorf("%w: revocation check: %w", domain.ErrAuthenticationFailed, err)
		}
		if revoked {
			return domain.Identity{}, fmt.Errorf("%w: token revoked", domain.ErrAuthenticationFailed)
		}
	}

	name := claims.Name
	if name == "" && s.users != nil {
		user, err := s.users.FindByID(ctx, claims.UserID)
		switch {
		case err == nil:
			name = user.FullName
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("failed to load admin profile", "user_id", claims.UserID, "error", err)
		}
	}

	return domain.NewAdminIdentity(claims.UserID, name, role, claims.OrganizationID), nil
}

func (s *AuthService) AuthenticateDevice(ctx context.Context, deviceID, key string) (domain.Identity, error) {
	if deviceID == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing device id", domain.ErrAuthenticationFailed)
	}

	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: %w: %s", domain.ErrAuthenticationFailed, domain.ErrUnknownDevice, deviceID)
		}
		return domain.Identity{}, fmt.Errorf("failed to load device %s: %w", deviceID, err)
	}

	if device.KeyHash != "" {
		if err := hash.Compare(device.KeyHash, key); err != nil {
			return domain.Identity{}, fmt.Errorf("%w: device key mismatch", domain.ErrAuthenticationFailed)
		}
	}

	return domain.NewDeviceIdentity(device.ID, device.OrganizationID, device.Hostname), nil
}
