package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"device-control-relay/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	// ListByOrganization lists the organization's devices; an empty orgID
	// lists every device.
	ListByOrganization(ctx context.Context, orgID string) ([]*domain.Device, error)
	UpdateStatus(ctx context.Context, deviceID string, status domain.DeviceStatus, lastSeen time.Time, currentUserID string) error
}

type UserRepository interface {
	FindByID(ctx context.Context, userID string) (*domain.User, error)
}

type PermissionFilter struct {
	OrgID       string
	RequesterID string
	DeviceID    string
	Status      domain.PermissionStatus
	Limit       int
}

// PermissionUpdate is applied by Transition only if the stored status still
// equals the expected one.
type PermissionUpdate struct {
	Status     domain.PermissionStatus
	ResolvedBy string
	ResolvedAt time.Time
}

type PermissionRepository interface {
	Create(ctx context.Context, req *domain.PermissionRequest) error
	FindByID(ctx context.Context, id string) (*domain.PermissionRequest, error)
	// FindPending returns nil, nil when the pair has no pending request.
	FindPending(ctx context.Context, deviceID, requesterID string) (*domain.PermissionRequest, error)
	List(ctx context.Context, filter PermissionFilter) ([]*domain.PermissionRequest, error)
	ListExpirable(ctx context.Context, now time.Time) ([]*domain.PermissionRequest, error)
	// Transition fails with domain.ErrConflict when the request is no longer
	// in status from.
	Transition(ctx context.Context, id string, from domain.PermissionStatus, update PermissionUpdate) (*domain.PermissionRequest, error)
}

type ActivityRepository interface {
	Append(ctx context.Context, entry *domain.ActivityLog) error
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
}
