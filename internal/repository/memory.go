package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"device-control-relay/internal/domain"
)

// In-memory implementations back the relay when DB_DRIVER=memory and serve
// as the persistence fake in tests.

type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device
}

func NewMemoryDeviceRepository(devices ...*domain.Device) *MemoryDeviceRepository {
	r := &MemoryDeviceRepository{devices: make(map[string]*domain.Device)}
	for _, d := range devices {
		r.Put(d)
	}
	return r
}

func (r *MemoryDeviceRepository) Put(device *domain.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := *device
	r.devices[d.ID] = &d
}

func (r *MemoryDeviceRepository) FindByID(_ context.Context, deviceID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	device := *d
	return &device, nil
}

func (r *MemoryDeviceRepository) ListByOrganization(_ context.Context, orgID string) ([]*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []*domain.Device
	for _, d := range r.devices {
		if orgID != "" && d.OrganizationID != orgID {
			continue
		}
		device := *d
		devices = append(devices, &device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (r *MemoryDeviceRepository) UpdateStatus(_ context.Context, deviceID string, status domain.DeviceStatus, lastSeen time.Time, currentUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	if d.LastSeen.After(lastSeen) {
		return nil
	}
	d.Status = status
	d.LastSeen = lastSeen
	if currentUserID != "" {
		d.CurrentUserID = currentUserID
	}
	return nil
}

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func NewMemoryUserRepository(users ...*domain.User) *MemoryUserRepository {
	r := &MemoryUserRepository{users: make(map[string]*domain.User)}
	for _, u := range users {
		user := *u
		r.users[u.ID] = &user
	}
	return r
}

func (r *MemoryUserRepository) FindByID(_ context.Context, userID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	user := *u
	return &user, nil
}

type MemoryPermissionRepository struct {
	mu       sync.Mutex
	requests map[string]*domain.PermissionRequest
}

func NewMemoryPermissionRepository() *MemoryPermissionRepository {
	return &MemoryPermissionRepository{requests: make(map[string]*domain.PermissionRequest)}
}

func (r *MemoryPermissionRepository) Create(_ context.Context, req *domain.PermissionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return fmt.Errorf("permission request %s: %w", req.ID, domain.ErrConflict)
	}
	stored := *req
	r.requests[req.ID] = &stored
	return nil
}

func (r *MemoryPermissionRepository) FindByID(_ context.Context, id string) (*domain.PermissionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("permission request %s: %w", id, domain.ErrNotFound)
	}
	found := *req
	return &found, nil
}

func (r *MemoryPermissionRepository) FindPending(ctx context.Context, deviceID, requesterID string) (*domain.PermissionRequest, error) {
	requests, err := r.List(ctx, PermissionFilter{
		DeviceID:    deviceID,
		RequesterID: requesterID,
		Status:      domain.PermissionStatusPending,
		Limit:       1,
	})
	if err != nil || len(requests) == 0 {
		return nil, err
	}
	return requests[0], nil
}

func (r *MemoryPermissionRepository) List(_ context.Context, filter PermissionFilter) ([]*domain.PermissionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requests []*domain.PermissionRequest
	for _, req := range r.requests {
		if filter.OrgID != "" && req.OrgID != filter.OrgID {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.DeviceID != "" && req.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		found := *req
		requests = append(requests, &found)
	}

	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	if filter.Limit > 0 && len(requests) > filter.Limit {
		requests = requests[:filter.Limit]
	}
	return requests, nil
}

func (r *MemoryPermissionRepository) ListExpirable(_ context.Context, now time.Time) ([]*domain.PermissionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requests []*domain.PermissionRequest
	for _, req := range r.requests {
		if req.ExpiredAt(now) {
			found := *req
			requests = append(requests, &found)
		}
	}
	return requests, nil
}

func (r *MemoryPermissionRepository) Transition(_ context.Context, id string, from domain.PermissionStatus, update PermissionUpdate) (*domain.PermissionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("permission request %s: %w", id, domain.ErrNotFound)
	}
	if req.Status != from {
		return nil, fmt.Errorf("permission request %s is %s: %w", id, req.Status, domain.ErrConflict)
	}

	resolvedAt := update.ResolvedAt
	req.Status = update.Status
	req.ResolvedBy = update.ResolvedBy
	req.ResolvedAt = &resolvedAt

	updated := *req
	return &updated, nil
}

type MemoryActivityRepository struct {
	mu      sync.Mutex
	entries []domain.ActivityLog
}

func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{}
}

func (r *MemoryActivityRepository) Append(_ context.Context, entry *domain.ActivityLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryActivityRepository) Entries() []domain.ActivityLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]domain.ActivityLog, len(r.entries))
	copy(entries, r.entries)
	return entries
}
