package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"device-control-relay/internal/command"
	"device-control-relay/internal/domain"
	"device-control-relay/internal/metrics"
	"device-control-relay/internal/repository"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"

	"github.com/google/uuid"
)

// Dispatcher is the part of the command router the services talk to.
type Dispatcher interface {
	Send(msgType websocket.MessageType, deviceID string, payload interface{}, originAdminID string) command.Result
	SendToAdmin(msgType websocket.MessageType, adminID string, payload interface{}, originID string) command.Result
	Broadcast(msgType websocket.MessageType, payload interface{}, targets command.Targets, originAdminID string) []command.Result
	Publish(g session.Group, msgType websocket.MessageType, payload interface{}) int
}

type PermissionService struct {
	devices     repository.DeviceRepository
	permissions repository.PermissionRepository
	activity    repository.ActivityRepository
	dispatcher  Dispatcher
	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger

	// createMu closes the gap between the pending lookup and the insert.
	createMu sync.Mutex
}

func NewPermissionService(
	devices repository.DeviceRepository,
	permissions repository.PermissionRepository,
	activity repository.ActivityRepository,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *PermissionService {
	return &PermissionService{
		devices:     devices,
		permissions: permissions,
		activity:    activity,
		dispatcher:  dispatcher,
		ttl:         domain.PermissionRequestTTL,
		now:         time.Now,
		logger:      logger.With("component", "permission_workflow"),
	}
}

func (s *PermissionService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PermissionService) Create(ctx context.Context, actor domain.AdminIdentity, req domain.CreatePermissionRequest) (*Outcome, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	device, err := s.devices.FindByID(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.PermissionRequestsTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("device %s: %w", req.DeviceID, domain.ErrUnknownDevice)
		}
		return nil, err
	}
	if actor.Role != domain.RoleSuperadmin && actor.OrgID != device.OrganizationID {
		metrics.PermissionRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("device %s belongs to another organization: %w", device.ID, domain.ErrForbidden)
	}

	request, err := s.insert(ctx, actor, device, req)
	if err != nil {
		return nil, err
	}

	metrics.PermissionRequestsTotal.WithLabelValues("created").Inc()
	s.logger.Info("permission request created",
		"request_id", request.ID,
		"device_id", request.DeviceID,
		"user_id", actor.UserID,
		"type", request.Type,
	)

	outcome := &Outcome{Request: request}
	outcome.Degraded = !s.record(ctx, &domain.ActivityLog{
		OrgID:    request.OrgID,
		DeviceID: request.DeviceID,
		UserID:   actor.UserID,
		Action:   domain.ActionPermissionRequested,
		Details: map[string]interface{}{
			"request_id":   request.ID,
			"request_type": request.Type,
			"reason":       request.Reason,
		},
	})

	requesterName := actor.Name
	if requesterName == "" {
		requesterName = actor.UserID
	}
	event := websocket.PermissionRequestPayload{
		RequestID:      request.ID,
		DeviceID:       device.ID,
		DeviceHostname: device.Hostname,
		RequestType:    request.Type,
		RequesterName:  requesterName,
		Reason:         request.Reason,
	}
	for _, g := range []session.Group{session.OrgAdminsGroup(device.OrganizationID), session.SuperadminsGroup} {
		s.dispatcher.Publish(g, websocket.TypePermissionRequest, event)
	}

	return outcome, nil
}

func (s *PermissionService) insert(ctx context.Context, actor domain.AdminIdentity, device *domain.Device, req domain.CreatePermissionRequest) (*domain.PermissionRequest, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	existing, err := s.permissions.FindPending(ctx, device.ID, actor.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if existing != nil {
		if !existing.ExpiredAt(now) {
			metrics.PermissionRequestsTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("request %s: %w", existing.ID, domain.ErrDuplicatePending)
		}
		// The sweeper has not reached it yet.
		if _, err := s.expire(ctx, existing); err != nil {
			return nil, err
		}
	}

	request := &domain.PermissionRequest{
		ID:          uuid.New().String(),
		DeviceID:    device.ID,
		OrgID:       device.OrganizationID,
		RequesterID: actor.UserID,
		Type:        req.RequestType,
		Reason:      req.Reason,
		Status:      domain.PermissionStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.permissions.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to persist permission request: %w", err)
	}
	return request, nil
}

// Resolve approves or denies a pending request. It succeeds at most once per
// request; the store's compare-and-set decides between racing resolvers and
// the sweeper.
func (s *PermissionService) Resolve(ctx context.Context, actor domain.AdminIdentity, requestID string, req domain.ResolvePermissionRequest) (*Outcome, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if !actor.Role.CanCommand() {
		return nil, fmt.Errorf("role %s cannot resolve requests: %w", actor.Role, domain.ErrForbidden)
	}

	request, err := s.permissions.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := terminalError(request); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleSuperadmin && actor.OrgID != request.OrgID {
		return nil, fmt.Errorf("request %s belongs to another organization: %w", request.ID, domain.ErrForbidden)
	}

	if request.ExpiredAt(s.now()) {
		if _, err := s.expire(ctx, request); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s: %w", request.ID, domain.ErrExpired)
	}

	status := domain.PermissionStatusDenied
	if *req.Approved {
		status = domain.PermissionStatusApproved
	}

	updated, err := s.permissions.Transition(ctx, request.ID, domain.PermissionStatusPending, repository.PermissionUpdate{
		Status:     status,
		ResolvedBy: actor.UserID,
		ResolvedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, s.lostRace(ctx, request.ID)
		}
		return nil, fmt.Errorf("failed to resolve request %s: %w", request.ID, err)
	}

	metrics.PermissionRequestsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("permission request resolved",
		"request_id", updated.ID,
		"device_id", updated.DeviceID,
		"user_id", actor.UserID,
		"status", status,
	)

	outcome := &Outcome{Request: updated}
	if status == domain.PermissionStatusApproved && updated.Type == domain.PermissionTypeUnlock {
		result := s.dispatcher.Send(websocket.TypeUnlockScreen, updated.DeviceID, websocket.UnlockScreenPayload{
			AdminID:   actor.UserID,
			RequestID: updated.ID,
			Timestamp: s.now(),
		}, actor.UserID)
		outcome.Delivery = &result
	}

	action := domain.ActionPermissionDenied
	if status == domain.PermissionStatusApproved {
		action = domain.ActionPermissionApproved
	}
	outcome.Degraded = !s.record(ctx, &domain.ActivityLog{
		OrgID:    updated.OrgID,
		DeviceID: updated.DeviceID,
		AdminID:  actor.UserID,
		UserID:   updated.RequesterID,
		Action:   action,
		Details: map[string]interface{}{
			"request_id": updated.ID,
			"reason":     req.Reason,
		},
	})

	adminName := actor.Name
	if adminName == "" {
		adminName = actor.UserID
	}
	s.notifyRequester(ctx, updated, websocket.PermissionResponsePayload{
		RequestID: updated.ID,
		Approved:  status == domain.PermissionStatusApproved,
		Reason:    req.Reason,
		AdminName: adminName,
	}, actor.UserID)

	return outcome, nil
}

// lostRace explains why a compare-and-set on a pending request failed.
func (s *PermissionService) lostRace(ctx context.Context, requestID string) error {
	current, err := s.permissions.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if err := terminalError(current); err != nil {
		return err
	}
	return fmt.Errorf("request %s: %w", requestID, domain.ErrConflict)
}

func terminalError(request *domain.PermissionRequest) error {
	switch request.Status {
	case domain.PermissionStatusExpired:
		return fmt.Errorf("request %s: %w", request.ID, domain.ErrExpired)
	case domain.PermissionStatusApproved, domain.PermissionStatusDenied:
		return fmt.Errorf("request %s already %s: %w", request.ID, request.Status, domain.ErrNotFound)
	}
	return nil
}

// SweepExpired moves every pending request past its deadline to expired. It
// is idempotent and safe to run alongside Resolve.
func (s *PermissionService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	requests, err := s.permissions.ListExpirable(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable requests: %w", err)
	}

	expired := 0
	for _, request := range requests {
		if !request.ExpiredAt(now) {
			continue
		}
		ok, err := s.expire(ctx, request)
		if err != nil {
			s.logger.Error("failed to expire request", "request_id", request.ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("expired permission requests", "count", expired)
	}
	return expired, nil
}

// expire reports false when someone else settled the request first.
func (s *PermissionService) expire(ctx context.Context, request *domain.PermissionRequest) (bool, error) {
	updated, err := s.permissions.Transition(ctx, request.ID, domain.PermissionStatusPending, repository.PermissionUpdate{
		Status:     domain.PermissionStatusExpired,
		ResolvedBy: domain.SystemResolver,
		ResolvedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	metrics.PermissionRequestsTotal.WithLabelValues(string(domain.PermissionStatusExpired)).Inc()
	s.record(ctx, &domain.ActivityLog{
		OrgID:    updated.OrgID,
		DeviceID: updated.DeviceID,
		UserID:   updated.RequesterID,
		Action:   domain.ActionPermissionExpired,
		Details:  map[string]interface{}{"request_id": updated.ID},
	})
	s.notifyRequester(ctx, updated, websocket.PermissionResponsePayload{
		RequestID: updated.ID,
		Expired:   true,
		AdminName: domain.SystemResolver,
	}, domain.SystemResolver)
	return true, nil
}

func (s *PermissionService) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("permission sweep failed", "error", err)
			}
		}
	}
}

// ApproveOverlappingUnlocks settles every pending unlock request for a device
// that an admin has just unlocked directly. The relay is recorded as the
// resolver.
func (s *PermissionService) ApproveOverlappingUnlocks(ctx context.Context, deviceID string) (int, error) {
	pending, err := s.permissions.List(ctx, repository.PermissionFilter{
		DeviceID: deviceID,
		Status:   domain.PermissionStatusPending,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending requests for %s: %w", deviceID, err)
	}

	approved := 0
	for _, request := range pending {
		if request.Type != domain.PermissionTypeUnlock {
			continue
		}
		if request.ExpiredAt(s.now()) {
			if _, err := s.expire(ctx, request); err != nil {
				s.logger.Error("failed to expire request", "request_id", request.ID, "error", err)
			}
			continue
		}

		updated, err := s.permissions.Transition(ctx, request.ID, domain.PermissionStatusPending, repository.PermissionUpdate{
			Status:     domain.PermissionStatusApproved,
			ResolvedBy: domain.SystemResolver,
			ResolvedAt: s.now().UTC(),
		})
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				s.logger.Error("failed to auto-approve request", "request_id", request.ID, "error", err)
			}
			continue
		}

		approved++
		metrics.PermissionRequestsTotal.WithLabelValues(string(domain.PermissionStatusApproved)).Inc()
		s.record(ctx, &domain.ActivityLog{
			OrgID:    updated.OrgID,
			DeviceID: updated.DeviceID,
			AdminID:  domain.SystemResolver,
			UserID:   updated.RequesterID,
			Action:   domain.ActionPermissionApproved,
			Details:  map[string]interface{}{"request_id": updated.ID, "direct_unlock": true},
		})
		s.notifyRequester(ctx, updated, websocket.PermissionResponsePayload{
			RequestID: updated.ID,
			Approved:  true,
			AdminName: domain.SystemResolver,
		}, domain.SystemResolver)
	}

	if approved > 0 {
		s.logger.Info("auto-approved pending unlock requests", "device_id", deviceID, "count", approved)
	}
	return approved, nil
}

// List returns requests visible to an admin: their organization's, or every
// organization's for a superadmin.
func (s *PermissionService) List(ctx context.Context, actor domain.AdminIdentity, status domain.PermissionStatus) ([]*domain.PermissionRequest, error) {
	if !actor.Role.CanCommand() {
		return nil, fmt.Errorf("role %s cannot list requests: %w", actor.Role, domain.ErrForbidden)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidPayload, status)
	}

	filter := repository.PermissionFilter{Status: status, Limit: 100}
	if actor.Role != domain.RoleSuperadmin {
		filter.OrgID = actor.OrgID
	}
	return s.permissions.List(ctx, filter)
}

func (s *PermissionService) Mine(ctx context.Context, actor domain.AdminIdentity) ([]*domain.PermissionRequest, error) {
	return s.permissions.List(ctx, repository.PermissionFilter{RequesterID: actor.UserID, Limit: 50})
}

func (s *PermissionService) notifyRequester(ctx context.Context, request *domain.PermissionRequest, payload websocket.PermissionResponsePayload, originID string) {
	payload.DeviceHostname = request.DeviceID
	if device, err := s.devices.FindByID(ctx, request.DeviceID); err == nil && device.Hostname != "" {
		payload.DeviceHostname = device.Hostname
	}

	result := s.dispatcher.SendToAdmin(websocket.TypePermissionResponse, request.RequesterID, payload, originID)
	if !result.Delivered {
		s.logger.Info("requester not connected, response not delivered",
			"request_id", request.ID,
			"user_id", request.RequesterID,
		)
	}
}

// record appends to the activity log and reports whether it succeeded.
func (s *PermissionService) record(ctx context.Context, entry *domain.ActivityLog) bool {
	return appendActivity(ctx, s.activity, entry, s.now, s.logger)
}

func appendActivity(ctx context.Context, repo repository.ActivityRepository, entry *domain.ActivityLog, now func() time.Time, logger *slog.Logger) bool {
	entry.ID = uuid.New().String()
	entry.CreatedAt = now().UTC()

	if err := repo.Append(ctx, entry); err != nil {
		metrics.DegradedOperationsTotal.WithLabelValues(string(entry.Action)).Inc()
		logger.Warn("activity log unavailable, operation degraded",
			"action", entry.Action,
			"device_id", entry.DeviceID,
			"error", err,
		)
		return false
	}
	return true
}
