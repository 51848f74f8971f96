package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"device-control-relay/internal/command"
	"device-control-relay/internal/domain"
	"device-control-relay/internal/presence"
	"device-control-relay/internal/repository"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"
)

// PresenceView is the read side of the presence tracker.
type PresenceView interface {
	Get(deviceID string) (presence.Record, bool)
	Snapshot(orgID string) []presence.Record
}

type SessionLookup interface {
	FindDevice(deviceID string) (*session.Session, bool)
}

// DeviceService authorizes admin commands against a device and hands them to
// the router. Authorization lives here, never in the router.
type DeviceService struct {
	devices     repository.DeviceRepository
	activity    repository.ActivityRepository
	permissions *PermissionService
	dispatcher  Dispatcher
	presence    PresenceView
	sessions    SessionLookup
	now         func() time.Time
	logger      *slog.Logger
}

func NewDeviceService(
	devices repository.DeviceRepository,
	activity repository.ActivityRepository,
	permissions *PermissionService,
	dispatcher Dispatcher,
	presence PresenceView,
	sessions SessionLookup,
	logger *slog.Logger,
) *DeviceService {
	return &DeviceService{
		devices:     devices,
		activity:    activity,
		permissions: permissions,
		dispatcher:  dispatcher,
		presence:    presence,
		sessions:    sessions,
		now:         time.Now,
		logger:      logger.With("component", "device_control"),
	}
}

// Authorize checks that actor may command deviceID. The organization of a
// connected device comes from its session; otherwise from the store.
func (s *DeviceService) Authorize(ctx context.Context, actor domain.AdminIdentity, deviceID string) error {
	if !actor.Role.CanCommand() {
		return fmt.Errorf("role %s cannot command devices: %w", actor.Role, domain.ErrForbidden)
	}
	if actor.Role == domain.RoleSuperadmin {
		return nil
	}

	orgID, err := s.deviceOrg(ctx, deviceID)
	if err != nil {
		return err
	}
	if orgID != actor.OrgID {
		return fmt.Errorf("device %s belongs to another organization: %w", deviceID, domain.ErrForbidden)
	}
	return nil
}

func (s *DeviceService) deviceOrg(ctx context.Context, deviceID string) (string, error) {
	if sess, ok := s.sessions.FindDevice(deviceID); ok {
		return sess.Identity.OrgID(), nil
	}
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("device %s: %w", deviceID, domain.ErrUnknownDevice)
		}
		return "", err
	}
	return device.OrganizationID, nil
}

// Forward authorizes and routes a command. An unreachable device is reported
// in the result, not as an error.
func (s *DeviceService) Forward(ctx context.Context, actor domain.AdminIdentity, msgType websocket.MessageType, deviceID string, payload interface{}) (command.Result, error) {
	if err := s.Authorize(ctx, actor, deviceID); err != nil {
		return command.Result{DeviceID: deviceID}, err
	}
	return s.dispatcher.Send(msgType, deviceID, payload, actor.UserID), nil
}

// Lock asks the device to lock. Presence stays untouched until the device
// acknowledges with screen-locked.
func (s *DeviceService) Lock(ctx context.Context, actor domain.AdminIdentity, deviceID string) (*Outcome, error) {
	result, err := s.Forward(ctx, actor, websocket.TypeLockScreen, deviceID, websocket.LockScreenPayload{
		AdminID:   actor.UserID,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Delivery: &result}
	outcome.Degraded = !s.audit(ctx, actor, deviceID, domain.ActionDeviceLocked, result)
	return outcome, nil
}

// Unlock asks the device to unlock. Once delivered, pending unlock requests
// for the device are settled by the relay.
func (s *DeviceService) Unlock(ctx context.Context, actor domain.AdminIdentity, deviceID string) (*Outcome, error) {
	result, err := s.Forward(ctx, actor, websocket.TypeUnlockScreen, deviceID, websocket.UnlockScreenPayload{
		AdminID:   actor.UserID,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Delivery: &result}
	outcome.Degraded = !s.audit(ctx, actor, deviceID, domain.ActionDeviceUnlocked, result)

	if result.Delivered && s.permissions != nil {
		if _, err := s.permissions.ApproveOverlappingUnlocks(ctx, deviceID); err != nil {
			s.logger.Warn("failed to settle overlapping unlock requests", "device_id", deviceID, "error", err)
			outcome.Degraded = true
		}
	}
	return outcome, nil
}

func (s *DeviceService) RequestScreenshot(ctx context.Context, actor domain.AdminIdentity, deviceID string) (*Outcome, error) {
	result, err := s.Forward(ctx, actor, websocket.TypeScreenshotRequest, deviceID, websocket.ScreenshotRequestPayload{
		AdminID:   actor.UserID,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Delivery: &result}, nil
}

// Broadcast sends a message to the listed devices, or to every connected
// device of the actor's organization. Listed devices the actor may not
// command are reported as forbidden.
func (s *DeviceService) Broadcast(ctx context.Context, actor domain.AdminIdentity, message string, deviceIDs []string) (*Outcome, error) {
	if !actor.Role.CanCommand() {
		return nil, fmt.Errorf("role %s cannot broadcast: %w", actor.Role, domain.ErrForbidden)
	}

	payload := websocket.BroadcastMessagePayload{
		Message:   message,
		AdminID:   actor.UserID,
		Timestamp: s.now(),
	}

	if len(deviceIDs) == 0 {
		results := s.dispatcher.Broadcast(websocket.TypeBroadcastMessage, payload, command.Targets{OrgID: actor.OrgID}, actor.UserID)
		return &Outcome{Results: results}, nil
	}

	allowed := make([]string, 0, len(deviceIDs))
	var rejected []command.Result
	for _, deviceID := range deviceIDs {
		if err := s.Authorize(ctx, actor, deviceID); err != nil {
			rejected = append(rejected, command.Result{DeviceID: deviceID, Err: err})
			continue
		}
		allowed = append(allowed, deviceID)
	}

	var results []command.Result
	if len(allowed) > 0 {
		results = s.dispatcher.Broadcast(websocket.TypeBroadcastMessage, payload, command.Targets{DeviceIDs: allowed}, actor.UserID)
	}
	return &Outcome{Results: append(results, rejected...)}, nil
}

// Live lists the devices visible to actor overlaid with live presence. When
// the store is down the live presence snapshot alone is returned, flagged
// degraded.
func (s *DeviceService) Live(ctx context.Context, actor domain.AdminIdentity) ([]domain.DeviceView, bool, error) {
	orgID := actor.OrgID
	if actor.Role == domain.RoleSuperadmin {
		orgID = ""
	}

	devices, err := s.devices.ListByOrganization(ctx, orgID)
	if err != nil {
		if !errors.Is(err, domain.ErrPersistenceUnavailable) {
			return nil, false, err
		}
		s.logger.Warn("device store unavailable, serving live presence only", "error", err)
		records := s.presence.Snapshot(orgID)
		views := make([]domain.DeviceView, 0, len(records))
		for _, rec := range records {
			views = append(views, s.view(&domain.Device{ID: rec.DeviceID, OrganizationID: rec.OrgID}))
		}
		return views, true, nil
	}

	views := make([]domain.DeviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, s.view(device))
	}
	return views, false, nil
}

func (s *DeviceService) view(device *domain.Device) domain.DeviceView {
	view := domain.DeviceView{
		ID:            device.ID,
		Hostname:      device.Hostname,
		Platform:      device.Platform,
		Status:        device.Status,
		LastSeen:      device.LastSeen,
		CurrentUserID: device.CurrentUserID,
	}
	if view.Status == "" {
		view.Status = domain.DeviceStatusOffline
	}

	if rec, ok := s.presence.Get(device.ID); ok {
		view.Status = rec.Status
		view.LastSeen = rec.LastSeen
		view.CurrentUserID = rec.CurrentUser
	}
	if sess, ok := s.sessions.FindDevice(device.ID); ok {
		view.Connected = true
		if view.Hostname == "" && sess.Identity.Device != nil {
			view.Hostname = sess.Identity.Device.Hostname
		}
	}
	return view
}

func (s *DeviceService) audit(ctx context.Context, actor domain.AdminIdentity, deviceID string, action domain.ActivityAction, result command.Result) bool {
	return appendActivity(ctx, s.activity, &domain.ActivityLog{
		OrgID:    actor.OrgID,
		DeviceID: deviceID,
		AdminID:  actor.UserID,
		Action:   action,
		Details: map[string]interface{}{
			"delivered": result.Delivered,
			"code":      domain.ErrorCode(result.Err),
		},
	}, s.now, s.logger)
}
