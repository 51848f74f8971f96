// Package relay ties authenticated connections to the registry, the presence
// tracker, the command router and the permission workflow.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"device-control-relay/internal/command"
	"device-control-relay/internal/domain"
	"device-control-relay/internal/metrics"
	"device-control-relay/internal/presence"
	"device-control-relay/internal/repository"
	"device-control-relay/internal/service"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"
)

const operationTimeout = 10 * time.Second

type Options struct {
	SendQueueSize    int
	HeartbeatTimeout time.Duration
}

type Relay struct {
	registry    *session.Registry
	tracker     *presence.Tracker
	router      *command.Router
	devices     *service.DeviceService
	permissions *service.PermissionService
	activity    repository.ActivityRepository
	opts        Options
	now         func() time.Time
	logger      *slog.Logger
}

func New(
	registry *session.Registry,
	tracker *presence.Tracker,
	router *command.Router,
	devices *service.DeviceService,
	permissions *service.PermissionService,
	activity repository.ActivityRepository,
	opts Options,
	logger *slog.Logger,
) *Relay {
	r := &Relay{
		registry:    registry,
		tracker:     tracker,
		router:      router,
		devices:     devices,
		permissions: permissions,
		activity:    activity,
		opts:        opts,
		now:         time.Now,
		logger:      logger.With("component", "relay"),
	}
	tracker.SetNotifier(r)
	return r
}

// Connect registers an authenticated session and performs the per-class
// arrival work: devices go online, admins receive the device list.
func (r *Relay) Connect(ctx context.Context, identity domain.Identity) (*session.Session, error) {
	s := session.New(identity, r.opts.SendQueueSize)

	superseded, err := r.registry.Register(s)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues(string(identity.Class()), "rejected").Inc()
		return nil, err
	}
	metrics.HandshakesTotal.WithLabelValues(string(identity.Class()), "accepted").Inc()
	metrics.ActiveSessions.WithLabelValues(string(identity.Class())).Inc()
	if superseded != nil {
		metrics.ActiveSessions.WithLabelValues(string(identity.Class())).Dec()
	}

	switch identity.Class() {
	case domain.SessionClassDevice:
		r.connectDevice(ctx, s, superseded != nil)
	case domain.SessionClassAdmin:
		r.connectAdmin(ctx, s)
	}

	r.logger.Info("session connected", "session_id", s.ID, "identity", identity.String(), "org_id", identity.OrgID())
	return s, nil
}

func (r *Relay) connectDevice(ctx context.Context, s *session.Session, reconnect bool) {
	device := s.Identity.Device
	if err := r.registry.JoinGroup(s.ID, session.OrgDevicesGroup(device.OrgID)); err != nil {
		r.logger.Warn("failed to join device group", "device_id", device.DeviceID, "error", err)
	}

	tr, err := r.tracker.Connected(ctx, device.DeviceID, device.OrgID, s.ID)
	r.observe(tr, err, device.DeviceID)

	r.audit(ctx, &domain.ActivityLog{
		OrgID:    device.OrgID,
		DeviceID: device.DeviceID,
		Action:   domain.ActionDeviceConnected,
		Details:  map[string]interface{}{"session_id": s.ID, "reconnect": reconnect},
	})
}

func (r *Relay) connectAdmin(ctx context.Context, s *session.Session) {
	admin := s.Identity.Admin

	// Plain users only receive what is addressed to them.
	var g session.Group
	switch {
	case admin.Role == domain.RoleSuperadmin:
		g = session.SuperadminsGroup
	case admin.Role.CanCommand():
		g = session.OrgAdminsGroup(admin.OrgID)
	}
	if g != "" {
		if err := r.registry.JoinGroup(s.ID, g); err != nil {
			r.logger.Warn("failed to join admin group", "user_id", admin.UserID, "error", err)
		}
	}

	views, degraded, err := r.devices.Live(ctx, *admin)
	if err != nil {
		r.logger.Error("failed to list devices for console", "user_id", admin.UserID, "error", err)
		views = []domain.DeviceView{}
	}
	if degraded {
		metrics.DegradedOperationsTotal.WithLabelValues("connected_devices").Inc()
	}
	r.router.Reply(s, websocket.TypeConnectedDevices, views)
}

// Disconnected runs when a connection's read loop ends. A session that was
// already superseded or evicted is left alone: its device may well be online
// on a newer socket.
func (r *Relay) Disconnected(s *session.Session) {
	if _, ok := r.registry.Unregister(s.ID); !ok {
		r.logger.Debug("closed session already replaced", "session_id", s.ID, "identity", s.Identity.String())
		return
	}
	metrics.ActiveSessions.WithLabelValues(string(s.Identity.Class())).Dec()
	r.logger.Info("session disconnected", "session_id", s.ID, "identity", s.Identity.String())

	if s.Identity.Device != nil {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		r.deviceGone(ctx, s.Identity.Device, s.ID, "transport_closed")
	}
}

// deviceGone moves the device offline on behalf of sessionID. It reports
// false when a newer session already owns the device's presence.
func (r *Relay) deviceGone(ctx context.Context, device *domain.DeviceIdentity, sessionID, reason string) bool {
	tr, err := r.tracker.Disconnected(ctx, device.DeviceID, sessionID)
	r.observe(tr, err, device.DeviceID)
	if err != nil {
		return false
	}

	r.audit(ctx, &domain.ActivityLog{
		OrgID:    device.OrgID,
		DeviceID: device.DeviceID,
		Action:   domain.ActionDeviceDisconnected,
		Details:  map[string]interface{}{"reason": reason, "session_id": sessionID},
	})
	return true
}

// StatusChanged fans a device status change out to the device's organization
// admins and to superadmins.
func (r *Relay) StatusChanged(t presence.Transition) {
	metrics.StatusTransitionsTotal.WithLabelValues(string(t.To)).Inc()

	payload := websocket.DeviceStatusUpdatePayload{
		DeviceID:  t.DeviceID,
		Status:    t.To,
		Timestamp: t.At,
	}
	r.router.Publish(session.OrgAdminsGroup(t.OrgID), websocket.TypeDeviceStatusUpdate, payload)
	r.router.Publish(session.SuperadminsGroup, websocket.TypeDeviceStatusUpdate, payload)
}

func (r *Relay) observe(tr presence.Transition, err error, deviceID string) {
	if errors.Is(err, presence.ErrStaleSession) {
		r.logger.Debug("presence event from replaced session ignored", "device_id", deviceID, "error", err)
		return
	}
	if err != nil {
		r.logger.Warn("presence event rejected", "device_id", deviceID, "error", err)
		return
	}
	if tr.Degraded {
		metrics.DegradedOperationsTotal.WithLabelValues("status_mirror").Inc()
	}
}

// EvictStale forces offline every device whose last heartbeat is older than
// the timeout and closes the session that owned it. A device that reconnected
// after the scan keeps its new session.
func (r *Relay) EvictStale(ctx context.Context) int {
	cutoff := r.now().Add(-r.opts.HeartbeatTimeout)

	evicted := 0
	for _, record := range r.tracker.Stale(cutoff) {
		identity := &domain.DeviceIdentity{DeviceID: record.DeviceID, OrgID: record.OrgID}

		if s, removed := r.registry.Unregister(record.SessionID); removed {
			metrics.ActiveSessions.WithLabelValues(string(domain.SessionClassDevice)).Dec()
			identity = s.Identity.Device
		}

		if !r.deviceGone(ctx, identity, record.SessionID, "heartbeat_timeout") {
			continue
		}
		r.logger.Warn("evicted device after missed heartbeats", "device_id", record.DeviceID, "session_id", record.SessionID, "cutoff", cutoff)
		metrics.EvictionsTotal.Inc()
		evicted++
	}
	return evicted
}

func (r *Relay) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.EvictStale(ctx)
		}
	}
}

// Shutdown closes every live session so their write loops send close frames.
func (r *Relay) Shutdown() {
	for _, s := range r.registry.Sessions() {
		r.registry.Unregister(s.ID)
	}
	r.logger.Info("all sessions closed")
}

// HandleMessage dispatches one inbound frame by the session's class.
func (r *Relay) HandleMessage(s *session.Session, msg *websocket.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if msg.Type == websocket.TypePing {
		r.router.Reply(s, websocket.TypePong, nil)
		return
	}

	switch {
	case s.Identity.Device != nil:
		r.handleDeviceMessage(ctx, s, msg)
	case s.Identity.Admin != nil:
		r.handleAdminMessage(ctx, s, msg)
	}
}

func (r *Relay) audit(ctx context.Context, entry *domain.ActivityLog) bool {
	entry.ID = newID()
	entry.CreatedAt = r.now().UTC()
	if err := r.activity.Append(ctx, entry); err != nil {
		metrics.DegradedOperationsTotal.WithLabelValues(string(entry.Action)).Inc()
		r.logger.Warn("activity log unavailable, operation degraded", "action", entry.Action, "device_id", entry.DeviceID, "error", err)
		return false
	}
	return true
}

func decode(msg *websocket.Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", domain.ErrInvalidPayload, msg.Type)
	}
	if err := msg.UnmarshalPayload(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}
	return service.Validate(v)
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrExpired) ||
		errors.Is(err, domain.ErrDuplicatePending) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrUnknownDevice)
}
