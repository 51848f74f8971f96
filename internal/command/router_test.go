package command

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"
)

func newTestRouter() (*Router, *session.Registry) {
	logger := slog.New(slog.DiscardHandler)
	registry := session.NewRegistry(0, logger)
	return NewRouter(registry, logger), registry
}

func registerDevice(t *testing.T, registry *session.Registry, deviceID, orgID string) *session.Session {
	t.Helper()
	s := session.New(domain.NewDeviceIdentity(deviceID, orgID, deviceID+".local"), 8)
	if _, err := registry.Register(s); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.JoinGroup(s.ID, session.OrgDevicesGroup(orgID)); err != nil {
		t.Fatalf("JoinGroup() error = %v", err)
	}
	return s
}

func readMessage(t *testing.T, s *session.Session) *websocket.Message {
	t.Helper()
	select {
	case frame := <-s.Outbound():
		var msg websocket.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		return &msg
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func TestRouter_SendDelivers(t *testing.T) {
	router, registry := newTestRouter()
	device := registerDevice(t, registry, "d1", "org-1")

	res := router.Send(websocket.TypeLockScreen, "d1", websocket.LockScreenPayload{AdminID: "u1"}, "u1")
	if !res.Delivered || res.Err != nil {
		t.Fatalf("Send() = %+v, want delivered", res)
	}

	msg := readMessage(t, device)
	if msg.Type != websocket.TypeLockScreen {
		t.Errorf("Type = %s, want lock-screen", msg.Type)
	}
	if msg.TargetDeviceID != "d1" || msg.OriginID != "u1" {
		t.Errorf("envelope target/origin = %q/%q", msg.TargetDeviceID, msg.OriginID)
	}

	var payload websocket.LockScreenPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload() error = %v", err)
	}
	if payload.AdminID != "u1" {
		t.Errorf("payload adminId = %q, want u1", payload.AdminID)
	}
}

func TestRouter_SendUnreachable(t *testing.T) {
	router, _ := newTestRouter()

	res := router.Send(websocket.TypeScreenshotRequest, "ghost", nil, "u1")
	if res.Delivered {
		t.Error("Send() to missing device reported delivered")
	}
	if !errors.Is(res.Err, domain.ErrTargetUnreachable) {
		t.Errorf("Send() error = %v, want ErrTargetUnreachable", res.Err)
	}
	if res.Wire().Code != "target_unreachable" {
		t.Errorf("Wire().Code = %q", res.Wire().Code)
	}
}

func TestRouter_SendFullQueue(t *testing.T) {
	router, registry := newTestRouter()
	s := session.New(domain.NewDeviceIdentity("d1", "org-1", "h"), 1)
	registry.Register(s)

	first := router.Send(websocket.TypeMouseMove, "d1", websocket.MouseMovePayload{X: 1, Y: 1}, "u1")
	second := router.Send(websocket.TypeMouseMove, "d1", websocket.MouseMovePayload{X: 2, Y: 2}, "u1")

	if !first.Delivered {
		t.Error("first Send() should be delivered")
	}
	if second.Delivered || !errors.Is(second.Err, domain.ErrTargetUnreachable) {
		t.Errorf("second Send() = %+v, want dropped", second)
	}
}

func TestRouter_BroadcastExplicitTargets(t *testing.T) {
	router, registry := newTestRouter()
	d1 := registerDevice(t, registry, "d1", "org-1")
	registerDevice(t, registry, "d2", "org-1")

	results := router.Broadcast(websocket.TypeBroadcastMessage,
		websocket.BroadcastMessagePayload{Message: "hello", AdminID: "u1"},
		Targets{DeviceIDs: []string{"d1", "ghost"}}, "u1")

	if len(results) != 2 {
		t.Fatalf("Broadcast() returned %d results, want 2", len(results))
	}
	if !results[0].Delivered || results[0].DeviceID != "d1" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Delivered || !errors.Is(results[1].Err, domain.ErrTargetUnreachable) {
		t.Errorf("results[1] = %+v", results[1])
	}

	if msg := readMessage(t, d1); msg.Type != websocket.TypeBroadcastMessage {
		t.Errorf("d1 got %s", msg.Type)
	}
}

func TestRouter_BroadcastOrganization(t *testing.T) {
	router, registry := newTestRouter()
	registerDevice(t, registry, "d1", "org-1")
	registerDevice(t, registry, "d2", "org-1")
	other := registerDevice(t, registry, "d3", "org-2")

	results := router.Broadcast(websocket.TypeBroadcastMessage,
		websocket.BroadcastMessagePayload{Message: "maintenance"}, Targets{OrgID: "org-1"}, "u1")

	delivered := 0
	for _, r := range results {
		if r.Delivered {
			delivered++
		}
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}

	select {
	case <-other.Outbound():
		t.Error("device of another organization received the broadcast")
	default:
	}
}

func TestRouter_SendToAdminAllTabs(t *testing.T) {
	router, registry := newTestRouter()
	identity := domain.NewAdminIdentity("u1", "Ann", domain.RoleOrgAdmin, "org-1")
	tabA := session.New(identity, 4)
	tabB := session.New(identity, 4)
	registry.Register(tabA)
	registry.Register(tabB)

	res := router.SendToAdmin(websocket.TypeRemoteControlAccepted, "u1", websocket.RemoteControlReplyPayload{AdminID: "u1"}, "d1")
	if !res.Delivered {
		t.Fatalf("SendToAdmin() = %+v", res)
	}
	for _, tab := range []*session.Session{tabA, tabB} {
		if msg := readMessage(t, tab); msg.TargetAdminID != "u1" {
			t.Errorf("TargetAdminID = %q", msg.TargetAdminID)
		}
	}

	if res := router.SendToAdmin(websocket.TypePermissionResponse, "nobody", nil, ""); !errors.Is(res.Err, domain.ErrTargetUnreachable) {
		t.Errorf("SendToAdmin() unknown admin error = %v", res.Err)
	}
}

func TestRouter_Publish(t *testing.T) {
	router, registry := newTestRouter()
	admin := session.New(domain.NewAdminIdentity("u1", "Ann", domain.RoleOrgAdmin, "org-1"), 4)
	registry.Register(admin)
	registry.JoinGroup(admin.ID, session.OrgAdminsGroup("org-1"))

	n := router.Publish(session.OrgAdminsGroup("org-1"), websocket.TypeDeviceStatusUpdate,
		websocket.DeviceStatusUpdatePayload{DeviceID: "d1", Status: domain.DeviceStatusLocked})
	if n != 1 {
		t.Fatalf("Publish() = %d, want 1", n)
	}
	if got := router.Publish(session.OrgAdminsGroup("org-9"), websocket.TypeDeviceStatusUpdate, nil); got != 0 {
		t.Errorf("Publish() to empty group = %d, want 0", got)
	}

	msg := readMessage(t, admin)
	var payload websocket.DeviceStatusUpdatePayload
	msg.UnmarshalPayload(&payload)
	if payload.Status != domain.DeviceStatusLocked {
		t.Errorf("status = %s, want locked", payload.Status)
	}
}
