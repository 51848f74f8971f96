package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"device-control-relay/internal/command"
	"device-control-relay/internal/domain"
	"device-control-relay/internal/repository"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"
)

type dispatched struct {
	Type    websocket.MessageType
	Target  string
	Payload interface{}
	Origin  string
}

type mockDispatcher struct {
	mu        sync.Mutex
	online    map[string]bool
	sent      []dispatched
	toAdmins  []dispatched
	published []dispatched
}

func newMockDispatcher(online ...string) *mockDispatcher {
	m := &mockDispatcher{online: make(map[string]bool)}
	for _, id := range online {
		m.online[id] = true
	}
	return m
}

func (m *mockDispatcher) result(target string) command.Result {
	if m.online[target] {
		return command.Result{Delivered: true}
	}
	return command.Result{Err: domain.ErrTargetUnreachable}
}

func (m *mockDispatcher) Send(msgType websocket.MessageType, deviceID string, payload interface{}, origin string) command.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, dispatched{msgType, deviceID, payload, origin})
	res := m.result(deviceID)
	res.DeviceID = deviceID
	return res
}

func (m *mockDispatcher) SendToAdmin(msgType websocket.MessageType, adminID string, payload interface{}, origin string) command.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toAdmins = append(m.toAdmins, dispatched{msgType, adminID, payload, origin})
	res := m.result(adminID)
	res.AdminID = adminID
	return res
}

func (m *mockDispatcher) Broadcast(msgType websocket.MessageType, payload interface{}, targets command.Targets, origin string) []command.Result {
	var results []command.Result
	for _, id := range targets.DeviceIDs {
		results = append(results, m.Send(msgType, id, payload, origin))
	}
	return results
}

func (m *mockDispatcher) Publish(g session.Group, msgType websocket.MessageType, payload interface{}) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, dispatched{msgType, string(g), payload, ""})
	return 1
}

func (m *mockDispatcher) sentOf(msgType websocket.MessageType) []dispatched {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []dispatched
	for _, d := range m.sent {
		if d.Type == msgType {
			out = append(out, d)
		}
	}
	return out
}

func (m *mockDispatcher) responses() []websocket.PermissionResponsePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []websocket.PermissionResponsePayload
	for _, d := range m.toAdmins {
		if d.Type == websocket.TypePermissionResponse {
			out = append(out, d.Payload.(websocket.PermissionResponsePayload))
		}
	}
	return out
}

type failingActivityRepo struct{}

func (failingActivityRepo) Append(context.Context, *domain.ActivityLog) error {
	return errors.New("couchdb: connection refused")
}

type failingTransitionRepo struct {
	*repository.MemoryPermissionRepository
}

func (r failingTransitionRepo) Transition(context.Context, string, domain.PermissionStatus, repository.PermissionUpdate) (*domain.PermissionRequest, error) {
	return nil, errors.New("transition: persistence unavailable: timeout")
}

// eagerExpiryRepo lists every pending request as expirable, the way a store
// with a mis-ordered expiry index would.
type eagerExpiryRepo struct {
	*repository.MemoryPermissionRepository
}

func (r eagerExpiryRepo) ListExpirable(ctx context.Context, _ time.Time) ([]*domain.PermissionRequest, error) {
	return r.List(ctx, repository.PermissionFilter{Status: domain.PermissionStatusPending})
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	orgAdmin   = domain.AdminIdentity{UserID: "admin-1", Name: "Ana Admin", Role: domain.RoleOrgAdmin, OrgID: "org-1"}
	otherAdmin = domain.AdminIdentity{UserID: "admin-2", Name: "Omar Other", Role: domain.RoleOrgAdmin, OrgID: "org-2"}
	superAdmin = domain.AdminIdentity{UserID: "root", Name: "Root", Role: domain.RoleSuperadmin}
	requester  = domain.AdminIdentity{UserID: "user-1", Name: "Uma User", Role: domain.RoleUser, OrgID: "org-1"}
	colleague  = domain.AdminIdentity{UserID: "user-2", Name: "Cai Colleague", Role: domain.RoleUser, OrgID: "org-1"}
)

type permissionFixture struct {
	service    *PermissionService
	repo       *repository.MemoryPermissionRepository
	activity   *repository.MemoryActivityRepository
	dispatcher *mockDispatcher
	clock      *manualClock
}

func newPermissionFixture(t *testing.T, online ...string) *permissionFixture {
	t.Helper()

	devices := repository.NewMemoryDeviceRepository(
		&domain.Device{ID: "D1", OrganizationID: "org-1", Hostname: "lab-pc-01", Status: domain.DeviceStatusLocked},
		&domain.Device{ID: "D2", OrganizationID: "org-2", Hostname: "front-desk"},
	)
	f := &permissionFixture{
		repo:       repository.NewMemoryPermissionRepository(),
		activity:   repository.NewMemoryActivityRepository(),
		dispatcher: newMockDispatcher(online...),
		clock:      &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.service = NewPermissionService(devices, f.repo, f.activity, f.dispatcher, slog.New(slog.DiscardHandler))
	f.service.SetClock(f.clock.Now)
	return f
}

func (f *permissionFixture) create(t *testing.T, actor domain.AdminIdentity, deviceID string, kind domain.PermissionType) *domain.PermissionRequest {
	t.Helper()
	outcome, err := f.service.Create(context.Background(), actor, domain.CreatePermissionRequest{
		DeviceID:    deviceID,
		RequestType: kind,
		Reason:      "forgot my password",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return outcome.Request
}

func approve(approved bool) domain.ResolvePermissionRequest {
	return domain.ResolvePermissionRequest{Approved: &approved}
}

func TestPermissionService_Create(t *testing.T) {
	tests := []struct {
		name    string
		actor   domain.AdminIdentity
		req     domain.CreatePermissionRequest
		wantErr error
	}{
		{
			name:  "requester in device organization",
			actor: requester,
			req:   domain.CreatePermissionRequest{DeviceID: "D1", RequestType: domain.PermissionTypeUnlock},
		},
		{
			name:  "superadmin across organizations",
			actor: superAdmin,
			req:   domain.CreatePermissionRequest{DeviceID: "D2", RequestType: domain.PermissionTypeRemoteAccess},
		},
		{
			name:    "unknown device",
			actor:   requester,
			req:     domain.CreatePermissionRequest{DeviceID: "ghost", RequestType: domain.PermissionTypeUnlock},
			wantErr: domain.ErrUnknownDevice,
		},
		{
			name:    "device of another organization",
			actor:   requester,
			req:     domain.CreatePermissionRequest{DeviceID: "D2", RequestType: domain.PermissionTypeUnlock},
			wantErr: domain.ErrForbidden,
		},
		{
			name:    "unsupported request type",
			actor:   requester,
			req:     domain.CreatePermissionRequest{DeviceID: "D1", RequestType: "reboot"},
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "missing device",
			actor:   requester,
			req:     domain.CreatePermissionRequest{RequestType: domain.PermissionTypeUnlock},
			wantErr: domain.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPermissionFixture(t)

			outcome, err := f.service.Create(context.Background(), tt.actor, tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
				}
				if len(f.dispatcher.published) != 0 {
					t.Error("rejected request must not notify admins")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got := outcome.Request
			if got.Status != domain.PermissionStatusPending {
				t.Errorf("status = %s, want pending", got.Status)
			}
			if want := f.clock.Now().Add(24 * time.Hour); !got.ExpiresAt.Equal(want) {
				t.Errorf("expiresAt = %v, want %v", got.ExpiresAt, want)
			}
			if len(f.dispatcher.published) != 2 {
				t.Fatalf("published %d events, want org admins and superadmins", len(f.dispatcher.published))
			}
			if len(f.activity.Entries()) != 1 {
				t.Errorf("activity entries = %d, want 1", len(f.activity.Entries()))
			}
		})
	}
}

func TestPermissionService_CreateNotifiesOrgAdmins(t *testing.T) {
	f := newPermissionFixture(t)
	req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)

	event := f.dispatcher.published[0]
	if event.Target != string(session.OrgAdminsGroup("org-1")) {
		t.Errorf("published to %s, want org-1 admins", event.Target)
	}
	if f.dispatcher.published[1].Target != string(session.SuperadminsGroup) {
		t.Errorf("published to %s, want superadmins", f.dispatcher.published[1].Target)
	}
	payload := event.Payload.(websocket.PermissionRequestPayload)
	if payload.RequestID != req.ID || payload.DeviceHostname != "lab-pc-01" || payload.RequesterName != "Uma User" {
		t.Errorf("unexpected permission-request payload %+v", payload)
	}
}

func TestPermissionService_DuplicatePending(t *testing.T) {
	f := newPermissionFixture(t)
	f.create(t, requester, "D1", domain.PermissionTypeUnlock)

	_, err := f.service.Create(context.Background(), requester, domain.CreatePermissionRequest{
		DeviceID:    "D1",
		RequestType: domain.PermissionTypeUnlock,
	})
	if !errors.Is(err, domain.ErrDuplicatePending) {
		t.Fatalf("second Create() error = %v, want ErrDuplicatePending", err)
	}

	// The pair is blocked whatever the type.
	_, err = f.service.Create(context.Background(), requester, domain.CreatePermissionRequest{
		DeviceID:    "D1",
		RequestType: domain.PermissionTypeRemoteAccess,
	})
	if !errors.Is(err, domain.ErrDuplicatePending) {
		t.Fatalf("Create() other type error = %v, want ErrDuplicatePending", err)
	}

	// Another requester on the same device is a different pair.
	f.create(t, colleague, "D1", domain.PermissionTypeUnlock)
}

func TestPermissionService_ConcurrentCreateAllowsOnePending(t *testing.T) {
	f := newPermissionFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Create(context.Background(), requester, domain.CreatePermissionRequest{
				DeviceID:    "D1",
				RequestType: domain.PermissionTypeUnlock,
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestPermissionService_ApproveUnlock(t *testing.T) {
	f := newPermissionFixture(t, "D1", "user-1")
	req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)

	outcome, err := f.service.Resolve(context.Background(), orgAdmin, req.ID, approve(true))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if outcome.Request.Status != domain.PermissionStatusApproved || outcome.Request.ResolvedBy != orgAdmin.UserID {
		t.Errorf("resolved request = %+v", outcome.Request)
	}
	if outcome.Delivery == nil || !outcome.Delivery.Delivered {
		t.Fatalf("unlock delivery = %+v, want delivered", outcome.Delivery)
	}

	unlocks := f.dispatcher.sentOf(websocket.TypeUnlockScreen)
	if len(unlocks) != 1 {
		t.Fatalf("unlock-screen sent %d times, want 1", len(unlocks))
	}
	if payload := unlocks[0].Payload.(websocket.UnlockScreenPayload); payload.RequestID != req.ID {
		t.Errorf("unlock-screen requestId = %s, want %s", payload.RequestID, req.ID)
	}

	responses := f.dispatcher.responses()
	if len(responses) != 1 || !responses[0].Approved || responses[0].AdminName != "Ana Admin" || responses[0].DeviceHostname != "lab-pc-01" {
		t.Errorf("permission-response = %+v", responses)
	}

	_, err = f.service.Resolve(context.Background(), orgAdmin, req.ID, approve(false))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestPermissionService_DenyAndNonUnlockDoNotCommand(t *testing.T) {
	f := newPermissionFixture(t, "D1", "user-1")
	denied := f.create(t, requester, "D1", domain.PermissionTypeUnlock)
	remote := f.create(t, colleague, "D1", domain.PermissionTypeRemoteAccess)

	if _, err := f.service.Resolve(context.Background(), orgAdmin, denied.ID, approve(false)); err != nil {
		t.Fatalf("Resolve(deny) error = %v", err)
	}
	if _, err := f.service.Resolve(context.Background(), orgAdmin, remote.ID, approve(true)); err != nil {
		t.Fatalf("Resolve(remote) error = %v", err)
	}

	if n := len(f.dispatcher.sentOf(websocket.TypeUnlockScreen)); n != 0 {
		t.Errorf("unlock-screen sent %d times, want 0", n)
	}
	if n := len(f.dispatcher.responses()); n != 2 {
		t.Errorf("requester notified %d times, want 2", n)
	}
}

func TestPermissionService_ResolveAuthorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   domain.AdminIdentity
		wantErr error
	}{
		{name: "org admin of device", actor: orgAdmin},
		{name: "superadmin bypasses organization", actor: superAdmin},
		{name: "admin of another organization", actor: otherAdmin, wantErr: domain.ErrForbidden},
		{name: "plain user", actor: requester, wantErr: domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPermissionFixture(t)
			req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)

			_, err := f.service.Resolve(context.Background(), tt.actor, req.ID, approve(true))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				stored, _ := f.repo.FindByID(context.Background(), req.ID)
				if stored.Status != domain.PermissionStatusPending {
					t.Errorf("rejected resolve changed status to %s", stored.Status)
				}
			}
		})
	}
}

func TestPermissionService_ResolveMissing(t *testing.T) {
	f := newPermissionFixture(t)
	_, err := f.service.Resolve(context.Background(), orgAdmin, "nope", approve(true))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestPermissionService_SweepThenResolve(t *testing.T) {
	f := newPermissionFixture(t, "user-1")
	req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)

	f.clock.Advance(25 * time.Hour)

	n, err := f.service.SweepExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired() = %d, %v, want 1, nil", n, err)
	}
	stored, _ := f.repo.FindByID(context.Background(), req.ID)
	if stored.Status != domain.PermissionStatusExpired || stored.ResolvedBy != domain.SystemResolver {
		t.Errorf("swept request = %+v", stored)
	}

	if n, _ := f.service.SweepExpired(context.Background()); n != 0 {
		t.Errorf("second sweep expired %d, want 0", n)
	}

	_, err = f.service.Resolve(context.Background(), orgAdmin, req.ID, approve(true))
	if !errors.Is(err, domain.ErrExpired) {
		t.Errorf("Resolve() after sweep error = %v, want ErrExpired", err)
	}

	responses := f.dispatcher.responses()
	if len(responses) != 1 || !responses[0].Expired || responses[0].Approved {
		t.Errorf("requester notification = %+v, want one expired response", responses)
	}
}

func TestPermissionService_SweepSkipsRequestsNotYetDue(t *testing.T) {
	f := newPermissionFixture(t)
	devices := repository.NewMemoryDeviceRepository(&domain.Device{ID: "D1", OrganizationID: "org-1", Hostname: "lab-pc-01", Status: domain.DeviceStatusLocked})
	f.service = NewPermissionService(devices, eagerExpiryRepo{f.repo}, f.activity, f.dispatcher, slog.New(slog.DiscardHandler))
	f.service.SetClock(f.clock.Now)

	req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)
	f.clock.Advance(time.Hour)

	n, err := f.service.SweepExpired(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("SweepExpired() = %d, %v, want 0, nil", n, err)
	}
	if stored, _ := f.repo.FindByID(context.Background(), req.ID); stored.Status != domain.PermissionStatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}

	f.clock.Advance(24 * time.Hour)
	if n, _ := f.service.SweepExpired(context.Background()); n != 1 {
		t.Errorf("sweep after the deadline expired %d, want 1", n)
	}
}

func TestPermissionService_ResolvePastDeadlineBeforeSweep(t *testing.T) {
	f := newPermissionFixture(t)
	req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)

	f.clock.Advance(24 * time.Hour)

	_, err := f.service.Resolve(context.Background(), orgAdmin, req.ID, approve(true))
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Resolve() error = %v, want ErrExpired", err)
	}
	stored, _ := f.repo.FindByID(context.Background(), req.ID)
	if stored.Status != domain.PermissionStatusExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
	if n := len(f.dispatcher.sentOf(websocket.TypeUnlockScreen)); n != 0 {
		t.Errorf("expired request sent %d unlock commands", n)
	}

	// An expired request no longer blocks a new one.
	f.create(t, requester, "D1", domain.PermissionTypeUnlock)
}

func TestPermissionService_ConcurrentResolveSucceedsOnce(t *testing.T) {
	f := newPermissionFixture(t, "D1")
	req := f.create(t, requester, "D1", domain.PermissionTypeUnlock)

	const resolvers = 20
	errs := make(chan error, resolvers+1)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Resolve(context.Background(), orgAdmin, req.ID, approve(i%2 == 0))
			errs <- err
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.service.SweepExpired(context.Background())
		errs <- err
	}()
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrNotFound):
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	// The sweep returns nil without expiring anything.
	if succeeded != 2 {
		t.Errorf("successful calls = %d, want 1 resolve + 1 sweep", succeeded)
	}
	if n := len(f.dispatcher.responses()); n != 1 {
		t.Errorf("requester notified %d times, want 1", n)
	}
}

func TestPermissionService_ActivityOutageDegradesOnly(t *testing.T) {
	devices := repository.NewMemoryDeviceRepository(&domain.Device{ID: "D1", OrganizationID: "org-1", Hostname: "lab-pc-01", Status: domain.DeviceStatusLocked})
	dispatcher := newMockDispatcher("D1")
	svc := NewPermissionService(devices, repository.NewMemoryPermissionRepository(), failingActivityRepo{}, dispatcher, slog.New(slog.DiscardHandler))

	created, err := svc.Create(context.Background(), requester, domain.CreatePermissionRequest{DeviceID: "D1", RequestType: domain.PermissionTypeUnlock})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !created.Degraded {
		t.Error("Create() not flagged degraded")
	}

	resolved, err := svc.Resolve(context.Background(), orgAdmin, created.Request.ID, approve(true))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolved.Degraded {
		t.Error("Resolve() not flagged degraded")
	}
	if resolved.Delivery == nil || !resolved.Delivery.Delivered {
		t.Error("unlock must still be delivered when the activity log is down")
	}
}

func TestPermissionService_StatusWriteFailureDeliversNothing(t *testing.T) {
	devices := repository.NewMemoryDeviceRepository(&domain.Device{ID: "D1", OrganizationID: "org-1"})
	repo := failingTransitionRepo{repository.NewMemoryPermissionRepository()}
	dispatcher := newMockDispatcher("D1", "user-1")
	svc := NewPermissionService(devices, repo, repository.NewMemoryActivityRepository(), dispatcher, slog.New(slog.DiscardHandler))

	created, err := svc.Create(context.Background(), requester, domain.CreatePermissionRequest{DeviceID: "D1", RequestType: domain.PermissionTypeUnlock})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.Resolve(context.Background(), orgAdmin, created.Request.ID, approve(true)); err == nil {
		t.Fatal("Resolve() succeeded with a failing store")
	}
	if len(dispatcher.sent) != 0 || len(dispatcher.toAdmins) != 0 {
		t.Errorf("failed resolve dispatched %d commands and %d responses", len(dispatcher.sent), len(dispatcher.toAdmins))
	}
}

func TestPermissionService_ApproveOverlappingUnlocks(t *testing.T) {
	f := newPermissionFixture(t, "user-1")
	unlock := f.create(t, requester, "D1", domain.PermissionTypeUnlock)
	remote := f.create(t, colleague, "D1", domain.PermissionTypeRemoteAccess)

	n, err := f.service.ApproveOverlappingUnlocks(context.Background(), "D1")
	if err != nil || n != 1 {
		t.Fatalf("ApproveOverlappingUnlocks() = %d, %v, want 1, nil", n, err)
	}

	stored, _ := f.repo.FindByID(context.Background(), unlock.ID)
	if stored.Status != domain.PermissionStatusApproved || stored.ResolvedBy != domain.SystemResolver {
		t.Errorf("unlock request = %+v, want approved by system", stored)
	}
	other, _ := f.repo.FindByID(context.Background(), remote.ID)
	if other.Status != domain.PermissionStatusPending {
		t.Errorf("remote access request status = %s, want pending", other.Status)
	}

	responses := f.dispatcher.responses()
	if len(responses) != 1 || !responses[0].Approved || responses[0].AdminName != domain.SystemResolver {
		t.Errorf("requester notification = %+v", responses)
	}
}

func TestPermissionService_ListScopesByOrganization(t *testing.T) {
	f := newPermissionFixture(t)
	f.create(t, requester, "D1", domain.PermissionTypeUnlock)
	f.create(t, superAdmin, "D2", domain.PermissionTypeUnlock)

	tests := []struct {
		name    string
		actor   domain.AdminIdentity
		status  domain.PermissionStatus
		want    int
		wantErr error
	}{
		{name: "org admin sees own organization", actor: orgAdmin, status: domain.PermissionStatusPending, want: 1},
		{name: "superadmin sees all", actor: superAdmin, want: 2},
		{name: "plain user cannot list", actor: requester, wantErr: domain.ErrForbidden},
		{name: "unknown status", actor: orgAdmin, status: "archived", wantErr: domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.service.List(context.Background(), tt.actor, tt.status)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("List() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && len(got) != tt.want {
				t.Errorf("List() returned %d requests, want %d", len(got), tt.want)
			}
		})
	}

	mine, err := f.service.Mine(context.Background(), requester)
	if err != nil || len(mine) != 1 {
		t.Errorf("Mine() = %d, %v, want 1 request", len(mine), err)
	}
}

func TestPermissionResponsePayloadWireShape(t *testing.T) {
	raw, err := json.Marshal(websocket.PermissionResponsePayload{RequestID: "r1", Approved: true, AdminName: "system"})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["expired"]; ok {
		t.Error("expired should be omitted when false")
	}
	if decoded["approved"] != true || decoded["requestId"] != "r1" {
		t.Errorf("wire payload = %s", raw)
	}
}
