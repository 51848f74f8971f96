// Package presence derives each device's logical status from session
// lifecycle events and device acknowledgments. It only ever reflects what the
// device itself reported; commands issued by admins never touch it.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"device-control-relay/internal/domain"
)

// ErrStaleSession rejects an event from a session that no longer owns the
// device's presence record.
var ErrStaleSession = errors.New("event from a session that no longer owns the device")

type Event string

const (
	EventConnected          Event = "connected"
	EventDisconnected       Event = "disconnected"
	EventHeartbeat          Event = "heartbeat"
	EventLockAcknowledged   Event = "lock_acknowledged"
	EventUnlockAcknowledged Event = "unlock_acknowledged"
)

type Record struct {
	DeviceID string
	OrgID    string
	// SessionID is the live session that owns the record; empty while offline.
	SessionID        string
	Status           domain.DeviceStatus
	LastSeen         time.Time
	CurrentUser      string
	LastScreenshotAt *time.Time
}

type Transition struct {
	DeviceID string
	OrgID    string
	Event    Event
	From     domain.DeviceStatus
	To       domain.DeviceStatus
	At       time.Time
	// Degraded is set when mirroring the status to the store failed.
	Degraded bool
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

// StatusStore mirrors the authoritative in-memory status.
type StatusStore interface {
	UpdateStatus(ctx context.Context, deviceID string, status domain.DeviceStatus, lastSeen time.Time, currentUserID string) error
}

// Notifier is told about every status change, outside the tracker's lock.
type Notifier interface {
	StatusChanged(t Transition)
}

// statusMirror orders the store writes of one device. seq is issued under the
// tracker lock; applied is guarded by mu, which is held across the write.
type statusMirror struct {
	seq     uint64
	mu      sync.Mutex
	applied uint64
}

type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	mirrors map[string]*statusMirror

	store    StatusStore
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

func NewTracker(store StatusStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		mirrors: make(map[string]*statusMirror),
		store:   store,
		now:     time.Now,
		logger:  logger.With("component", "presence"),
	}
}

func (t *Tracker) SetNotifier(n Notifier) {
	t.notifier = n
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// next is the transition table. ok=false marks an edge that does not exist.
func next(from domain.DeviceStatus, event Event) (domain.DeviceStatus, bool) {
	switch event {
	case EventConnected:
		if from == domain.DeviceStatusOffline || from == "" {
			return domain.DeviceStatusOnline, true
		}
		// A superseding reconnect keeps the lock screen state.
		return from, true
	case EventDisconnected:
		return domain.DeviceStatusOffline, true
	case EventHeartbeat:
		return from, from == domain.DeviceStatusOnline || from == domain.DeviceStatusLocked
	case EventLockAcknowledged:
		if from == domain.DeviceStatusOnline || from == domain.DeviceStatusLocked {
			return domain.DeviceStatusLocked, true
		}
	case EventUnlockAcknowledged:
		if from == domain.DeviceStatusOnline || from == domain.DeviceStatusLocked {
			return domain.DeviceStatusOnline, true
		}
	}
	return from, false
}

// Connected makes sessionID the owner of the device's record.
func (t *Tracker) Connected(ctx context.Context, deviceID, orgID, sessionID string) (Transition, error) {
	return t.apply(ctx, deviceID, orgID, sessionID, EventConnected, "")
}

// Disconnected moves the device offline if sessionID still owns it. A session
// that was replaced by a reconnect gets ErrStaleSession and changes nothing.
func (t *Tracker) Disconnected(ctx context.Context, deviceID, sessionID string) (Transition, error) {
	return t.apply(ctx, deviceID, "", sessionID, EventDisconnected, "")
}

func (t *Tracker) Heartbeat(ctx context.Context, deviceID, sessionID, currentUser string) (Transition, error) {
	return t.apply(ctx, deviceID, "", sessionID, EventHeartbeat, currentUser)
}

func (t *Tracker) LockAcknowledged(ctx context.Context, deviceID, sessionID string) (Transition, error) {
	return t.apply(ctx, deviceID, "", sessionID, EventLockAcknowledged, "")
}

func (t *Tracker) UnlockAcknowledged(ctx context.Context, deviceID, sessionID string) (Transition, error) {
	return t.apply(ctx, deviceID, "", sessionID, EventUnlockAcknowledged, "")
}

func (t *Tracker) apply(ctx context.Context, deviceID, orgID, sessionID string, event Event, currentUser string) (Transition, error) {
	t.mu.Lock()
	now := t.now()
	rec, ok := t.records[deviceID]
	if !ok {
		if event != EventConnected {
			t.mu.Unlock()
			return Transition{}, fmt.Errorf("presence for device %s: %w", deviceID, domain.ErrNotFound)
		}
		rec = &Record{DeviceID: deviceID, OrgID: orgID}
		t.records[deviceID] = rec
	}

	if event != EventConnected && rec.SessionID != sessionID {
		owner := rec.SessionID
		t.mu.Unlock()
		return Transition{}, fmt.Errorf("%s from session %s, owner %q: %w", event, sessionID, owner, ErrStaleSession)
	}

	to, valid := next(rec.Status, event)
	if !valid {
		from := rec.Status
		t.mu.Unlock()
		return Transition{}, fmt.Errorf("%s while %s: %w", event, from, domain.ErrInvalidTransition)
	}

	tr := Transition{
		DeviceID: deviceID,
		OrgID:    rec.OrgID,
		Event:    event,
		From:     rec.Status,
		To:       to,
		At:       now,
	}
	if tr.From == "" {
		tr.From = domain.DeviceStatusOffline
	}
	if orgID != "" {
		rec.OrgID = orgID
		tr.OrgID = orgID
	}
	switch event {
	case EventConnected:
		rec.SessionID = sessionID
	case EventDisconnected:
		rec.SessionID = ""
	}
	rec.Status = to
	rec.LastSeen = now
	if currentUser != "" {
		rec.CurrentUser = currentUser
	}
	occupant := rec.CurrentUser

	m, ok := t.mirrors[deviceID]
	if !ok {
		m = &statusMirror{}
		t.mirrors[deviceID] = m
	}
	m.seq++
	seq := m.seq
	t.mu.Unlock()

	if err := t.mirror(ctx, m, seq, deviceID, to, now, occupant); err != nil {
		tr.Degraded = true
		t.logger.Warn("failed to mirror device status", "device_id", deviceID, "status", to, "error", err)
	}

	if tr.Changed() {
		t.logger.Info("device status changed", "device_id", deviceID, "from", tr.From, "to", tr.To, "event", event)
		if t.notifier != nil {
			t.notifier.StatusChanged(tr)
		}
	}

	return tr, nil
}

// mirror writes one transition to the store. Writes of a device are
// serialized, and a write older than one already applied is dropped, so the
// store never moves back to a superseded status.
func (t *Tracker) mirror(ctx context.Context, m *statusMirror, seq uint64, deviceID string, status domain.DeviceStatus, at time.Time, occupant string) error {
	if t.store == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if seq <= m.applied {
		t.logger.Debug("skipping superseded status write", "device_id", deviceID, "status", status, "seq", seq, "applied", m.applied)
		return nil
	}
	m.applied = seq
	return t.store.UpdateStatus(ctx, deviceID, status, at, occupant)
}

func (t *Tracker) ScreenshotReceived(deviceID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[deviceID]; ok {
		rec.LastScreenshotAt = &at
	}
}

func (t *Tracker) Get(deviceID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[deviceID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot copies the records of one organization, or of all of them when
// orgID is empty.
func (t *Tracker) Snapshot(orgID string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		if orgID != "" && rec.OrgID != orgID {
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DeviceID < records[j].DeviceID })
	return records
}

// Stale lists the records that are not offline and were last seen before
// cutoff, with the session that owned each at that moment.
func (t *Tracker) Stale(cutoff time.Time) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []Record
	for _, rec := range t.records {
		if rec.Status != domain.DeviceStatusOffline && rec.LastSeen.Before(cutoff) {
			stale = append(stale, *rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].DeviceID < stale[j].DeviceID })
	return stale
}
