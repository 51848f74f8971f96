package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"device-control-relay/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypeDevice     = "device"
	maxStatusAttempts = 3
)

type deviceDoc struct {
	DocID   string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Device
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func deviceDocID(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	var doc deviceDoc
	if err := db.Get(ctx, deviceDocID(deviceID)).ScanDoc(&doc); err != nil {
		return nil, translateError("find device", err)
	}

	return &doc.Device, nil
}

func (r *deviceRepository) ListByOrganization(ctx context.Context, orgID string) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	selector := map[string]interface{}{
		"doc_type": docTypeDevice,
	}
	if orgID != "" {
		selector["organization_id"] = orgID
	}

	rows := db.Find(ctx, map[string]interface{}{"selector": selector})
	if err := rows.Err(); err != nil {
		return nil, translateError("list devices", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var doc deviceDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue // Skip malformed docs
		}
		device := doc.Device
		devices = append(devices, &device)
	}

	return devices, nil
}

func (r *deviceRepository) UpdateStatus(ctx context.Context, deviceID string, status domain.DeviceStatus, lastSeen time.Time, currentUserID string) error {
	db := r.client.DB(r.dbName)
	docID := deviceDocID(deviceID)

	var err error
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		var rawDoc map[string]interface{}
		if err = db.Get(ctx, docID).ScanDoc(&rawDoc); err != nil {
			return translateError("update device status", err)
		}

		// Another writer already stored a later status.
		if storedAfter(rawDoc["last_seen"], lastSeen) {
			return nil
		}

		rawDoc["status"] = status
		rawDoc["last_seen"] = lastSeen
		if currentUserID != "" {
			rawDoc["current_user_id"] = currentUserID
		}

		_, err = db.Put(ctx, docID, rawDoc)
		err = translateError("update device status", err)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}

	return err
}

// storedAfter reports whether a document's last_seen value is later than t.
// Values that do not parse never block a write.
func storedAfter(stored interface{}, t time.Time) bool {
	raw, ok := stored.(string)
	if !ok || raw == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return at.After(t)
}
