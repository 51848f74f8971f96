package repository

import (
	"context"
	"fmt"
	"time"

	"device-control-relay/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const docTypePermission = "permission_request"

type permissionDoc struct {
	DocID   string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	// ExpiresKey mirrors ExpiresAt in a fixed-width form so Mango range
	// operators compare it in time order.
	ExpiresKey string `json:"expires_key"`
	domain.PermissionRequest
}

const expiryKeyLayout = "2006-01-02T15:04:05.000000000Z"

func expiryKey(t time.Time) string {
	return t.UTC().Format(expiryKeyLayout)
}

type permissionRepository struct {
	client *kivik.Client
	dbName string
}

func NewPermissionRepository(client *kivik.Client, dbName string) PermissionRepository {
	return &permissionRepository{
		client: client,
		dbName: dbName,
	}
}

func permissionDocID(id string) string {
	return fmt.Sprintf("permission:%s", id)
}

func (r *permissionRepository) Create(ctx context.Context, req *domain.PermissionRequest) error {
	db := r.client.DB(r.dbName)

	doc := permissionDoc{
		DocID:             permissionDocID(req.ID),
		DocType:           docTypePermission,
		ExpiresKey:        expiryKey(req.ExpiresAt),
		PermissionRequest: *req,
	}

	if _, err := db.Put(ctx, doc.DocID, doc); err != nil {
		return translateError("create permission request", err)
	}

	return nil
}

func (r *permissionRepository) get(ctx context.Context, id string) (*permissionDoc, error) {
	db := r.client.DB(r.dbName)

	var doc permissionDoc
	if err := db.Get(ctx, permissionDocID(id)).ScanDoc(&doc); err != nil {
		return nil, translateError("find permission request", err)
	}

	return &doc, nil
}

func (r *permissionRepository) FindByID(ctx context.Context, id string) (*domain.PermissionRequest, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &doc.PermissionRequest, nil
}

func (r *permissionRepository) FindPending(ctx context.Context, deviceID, requesterID string) (*domain.PermissionRequest, error) {
	requests, err := r.List(ctx, PermissionFilter{
		DeviceID:    deviceID,
		RequesterID: requesterID,
		Status:      domain.PermissionStatusPending,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return requests[0], nil
}

func (r *permissionRepository) List(ctx context.Context, filter PermissionFilter) ([]*domain.PermissionRequest, error) {
	selector := map[string]interface{}{
		"doc_type": docTypePermission,
	}
	if filter.OrgID != "" {
		selector["organization_id"] = filter.OrgID
	}
	if filter.RequesterID != "" {
		selector["requested_by"] = filter.RequesterID
	}
	if filter.DeviceID != "" {
		selector["device_id"] = filter.DeviceID
	}
	if filter.Status != "" {
		selector["status"] = filter.Status
	}

	query := map[string]interface{}{"selector": selector}
	if filter.Limit > 0 {
		query["limit"] = filter.Limit
	}

	return r.find(ctx, query)
}

func (r *permissionRepository) ListExpirable(ctx context.Context, now time.Time) ([]*domain.PermissionRequest, error) {
	return r.find(ctx, map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":   docTypePermission,
			"status":     domain.PermissionStatusPending,
			"expires_key": map[string]interface{}{"$lte": expiryKey(now)},
		},
	})
}

func (r *permissionRepository) find(ctx context.Context, query map[string]interface{}) ([]*domain.PermissionRequest, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, translateError("query permission requests", err)
	}
	defer rows.Close()

	var requests []*domain.PermissionRequest
	for rows.Next() {
		var doc permissionDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		req := doc.PermissionRequest
		requests = append(requests, &req)
	}

	return requests, nil
}

// Transition relies on the document revision: a concurrent writer makes the
// Put fail with 409, which surfaces as domain.ErrConflict.
func (r *permissionRepository) Transition(ctx context.Context, id string, from domain.PermissionStatus, update PermissionUpdate) (*domain.PermissionRequest, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != from {
		return nil, fmt.Errorf("permission request %s is %s: %w", id, doc.Status, domain.ErrConflict)
	}

	resolvedAt := update.ResolvedAt
	doc.Status = update.Status
	doc.ResolvedBy = update.ResolvedBy
	doc.ResolvedAt = &resolvedAt

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.DocID, doc); err != nil {
		return nil, translateError("transition permission request", err)
	}

	return &doc.PermissionRequest, nil
}
