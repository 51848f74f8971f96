package repository

import (
	"context"
	"fmt"

	"device-control-relay/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type activityDoc struct {
	DocID   string `json:"_id"`
	DocType string `json:"doc_type"`
	domain.ActivityLog
}

type activityRepository struct {
	client *kivik.Client
	dbName string
}

func NewActivityRepository(client *kivik.Client, dbName string) ActivityRepository {
	return &activityRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *activityRepository) Append(ctx context.Context, entry *domain.ActivityLog) error {
	db := r.client.DB(r.dbName)

	doc := activityDoc{
		DocID:       fmt.Sprintf("activity:%s", entry.ID),
		DocType:     "activity_log",
		ActivityLog: *entry,
	}

	if _, err := db.Put(ctx, doc.DocID, doc); err != nil {
		return translateError("append activity log", err)
	}

	return nil
}
