package repository

import (
	"context"
	"fmt"

	"device-control-relay/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type userRepository struct {
	client *kivik.Client
	dbName string
}

func NewUserRepository(client *kivik.Client, dbName string) UserRepository {
	return &userRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *userRepository) FindByID(ctx context.Context, userID string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("user:%s", userID)

	var user domain.User
	if err := db.Get(ctx, docID).ScanDoc(&user); err != nil {
		return nil, translateError("find user", err)
	}

	return &user, nil
}
