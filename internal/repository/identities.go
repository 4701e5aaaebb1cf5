package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/voxsocial/notifygw/internal/model"
)

// IdentitiesRepository reads the user mirror table. The engine never writes
// it outside the seed command.
type IdentitiesRepository interface {
	GetByID(ctx context.Context, id string) (*model.Identity, error)
}

type IdentitiesRepositoryImpl struct {
	db *sqlx.DB
}

func NewIdentitiesRepository(db *sqlx.DB) *IdentitiesRepositoryImpl {
	return &IdentitiesRepositoryImpl{db: db}
}

var _ IdentitiesRepository = (*IdentitiesRepositoryImpl)(nil)

func (r *IdentitiesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	var ident model.Identity
	err := r.db.GetContext(ctx, &ident, `
		SELECT id, username, privacy, created_at, updated_at
		  FROM users
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}
