package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// FollowsRepository reads the directed follow graph (read-only to the engine).
type FollowsRepository interface {
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	// ListFollowers pages through follower ids of a user in a stable order.
	ListFollowers(ctx context.Context, followeeID string, offset, limit int) ([]string, error)
}

type FollowsRepositoryImpl struct {
	db *sqlx.DB
}

func NewFollowsRepository(db *sqlx.DB) *FollowsRepositoryImpl {
	return &FollowsRepositoryImpl{db: db}
}

var _ FollowsRepository = (*FollowsRepositoryImpl)(nil)

func (r *FollowsRepositoryImpl) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx, `
		SELECT 1 FROM follows WHERE follower_id = ? AND followee_id = ? LIMIT 1
	`, followerID, followeeID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *FollowsRepositoryImpl) ListFollowers(ctx context.Context, followeeID string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT follower_id
		  FROM follows
		 WHERE followee_id = ?
		 ORDER BY follower_id
		 LIMIT ? OFFSET ?
	`, followeeID, limit, offset)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
