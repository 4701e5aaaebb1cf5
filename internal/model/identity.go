package model

import "time"

type Privacy string

const (
	PrivacyPublic  Privacy = "PUBLIC"
	PrivacyPrivate Privacy = "PRIVATE"
)

func (p Privacy) String() string { return string(p) }

func (p Privacy) Valid() bool {
	return p == PrivacyPublic || p == PrivacyPrivate
}

// Identity mirrors the external account store; the engine reads it for
// admission and visibility checks only.
type Identity struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Privacy   Privacy   `db:"privacy"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// FollowEdge is a directed follower→followee pair, unique per pair.
type FollowEdge struct {
	FollowerID string    `db:"follower_id"`
	FolloweeID string    `db:"followee_id"`
	CreatedAt  time.Time `db:"created_at"`
}
