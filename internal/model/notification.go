package model

import "time"

type NotificationState string

const (
	StatePending   NotificationState = "pending"
	StateDelivered NotificationState = "delivered"
	StateAcked     NotificationState = "acked"
	StateExpired   NotificationState = "expired"
)

func (s NotificationState) String() string { return string(s) }

func (s NotificationState) Valid() bool {
	return s == StatePending || s == StateDelivered || s == StateAcked || s == StateExpired
}

// rank orders the forward-only lifecycle. expired is terminal and reachable
// from pending or delivered, never from acked.
func (s NotificationState) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateDelivered:
		return 1
	case StateAcked:
		return 2
	case StateExpired:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next keeps the state
// machine monotonic. Same-state writes are not transitions.
func (s NotificationState) CanTransitionTo(next NotificationState) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	if s == StateAcked {
		return false // acked is final
	}
	if next == StateExpired {
		return s == StatePending || s == StateDelivered
	}
	return next.rank() == s.rank()+1
}

// Notification is one recipient's durable copy of an event, persisted in the
// outbox store until acked or expired.
type Notification struct {
	ID             string            `db:"id" json:"notification_id"`
	RecipientID    string            `db:"recipient_id" json:"recipient_id"`
	EventID        string            `db:"event_id" json:"event_id"`
	Kind           EventKind         `db:"kind" json:"kind"`
	ActorID        string            `db:"actor_id" json:"actor_id"`
	TargetID       string            `db:"target_id" json:"target_id"`
	State          NotificationState `db:"state" json:"state"`
	Attempts       int               `db:"attempts" json:"-"`
	NextRetryAt    time.Time         `db:"next_retry_at" json:"-"`
	EventCreatedAt time.Time         `db:"event_created_at" json:"event_created_at"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"-"`
}
