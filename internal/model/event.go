package model

import (
	"strings"
	"time"
)

type EventKind string

const (
	KindPost    EventKind = "POST"
	KindComment EventKind = "COMMENT"
	KindLike    EventKind = "LIKE"
	KindFollow  EventKind = "FOLLOW"
)

func (k EventKind) String() string { return string(k) }

func (k EventKind) Valid() bool {
	return k == KindPost || k == KindComment || k == KindLike || k == KindFollow
}

// ParseEventKind normalizes input. Returns (value, true) if valid.
func ParseEventKind(s string) (EventKind, bool) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	if k.Valid() {
		return k, true
	}
	return "", false
}

// Event is the payload published to Kafka by the CRUD layer.
// Immutable once published; consumed at least once per worker group.
type Event struct {
	ID        string    `json:"event_id"`
	Kind      EventKind `json:"kind"`
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required-field presence only; the engine does not judge
// domain correctness of the payload.
func (e Event) Validate() map[string]string {
	errs := make(map[string]string)
	if strings.TrimSpace(e.ID) == "" {
		errs["event_id"] = "required"
	}
	if !e.Kind.Valid() {
		errs["kind"] = "must be one of POST, COMMENT, LIKE, FOLLOW"
	}
	if strings.TrimSpace(e.ActorID) == "" {
		errs["actor_id"] = "required"
	}
	if strings.TrimSpace(e.TargetID) == "" {
		errs["target_id"] = "required"
	}
	if e.CreatedAt.IsZero() {
		errs["created_at"] = "required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
