package visibility

import (
	"context"
	"fmt"

	"github.com/voxsocial/notifygw/internal/model"
)

// IdentityStore exposes the privacy read path of the external account store.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*model.Identity, error)
}

// FollowStore exposes the follow-edge read path.
type FollowStore interface {
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
}

// Resolver decides whether a recipient is authorized to see an event about
// an actor. It is side-effect-free and queries the stores fresh on every
// call, so a privacy toggle or unfollow between publish and delivery is
// honored at the next attempt.
type Resolver struct {
	identities IdentityStore
	follows    FollowStore
}

func NewResolver(identities IdentityStore, follows FollowStore) *Resolver {
	return &Resolver{identities: identities, follows: follows}
}

// CanSee applies the privacy + follow-edge rules:
//   - FOLLOW events are visible only to the followee (the event target).
//   - POST/COMMENT/LIKE events are visible to the actor themself and to
//     identities holding a current follow edge to the actor. PRIVATE actors
//     restrict to followers; PUBLIC fanout is already follower-scoped, so
//     both modes resolve through the same live edge check.
func (r *Resolver) CanSee(ctx context.Context, actorID, recipientID string, kind model.EventKind) (bool, error) {
	if kind == model.KindFollow {
		// the recipient set for FOLLOW is computed as the followee; anyone
		// else asking is denied outright
		return false, nil
	}

	if recipientID == actorID {
		return true, nil
	}

	actor, err := r.identities.GetByID(ctx, actorID)
	if err != nil {
		return false, fmt.Errorf("actor lookup: %w", err)
	}
	if actor == nil {
		return false, nil
	}

	follows, err := r.follows.Exists(ctx, recipientID, actorID)
	if err != nil {
		return false, fmt.Errorf("follow edge lookup: %w", err)
	}
	return follows, nil
}

// CanSeeEvent evaluates visibility for a concrete event, including the
// FOLLOW special case where the target is the only legal recipient.
func (r *Resolver) CanSeeEvent(ctx context.Context, ev model.Event, recipientID string) (bool, error) {
	if ev.Kind == model.KindFollow {
		return recipientID == ev.TargetID, nil
	}
	return r.CanSee(ctx, ev.ActorID, recipientID, ev.Kind)
}
