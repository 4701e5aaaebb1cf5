package visibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsocial/notifygw/internal/model"
)

type fakeIdentities struct {
	byID map[string]*model.Identity
	err  error
}

func (f *fakeIdentities) GetByID(_ context.Context, id string) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

type fakeFollows struct {
	edges map[[2]string]bool // {follower, followee}
	err   error
}

func (f *fakeFollows) Exists(_ context.Context, followerID, followeeID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.edges[[2]string{followerID, followeeID}], nil
}

func newTestResolver() (*Resolver, *fakeIdentities, *fakeFollows) {
	ids := &fakeIdentities{byID: map[string]*model.Identity{
		"u-alice": {ID: "u-alice", Privacy: model.PrivacyPublic},
		"u-carol": {ID: "u-carol", Privacy: model.PrivacyPrivate},
	}}
	fl := &fakeFollows{edges: map[[2]string]bool{
		{"u-bob", "u-alice"}:  true,
		{"u-dave", "u-carol"}: true,
	}}
	return NewResolver(ids, fl), ids, fl
}

func TestCanSee_FollowerOnly(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver()
	ctx := context.Background()

	ok, err := r.CanSee(ctx, "u-alice", "u-bob", model.KindPost)
	require.NoError(t, err)
	assert.True(t, ok)

	// no edge, no visibility
	ok, err = r.CanSee(ctx, "u-alice", "u-erin", model.KindPost)
	require.NoError(t, err)
	assert.False(t, ok)

	// private actor, existing edge
	ok, err = r.CanSee(ctx, "u-carol", "u-dave", model.KindComment)
	require.NoError(t, err)
	assert.True(t, ok)

	// private actor, no edge
	ok, err = r.CanSee(ctx, "u-carol", "u-bob", model.KindComment)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanSee_SelfAlwaysVisible(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver()
	ok, err := r.CanSee(context.Background(), "u-alice", "u-alice", model.KindLike)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanSee_UnknownActorDenied(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver()
	ok, err := r.CanSee(context.Background(), "u-ghost", "u-bob", model.KindPost)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanSee_StoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	r, ids, _ := newTestResolver()
	ids.err = errors.New("db down")
	_, err := r.CanSee(context.Background(), "u-alice", "u-bob", model.KindPost)
	assert.Error(t, err)
}

func TestCanSeeEvent_FollowTargetOnly(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver()
	ev := model.Event{
		ID: "ev-1", Kind: model.KindFollow,
		ActorID: "u-bob", TargetID: "u-alice", CreatedAt: time.Now(),
	}

	ok, err := r.CanSeeEvent(context.Background(), ev, "u-alice")
	require.NoError(t, err)
	assert.True(t, ok)

	// a follower of the actor is still not the followee
	ok, err = r.CanSeeEvent(context.Background(), ev, "u-carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanSeeEvent_UnfollowBetweenPublishAndDelivery(t *testing.T) {
	t.Parallel()

	r, _, fl := newTestResolver()
	ev := model.Event{
		ID: "ev-2", Kind: model.KindPost,
		ActorID: "u-alice", TargetID: "post-1", CreatedAt: time.Now(),
	}

	ok, err := r.CanSeeEvent(context.Background(), ev, "u-bob")
	require.NoError(t, err)
	assert.True(t, ok)

	// the edge disappears before a retry; the next attempt must deny
	delete(fl.edges, [2]string{"u-bob", "u-alice"})

	ok, err = r.CanSeeEvent(context.Background(), ev, "u-bob")
	require.NoError(t, err)
	assert.False(t, ok)
}
