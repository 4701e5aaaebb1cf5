package worker

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsocial/notifygw/internal/model"
	"github.com/voxsocial/notifygw/internal/repository"
	"github.com/voxsocial/notifygw/internal/visibility"
)

// ---- fakes ----

type memIdentities struct {
	byID map[string]*model.Identity
}

func (m *memIdentities) GetByID(_ context.Context, id string) (*model.Identity, error) {
	return m.byID[id], nil
}

type memFollows struct {
	mu    sync.Mutex
	edges map[string][]string // followee -> sorted follower ids
}

func (m *memFollows) Exists(_ context.Context, followerID, followeeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.edges[followeeID] {
		if f == followerID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memFollows) ListFollowers(_ context.Context, followeeID string, offset, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.edges[followeeID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]string(nil), all[offset:end]...), nil
}

func (m *memFollows) unfollow(followerID, followeeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.edges[followeeID][:0]
	for _, f := range m.edges[followeeID] {
		if f != followerID {
			out = append(out, f)
		}
	}
	m.edges[followeeID] = out
}

// memStore is an in-memory outbox honoring the unique (recipient, event)
// key and the monotonic state machine.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*model.Notification // id -> row
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*model.Notification)}
}

func (m *memStore) InsertPending(_ context.Context, n model.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.RecipientID == n.RecipientID && r.EventID == n.EventID {
			return false, nil
		}
	}
	n.State = model.StatePending
	n.CreatedAt = time.Now()
	cp := n
	m.rows[n.ID] = &cp
	return true, nil
}

func (m *memStore) TransitionState(_ context.Context, id string, from, to model.NotificationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.State != from || !from.CanTransitionTo(to) {
		return repository.ErrStaleTransition
	}
	r.State = to
	r.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) Ack(_ context.Context, recipientID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[notificationID]
	if !ok || r.RecipientID != recipientID || r.State != model.StateDelivered {
		return repository.ErrStaleTransition
	}
	r.State = model.StateAcked
	return nil
}

func (m *memStore) ListPending(_ context.Context, recipientID string, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, r := range m.rows {
		if r.RecipientID == recipientID && r.State == model.StatePending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventCreatedAt.Equal(out[j].EventCreatedAt) {
			return out[i].EventCreatedAt.Before(out[j].EventCreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, _ int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, r := range m.rows {
		if r.State == model.StatePending && !r.NextRetryAt.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) MarkRetry(_ context.Context, id string, attempts int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.State == model.StatePending {
		r.Attempts = attempts
		r.NextRetryAt = nextRetryAt
	}
	return nil
}

func (m *memStore) ReclaimUnacked(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.State == model.StateDelivered && r.UpdatedAt.Before(olderThan) {
			r.State = model.StatePending
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExpireExhausted(_ context.Context, maxAttempts int, retentionBefore time.Time) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, r := range m.rows {
		exhausted := r.State == model.StatePending && r.Attempts >= maxAttempts
		undone := r.State == model.StatePending || r.State == model.StateDelivered
		if exhausted || (undone && r.CreatedAt.Before(retentionBefore)) {
			r.State = model.StateExpired
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) byRecipient(recipientID string) []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, r := range m.rows {
		if r.RecipientID == recipientID {
			out = append(out, *r)
		}
	}
	return out
}

type fakePusher struct {
	mu        sync.Mutex
	delivered []model.Notification
	receivers int64
	err       error
}

func (p *fakePusher) Deliver(_ context.Context, n model.Notification) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.delivered = append(p.delivered, n)
	return p.receivers, nil
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delivered)
}

// ---- fixtures ----

func newTestDelivery() (*Delivery, *memStore, *memFollows, *fakePusher) {
	ids := &memIdentities{byID: map[string]*model.Identity{
		"u-alice": {ID: "u-alice", Privacy: model.PrivacyPublic},
		"u-bob":   {ID: "u-bob", Privacy: model.PrivacyPublic},
		"u-carol": {ID: "u-carol", Privacy: model.PrivacyPrivate},
	}}
	follows := &memFollows{edges: map[string][]string{
		"u-alice": {"u-bob", "u-carol"},
		"u-carol": {"u-dave"},
	}}
	store := newMemStore()
	pusher := &fakePusher{receivers: 1}

	d := NewDelivery(nil, follows, store, visibility.NewResolver(ids, follows), pusher, nil)
	d.FanoutPageSize = 1 // force paging through the follower list
	return d, store, follows, pusher
}

func postEvent(id string) model.Event {
	return model.Event{
		ID: id, Kind: model.KindPost,
		ActorID: "u-alice", TargetID: "post-1", CreatedAt: time.Now(),
	}
}

// ---- tests ----

func TestFanOut_PostReachesAllFollowers(t *testing.T) {
	t.Parallel()

	d, store, _, pusher := newTestDelivery()
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))

	assert.Len(t, store.byRecipient("u-bob"), 1)
	assert.Len(t, store.byRecipient("u-carol"), 1)
	assert.Empty(t, store.byRecipient("u-alice"), "actor gets no self notification")
	assert.Equal(t, 2, pusher.count())

	for _, n := range store.byRecipient("u-bob") {
		assert.Equal(t, model.StatePending, n.State)
		assert.Equal(t, 1, n.Attempts, "first attempt scheduled at creation")
	}
}

func TestFanOut_RedeliveryCreatesNoDuplicates(t *testing.T) {
	t.Parallel()

	d, store, _, pusher := newTestDelivery()
	audit := make(chan repository.AuditRow, 16)
	ev := postEvent("ev-1")

	require.NoError(t, d.fanOut(context.Background(), ev, audit))
	require.NoError(t, d.fanOut(context.Background(), ev, audit))

	assert.Len(t, store.byRecipient("u-bob"), 1)
	assert.Len(t, store.byRecipient("u-carol"), 1)
	assert.Equal(t, 2, pusher.count(), "no second push for the duplicate")
}

func TestFanOut_FollowNotifiesOnlyFollowee(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newTestDelivery()
	audit := make(chan repository.AuditRow, 16)
	ev := model.Event{
		ID: "ev-f", Kind: model.KindFollow,
		ActorID: "u-bob", TargetID: "u-alice", CreatedAt: time.Now(),
	}

	require.NoError(t, d.fanOut(context.Background(), ev, audit))

	assert.Len(t, store.byRecipient("u-alice"), 1)
	assert.Empty(t, store.byRecipient("u-bob"))
	assert.Empty(t, store.byRecipient("u-carol"))
}

func TestDeliverTo_VisibilityGateSuppresses(t *testing.T) {
	t.Parallel()

	d, store, follows, _ := newTestDelivery()
	audit := make(chan repository.AuditRow, 16)
	ev := postEvent("ev-1")

	// u-bob unfollows after the event was published but before delivery
	follows.unfollow("u-bob", "u-alice")

	require.NoError(t, d.fanOut(context.Background(), ev, audit))

	assert.Empty(t, store.byRecipient("u-bob"), "suppressed, not stored")
	assert.Len(t, store.byRecipient("u-carol"), 1)
}

func TestDeliverTo_PushFailureLeavesOfflinePath(t *testing.T) {
	t.Parallel()

	d, store, _, pusher := newTestDelivery()
	pusher.err = assert.AnError
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))

	// rows exist as PENDING with a retry scheduled; the failure is not fatal
	rows := store.byRecipient("u-bob")
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatePending, rows[0].State)
	assert.False(t, rows[0].NextRetryAt.IsZero())
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDelivery()
	d.BackoffBase = 2 * time.Second
	d.BackoffCap = 10 * time.Second

	assert.Equal(t, 2*time.Second, d.backoff(1))
	assert.Equal(t, 4*time.Second, d.backoff(2))
	assert.Equal(t, 8*time.Second, d.backoff(3))
	assert.Equal(t, 10*time.Second, d.backoff(4))
	assert.Equal(t, 10*time.Second, d.backoff(40))
	assert.Equal(t, 2*time.Second, d.backoff(0))
}

func TestSweepOnce_RetriesDueRows(t *testing.T) {
	t.Parallel()

	d, store, _, pusher := newTestDelivery()
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))
	pushedAtCreate := pusher.count()

	// force both rows due
	store.mu.Lock()
	for _, r := range store.rows {
		r.NextRetryAt = time.Now().Add(-time.Minute)
	}
	store.mu.Unlock()

	d.sweepOnce(context.Background(), audit)

	assert.Equal(t, pushedAtCreate+2, pusher.count())
	for _, n := range store.byRecipient("u-bob") {
		assert.Equal(t, 2, n.Attempts)
		assert.True(t, n.NextRetryAt.After(time.Now()))
	}
}

func TestSweepOnce_ReclaimsUnackedDeliveries(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newTestDelivery()
	d.AckTimeout = time.Second
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))

	// simulate a delivery that was never acknowledged
	store.mu.Lock()
	for _, r := range store.rows {
		if r.RecipientID == "u-bob" {
			r.State = model.StateDelivered
			r.UpdatedAt = time.Now().Add(-time.Minute)
			r.NextRetryAt = time.Now().Add(time.Hour) // not due; reclaim alone flips it
		}
	}
	store.mu.Unlock()

	d.sweepOnce(context.Background(), audit)

	rows := store.byRecipient("u-bob")
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatePending, rows[0].State)
}

func TestSweepOnce_ExpiresExhaustedRows(t *testing.T) {
	t.Parallel()

	d, store, _, pusher := newTestDelivery()
	d.MaxAttempts = 3
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))
	pushedAtCreate := pusher.count()

	store.mu.Lock()
	for _, r := range store.rows {
		r.Attempts = 3
		r.NextRetryAt = time.Now().Add(-time.Minute)
	}
	store.mu.Unlock()

	d.sweepOnce(context.Background(), audit)

	assert.Equal(t, pushedAtCreate, pusher.count(), "exhausted rows are not retried")
	for _, n := range store.byRecipient("u-bob") {
		assert.Equal(t, model.StateExpired, n.State)
	}
	for _, n := range store.byRecipient("u-carol") {
		assert.Equal(t, model.StateExpired, n.State)
	}
}

func TestSweepOnce_DeliveredOnFinalAttemptAwaitsAck(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newTestDelivery()
	d.MaxAttempts = 3
	d.AckTimeout = time.Minute
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))

	// the last allowed attempt just succeeded; the ack is in flight
	var bobID string
	store.mu.Lock()
	for _, r := range store.rows {
		if r.RecipientID == "u-bob" {
			r.State = model.StateDelivered
			r.Attempts = 3
			r.UpdatedAt = time.Now()
			bobID = r.ID
		}
	}
	store.mu.Unlock()

	d.sweepOnce(context.Background(), audit)

	rows := store.byRecipient("u-bob")
	require.Len(t, rows, 1)
	assert.Equal(t, model.StateDelivered, rows[0].State,
		"exhausted attempts alone must not expire a delivery inside the ack window")
	require.NoError(t, store.Ack(context.Background(), "u-bob", bobID))
}

func TestSweepOnce_UnackedFinalAttemptExpiresAfterReclaim(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newTestDelivery()
	d.MaxAttempts = 3
	d.AckTimeout = time.Second
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))

	store.mu.Lock()
	for _, r := range store.rows {
		if r.RecipientID == "u-bob" {
			r.State = model.StateDelivered
			r.Attempts = 3
			r.UpdatedAt = time.Now().Add(-time.Minute) // ack never came
			r.NextRetryAt = time.Now().Add(time.Hour)
		}
	}
	store.mu.Unlock()

	d.sweepOnce(context.Background(), audit)

	rows := store.byRecipient("u-bob")
	require.Len(t, rows, 1)
	assert.Equal(t, model.StateExpired, rows[0].State,
		"reclaimed to pending with attempts spent, then expired")
}

func TestSweepOnce_AckedRowsUntouched(t *testing.T) {
	t.Parallel()

	d, store, _, _ := newTestDelivery()
	d.MaxAttempts = 1
	audit := make(chan repository.AuditRow, 16)

	require.NoError(t, d.fanOut(context.Background(), postEvent("ev-1"), audit))

	store.mu.Lock()
	var bobID string
	for _, r := range store.rows {
		if r.RecipientID == "u-bob" {
			r.State = model.StateDelivered
			bobID = r.ID
		}
	}
	store.mu.Unlock()
	require.NoError(t, store.Ack(context.Background(), "u-bob", bobID))

	d.sweepOnce(context.Background(), audit)

	rows := store.byRecipient("u-bob")
	require.Len(t, rows, 1)
	assert.Equal(t, model.StateAcked, rows[0].State)
}
