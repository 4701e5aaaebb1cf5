package push

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsocial/notifygw/internal/model"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBroker(rdb)
}

func TestDeliver_NoSubscribers(t *testing.T) {
	b := newTestBroker(t)

	n := model.Notification{ID: "n-1", RecipientID: "u-alice", EventID: "ev-1"}
	receivers, err := b.Deliver(context.Background(), n)
	require.NoError(t, err)
	assert.Zero(t, receivers, "no gateway up means the offline path")
}

func TestDeliverReachesSubscriber(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.Notification, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, func(n model.Notification) { got <- n })
	}()

	// wait for the subscription to land
	var receivers int64
	require.Eventually(t, func() bool {
		r, err := b.Deliver(context.Background(), model.Notification{
			ID: "n-1", RecipientID: "u-alice", EventID: "ev-1", Kind: model.KindLike,
		})
		if err != nil || r == 0 {
			return false
		}
		receivers = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, receivers)

	select {
	case n := <-got:
		assert.Equal(t, "n-1", n.ID)
		assert.Equal(t, "u-alice", n.RecipientID)
		assert.Equal(t, model.KindLike, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("deliver command never reached the subscriber")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop on cancel")
	}
}
