package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationState_CanTransitionTo(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to NotificationState
		want     bool
	}{
		{StatePending, StateDelivered, true},
		{StateDelivered, StateAcked, true},
		{StatePending, StateExpired, true},
		{StateDelivered, StateExpired, true},

		// no skipping forward
		{StatePending, StateAcked, false},

		// no backward moves through the CAS path; the sweeper reclaims
		// unacked rows through its own repository call instead
		{StateDelivered, StatePending, false},
		{StateAcked, StateDelivered, false},
		{StateExpired, StatePending, false},

		// acked and expired are terminal
		{StateAcked, StateExpired, false},
		{StateExpired, StateAcked, false},

		// same-state writes are not transitions
		{StatePending, StatePending, false},
		{StateAcked, StateAcked, false},

		{NotificationState("bogus"), StateDelivered, false},
		{StatePending, NotificationState("bogus"), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestParseEventKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseEventKind("  post ")
	require.True(t, ok)
	assert.Equal(t, KindPost, k)

	_, ok = ParseEventKind("SHARE")
	assert.False(t, ok)

	_, ok = ParseEventKind("")
	assert.False(t, ok)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ev := Event{
		ID:        "ev-1",
		Kind:      KindComment,
		ActorID:   "u-alice",
		TargetID:  "post-9",
		CreatedAt: time.Now(),
	}
	assert.Nil(t, ev.Validate())

	ev.ActorID = ""
	ev.Kind = "SHARE"
	errs := ev.Validate()
	require.NotNil(t, errs)
	assert.Contains(t, errs, "actor_id")
	assert.Contains(t, errs, "kind")
	assert.NotContains(t, errs, "event_id")
}
