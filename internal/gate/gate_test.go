package gate

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeeper(t *testing.T, cooldown time.Duration) *Keeper {
	t.Helper()
	return NewKeeper(Config{FailureThreshold: 5, Cooldown: cooldown}, zerolog.Nop())
}

func TestUnknownEntityStartsClosed(t *testing.T) {
	k := newTestKeeper(t, time.Minute)
	assert.Equal(t, Closed, k.Check("never-seen"))

	st, ok := k.Status("never-seen")
	require.True(t, ok, "Check should have created the record")
	assert.Equal(t, "closed", st.State)
	assert.Nil(t, st.ReopenAt)
}

func TestFiveConsecutiveFailuresOpenGate(t *testing.T) {
	k := newTestKeeper(t, time.Minute)

	for i := 0; i < 4; i++ {
		k.RecordOutcome("sku-1", false)
		assert.Equal(t, Closed, k.Check("sku-1"), "failure %d should not trip", i+1)
	}
	k.RecordOutcome("sku-1", false)
	assert.Equal(t, Open, k.Check("sku-1"))

	st, ok := k.Status("sku-1")
	require.True(t, ok)
	require.NotNil(t, st.ReopenAt, "open gate must carry a reopen time")
	assert.True(t, st.ReopenAt.After(time.Now()), "reopenAt must be in the future at creation")
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	k := newTestKeeper(t, time.Minute)

	for i := 0; i < 4; i++ {
		k.RecordOutcome("sku-2", false)
	}
	k.RecordOutcome("sku-2", true)

	st, ok := k.Status("sku-2")
	require.True(t, ok)
	assert.Equal(t, "closed", st.State)
	assert.Equal(t, uint32(0), st.ConsecutiveFailures)

	// A fresh run of failures still needs the full threshold.
	for i := 0; i < 4; i++ {
		k.RecordOutcome("sku-2", false)
	}
	assert.Equal(t, Closed, k.Check("sku-2"))
}

func TestOpenTransitionsToHalfOpenOnlyAfterCooldown(t *testing.T) {
	k := newTestKeeper(t, 40*time.Millisecond)

	for i := 0; i < 5; i++ {
		k.RecordOutcome("sku-3", false)
	}
	assert.Equal(t, Open, k.Check("sku-3"), "must stay open before cooldown")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, HalfOpen, k.Check("sku-3"))
}

func TestHalfOpenProbeOutcome(t *testing.T) {
	k := newTestKeeper(t, 20*time.Millisecond)

	for i := 0; i < 5; i++ {
		k.RecordOutcome("sku-4", false)
	}
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, HalfOpen, k.Check("sku-4"))

	k.RecordOutcome("sku-4", true)
	assert.Equal(t, Closed, k.Check("sku-4"), "successful probe closes the gate")

	// Trip again, probe fails, gate reopens.
	for i := 0; i < 5; i++ {
		k.RecordOutcome("sku-4", false)
	}
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, HalfOpen, k.Check("sku-4"))
	k.RecordOutcome("sku-4", false)
	assert.Equal(t, Open, k.Check("sku-4"), "failed probe reopens the gate")
}

func TestOutcomeWhileOpenIsDropped(t *testing.T) {
	k := newTestKeeper(t, time.Minute)

	for i := 0; i < 5; i++ {
		k.RecordOutcome("sku-5", false)
	}
	require.Equal(t, Open, k.Check("sku-5"))

	// Recording against an open gate must not panic or change state.
	k.RecordOutcome("sku-5", true)
	assert.Equal(t, Open, k.Check("sku-5"))
}

func TestEntitiesAreIndependent(t *testing.T) {
	k := newTestKeeper(t, time.Minute)

	for i := 0; i < 5; i++ {
		k.RecordOutcome("failing", false)
	}
	assert.Equal(t, Open, k.Check("failing"))
	assert.Equal(t, Closed, k.Check("healthy"))
}

func TestAllStatusesSortedAndRetained(t *testing.T) {
	k := newTestKeeper(t, time.Minute)

	for _, key := range []string{"c", "a", "b"} {
		k.Check(key)
	}
	statuses := k.AllStatuses()
	require.Len(t, statuses, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, statuses[i].EntityKey)
	}
}

func TestTransitionHookFires(t *testing.T) {
	k := newTestKeeper(t, time.Minute)
	var transitions []string
	k.OnTransition = func(entity string, from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", entity, from, to))
	}

	for i := 0; i < 5; i++ {
		k.RecordOutcome("sku-6", false)
	}
	require.NotEmpty(t, transitions)
	assert.Equal(t, "sku-6:closed->open", transitions[0])
}
