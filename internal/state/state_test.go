package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusRestored(t *testing.T) {
	assert.Equal(t, Idle, Loading.Restored())
	assert.Equal(t, Idle, Status("").Restored())
	assert.Equal(t, Succeeded, Succeeded.Restored())
	assert.Equal(t, Failed, Failed.Restored())
	assert.False(t, Loading.Settled())
	assert.True(t, Failed.Settled())
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "", ErrorText(nil))
	assert.Equal(t, "boom", ErrorText(errors.New("boom")))
}

func TestTrackerInOrder(t *testing.T) {
	tr := NewTracker()

	a := tr.Begin("cart")
	assert.True(t, tr.InFlight("cart"))
	assert.Equal(t, Outcome{Apply: true, Latest: true}, tr.Settle(a))
	assert.False(t, tr.InFlight("cart"))
}

func TestTrackerOutOfOrder(t *testing.T) {
	tr := NewTracker()

	first := tr.Begin("cart")
	second := tr.Begin("cart")

	// newer resolves first and wins
	assert.Equal(t, Outcome{Apply: true, Latest: true}, tr.Settle(second))
	// older one lands afterwards and is discarded
	assert.Equal(t, Outcome{Apply: false, Latest: false}, tr.Settle(first))
}

func TestTrackerOlderResolvesFirst(t *testing.T) {
	tr := NewTracker()

	first := tr.Begin("cart")
	second := tr.Begin("cart")

	out := tr.Settle(first)
	assert.True(t, out.Apply)
	assert.False(t, out.Latest, "a newer request is still in flight")
	assert.True(t, tr.InFlight("cart"))

	assert.Equal(t, Outcome{Apply: true, Latest: true}, tr.Settle(second))
}

func TestTrackerResourcesIndependent(t *testing.T) {
	tr := NewTracker()

	a := tr.Begin("feedback:1")
	b := tr.Begin("feedback:2")

	assert.True(t, tr.Settle(b).Apply)
	assert.True(t, tr.Settle(a).Apply)
}

func TestTrackerInvalidate(t *testing.T) {
	tr := NewTracker()

	tk := tr.Begin("auth")
	tr.Invalidate("auth")

	assert.False(t, tr.Settle(tk).Apply)
	assert.False(t, tr.InFlight("auth"))

	next := tr.Begin("auth")
	assert.Equal(t, Outcome{Apply: true, Latest: true}, tr.Settle(next))
}

func TestTrackerIdle(t *testing.T) {
	tr := NewTracker()
	assert.True(t, tr.Idle("create", "history"))

	create := tr.Begin("create")
	history := tr.Begin("history")
	assert.True(t, tr.Settle(history).Latest)
	assert.False(t, tr.Idle("create", "history"), "create is still pending")
	assert.True(t, tr.Idle("history"))

	tr.Settle(create)
	assert.True(t, tr.Idle("create", "history"))

	stale := tr.Begin("create")
	tr.Invalidate("create")
	assert.True(t, tr.Idle("create"), "invalidated requests do not count")
	tr.Settle(stale)
}
