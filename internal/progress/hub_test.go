package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	hub.now = func() time.Time { return time.Unix(1700000000, 0) }

	a, closeA := hub.Subscribe()
	b, closeB := hub.Subscribe()
	defer closeB()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Reporter("generate", "p-1").Step("set_options")

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "generate", ev.Operation)
			assert.Equal(t, "p-1", ev.ProjectID)
			assert.Equal(t, "set_options", ev.Step)
			assert.Equal(t, StatusRunning, ev.Status)
			assert.Equal(t, int64(1700000000), ev.Time.Unix())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	closeA()
	closeA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	hub.buffer = 1
	ch, cancel := hub.Subscribe()
	defer cancel()

	r := hub.Reporter("build_app", "")
	r.Step("one")
	r.Fail("two", errors.New("boom"))

	ev := <-ch
	assert.Equal(t, "one", ev.Step)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestNilHub(t *testing.T) {
	var hub *Hub
	require.NotPanics(t, func() {
		hub.Publish(Event{Step: "x"})
		hub.Reporter("generate", "").Done("x", "ok")
	})
	assert.Zero(t, hub.Subscribers())
}
