package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark-service/internal/event"
)

func TestEventSetClear(t *testing.T) {
	ev := event.New()
	assert.False(t, ev.IsSet())

	ev.Set()
	ev.Set()
	assert.True(t, ev.IsSet())
	require.NoError(t, ev.Wait(context.Background()))

	ev.Clear()
	assert.False(t, ev.IsSet())

	assert.True(t, event.NewSet().IsSet())
}

func TestEventWaitReleasesOnSet(t *testing.T) {
	ev := event.New()
	done := make(chan error, 1)

	go func() {
		done <- ev.Wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("wait returned before set")
	case <-time.After(20 * time.Millisecond):
	}

	ev.Set()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after set")
	}
}

func TestEventWaitCancelled(t *testing.T) {
	ev := event.New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := ev.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
