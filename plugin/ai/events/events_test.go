package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to subscribers of the kind in order", func(t *testing.T) {
		bus := NewBus()
		var got []string
		bus.Subscribe(KindExperimentCompleted, func(_ context.Context, e Event) error {
			got = append(got, "first")
			completed, ok := e.(ExperimentCompleted)
			require.True(t, ok)
			assert.Equal(t, int32(7), completed.ExperimentID)
			return nil
		})
		bus.Subscribe(KindExperimentCompleted, func(context.Context, Event) error {
			got = append(got, "second")
			return nil
		})
		bus.Subscribe(KindExperimentStarted, func(context.Context, Event) error {
			got = append(got, "started")
			return nil
		})

		require.NoError(t, bus.Publish(ctx, ExperimentCompleted{ExperimentID: 7}))
		assert.Equal(t, []string{"first", "second"}, got)
	})

	t.Run("a failing handler does not stop the others", func(t *testing.T) {
		bus := NewBus()
		boom := errors.New("boom")
		called := false
		bus.Subscribe(KindSpawnRequested, func(context.Context, Event) error { return boom })
		bus.Subscribe(KindSpawnRequested, func(context.Context, Event) error {
			called = true
			return nil
		})

		err := bus.Publish(ctx, SpawnRequested{SuggestionID: 1})
		require.ErrorIs(t, err, boom)
		assert.True(t, called)
	})

	t.Run("nil bus is a no-op", func(t *testing.T) {
		var bus *Bus
		assert.NoError(t, bus.Publish(ctx, ExperimentStarted{ExperimentID: 1}))
	})
}
