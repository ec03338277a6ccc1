package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcasts to all channels", func(t *testing.T) {
		d := NewDispatcher(0, 1)
		first, second := NewMemorySender(), NewMemorySender()
		d.Register(ChannelLog, first)
		d.Register(ChannelWebhook, second)

		errs := d.Notify(ctx, &Notification{Event: "experiment.completed", Title: "done"})
		assert.Empty(t, errs)
		require.Len(t, first.GetAll(), 1)
		require.Len(t, second.GetAll(), 1)
		assert.NotEmpty(t, first.GetAll()[0].ID)
		assert.False(t, first.GetAll()[0].Timestamp.IsZero())
	})

	t.Run("collects sender failures", func(t *testing.T) {
		d := NewDispatcher(0, 1)
		failing := NewMemorySender()
		failing.SetError(errors.New("down"))
		d.Register(ChannelWebhook, failing)

		errs := d.Notify(ctx, &Notification{Event: "experiment.cancelled"})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "down")
	})

	t.Run("throttles over the burst", func(t *testing.T) {
		d := NewDispatcher(0.001, 2)
		sender := NewMemorySender()
		d.Register(ChannelLog, sender)

		for i := 0; i < 5; i++ {
			assert.Empty(t, d.Notify(ctx, &Notification{Event: "experiment.completed"}))
		}
		assert.Len(t, sender.GetAll(), 2)
	})

	t.Run("nil dispatcher is a no-op", func(t *testing.T) {
		var d *Dispatcher
		assert.Nil(t, d.Notify(ctx, &Notification{}))
	})
}

func TestWebhookSender(t *testing.T) {
	var received Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "s3cret", r.Header.Get("X-Webhook-Secret"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewWebhookSender(WebhookConfig{URL: server.URL, Secret: "s3cret"})
	err := sender.Send(context.Background(), &Notification{ID: "n-1", Event: "experiment.completed", Message: "variant won"})
	require.NoError(t, err)
	assert.Equal(t, "n-1", received.ID)
	assert.Equal(t, "variant won", received.Message)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer failing.Close()

	err = NewWebhookSender(WebhookConfig{URL: failing.URL}).Send(context.Background(), &Notification{ID: "n-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
