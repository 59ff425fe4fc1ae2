package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-Orchestrator/internal/errors"
)

func TestWebhookNotifierPostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	event := FromError(xerrors.New(xerrors.CodeLiveLock, "", xerrors.WithMetadata("plan_id", "p-1")))
	event.ThreadID = "t-1"
	dispatcher := NewFanout(LogNotifier{}, NewWebhookNotifier(srv.URL, time.Second))
	require.NoError(t, dispatcher.Notify(context.Background(), event))

	got := <-received
	assert.Equal(t, xerrors.CodeLiveLock, got.Code)
	assert.Equal(t, "t-1", got.ThreadID)
	assert.Equal(t, "p-1", got.Metadata["plan_id"])
	assert.Equal(t, []Channel{ChannelLog, ChannelWebhook}, dispatcher.Channels())
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewFanout(NewWebhookNotifier(srv.URL, time.Second)).Notify(context.Background(), Event{Code: xerrors.CodeRetryExhausted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
}
