package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
)

func TestEventHubSubscribeAndPublish(t *testing.T) {
	hub := NewEventHub(time.Second)
	ch, unsubscribe := hub.Subscribe("b1")
	other, unsubscribeOther := hub.Subscribe("b2")
	defer unsubscribeOther()

	require.NoError(t, hub.Publish(context.Background(), notify.Event{Type: notify.BuildStarted, BuildID: "b1"}))
	ev := <-ch
	assert.Equal(t, notify.BuildStarted, ev.Type)
	assert.Empty(t, other)
	assert.Equal(t, 1, hub.SubscriberCount("b1"))

	unsubscribe()
	unsubscribe()
	assert.Zero(t, hub.SubscriberCount("b1"))
	_, open := <-ch
	assert.False(t, open)
}

func TestEventHubCloseEndsStreams(t *testing.T) {
	hub := NewEventHub(time.Second)
	ch, _ := hub.Subscribe("b1")
	require.NoError(t, hub.Close())
	_, open := <-ch
	assert.False(t, open)

	late, _ := hub.Subscribe("b1")
	_, open = <-late
	assert.False(t, open)
}

func TestStreamEndsOnTerminalEvent(t *testing.T) {
	hub := NewEventHub(5 * time.Second)
	b := &models.Build{ID: "b1", ProjectID: "p1", Status: models.BuildBuilding}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/builds/b1/events", http.NoBody)

	done := make(chan struct{})
	go func() {
		hub.Stream(w, r, b)
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.SubscriberCount("b1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), notify.Event{Type: notify.BuildSucceeded, BuildID: "b1", Status: string(models.BuildSuccess)}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on terminal event")
	}

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "event: "+notify.BuildSucceeded)
}

func TestStreamOfFinishedBuildSendsSnapshotOnly(t *testing.T) {
	hub := NewEventHub(5 * time.Second)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/builds/b1/events", http.NoBody)

	hub.Stream(w, r, &models.Build{ID: "b1", Status: models.BuildFailed})
	assert.Equal(t, 1, strings.Count(w.Body.String(), "event: "))
	assert.Zero(t, hub.SubscriberCount("b1"))
}

func TestStreamIdleTimeout(t *testing.T) {
	hub := NewEventHub(20 * time.Millisecond)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/builds/b1/events", http.NoBody)

	hub.Stream(w, r, &models.Build{ID: "b1", Status: models.BuildQueued})
	assert.Contains(t, w.Body.String(), "event: timeout")
}
