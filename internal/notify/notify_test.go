package notify

import (
	"context"
	"errors"
	"testing"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "shipwright.build.queued", Subject("shipwright", BuildQueued))
	assert.Equal(t, "ops.update.published", Subject("ops.", UpdatePublished))
	assert.Equal(t, "build.failed", Subject("", BuildFailed))
}

func TestMemoryRecordsInOrder(t *testing.T) {
	m := &Memory{}
	ctx := context.Background()
	require.NoError(t, m.Publish(ctx, Event{Type: BuildQueued, BuildID: "b1"}))
	require.NoError(t, m.Publish(ctx, Event{Type: BuildStarted, BuildID: "b1"}))
	assert.Equal(t, []string{BuildQueued, BuildStarted}, m.Types())
	assert.Equal(t, "b1", m.Events()[1].BuildID)
}

func TestOrNoop(t *testing.T) {
	assert.NoError(t, OrNoop(nil).Publish(context.Background(), Event{Type: BuildQueued}))
}

func TestNewNATSPublisherRequiresURL(t *testing.T) {
	_, err := NewNATSPublisher(config.NATSConfig{})
	require.Error(t, err)
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	_, err := NewNATSPublisher(config.NATSConfig{URL: "nats://127.0.0.1:1", SubjectPrefix: "shipwright"})
	require.Error(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }
func (failingPublisher) Close() error                         { return nil }

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	f := Fanout{a, failingPublisher{}, b}

	err := f.Publish(context.Background(), Event{Type: BuildQueued, BuildID: "b1"})
	require.Error(t, err)
	assert.Equal(t, []string{BuildQueued}, a.Types())
	assert.Equal(t, []string{BuildQueued}, b.Types())
	assert.NoError(t, f.Close())
}
