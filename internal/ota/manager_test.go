package ota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/breaker"
	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/notify"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/resilience"
	"git.home.luguber.info/inful/shipwright/internal/retry"
	"git.home.luguber.info/inful/shipwright/internal/store"
	"git.home.luguber.info/inful/shipwright/internal/testprovider"
)

type staticResolver struct {
	mu    sync.Mutex
	calls int
}

func (r *staticResolver) EnsureProviderProject(_ context.Context, projectID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "pp-" + projectID, nil
}

type fixture struct {
	mgr      *Manager
	store    *store.SQLiteStore
	provider *testprovider.Fake
	events   *notify.Memory
	project  *models.Project
}

func newFixture(t *testing.T, cfg config.OTAConfig) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	project := &models.Project{Name: "Field Notes"}
	require.NoError(t, st.CreateProject(context.Background(), project))

	fake := testprovider.NewFake()
	b := breaker.New(breaker.Settings{Name: "provider", FailureThreshold: 5, ResetTimeout: time.Minute, CallTimeout: time.Second})
	guard := resilience.NewProviderGuard(b, retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2))

	f := &fixture{store: st, provider: fake, events: &notify.Memory{}, project: project}
	f.mgr = New(Deps{
		Store:    st,
		Provider: provider.NewGuarded(fake, guard),
		Projects: &staticResolver{},
		Notifier: f.events,
		Config:   cfg,
	})
	return f
}

func (f *fixture) channel(t *testing.T, runtime string) *models.Channel {
	t.Helper()
	c, err := f.mgr.CreateChannel(context.Background(), CreateChannelRequest{
		ProjectID:      f.project.ID,
		Name:           "production",
		IsDefault:      true,
		RuntimeVersion: runtime,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) publish(t *testing.T, channelID string, percent int) *models.OTAUpdate {
	t.Helper()
	u, err := f.mgr.PublishUpdate(context.Background(), PublishRequest{
		ChannelID:      channelID,
		Message:        "fix crash",
		ChangeType:     "patch",
		RolloutPercent: percent,
	})
	require.NoError(t, err)
	return u
}

func TestCreateChannelDefaultsBranch(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")
	assert.Equal(t, "production", c.BranchRef)

	_, err := f.mgr.CreateChannel(context.Background(), CreateChannelRequest{ProjectID: f.project.ID})
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	_, err = f.mgr.CreateChannel(context.Background(), CreateChannelRequest{ProjectID: "missing", Name: "beta"})
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestPublishUpdate(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")

	u := f.publish(t, c.ID, 0)
	assert.Equal(t, 1, u.Version)
	assert.Equal(t, 100, u.RolloutPercent, "0 means full rollout")
	assert.Equal(t, models.PlatformAll, u.Platform)
	assert.Equal(t, "1.0.0", u.RuntimeVersion)
	assert.Equal(t, models.UpdateActive, u.Status)
	assert.True(t, u.CanRollback)
	assert.NotEmpty(t, u.ExternalUpdateID)
	assert.NotEmpty(t, u.ManifestURL)

	assert.True(t, f.provider.HasBranch("pp-"+f.project.ID, "production"))
	assert.Equal(t, "1.0.0", f.provider.BranchRuntimeVersion("pp-"+f.project.ID, "production"))
	published := f.provider.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "production", published[0].Branch)
	assert.Equal(t, []string{notify.UpdatePublished}, f.events.Types())
}

func TestPublishUpdateRuntimeVersionFallsBackToConfig(t *testing.T) {
	f := newFixture(t, config.OTAConfig{DefaultRuntimeVersion: "2.0.0"})
	c := f.channel(t, "")
	u := f.publish(t, c.ID, 100)
	assert.Equal(t, "2.0.0", u.RuntimeVersion)
	assert.Equal(t, "2.0.0", f.provider.BranchRuntimeVersion("pp-"+f.project.ID, "production"))

	bare := newFixture(t, config.OTAConfig{})
	c = bare.channel(t, "")
	_, err := bare.mgr.PublishUpdate(context.Background(), PublishRequest{ChannelID: c.ID})
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	assert.Empty(t, bare.provider.Published())
}

func TestPublishUpdateRejectsBadInput(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")
	ctx := context.Background()

	cases := []PublishRequest{
		{},
		{ChannelID: c.ID, RolloutPercent: 101},
		{ChannelID: c.ID, RolloutPercent: -1},
		{ChannelID: c.ID, Platform: "web"},
	}
	for _, req := range cases {
		_, err := f.mgr.PublishUpdate(ctx, req)
		assert.True(t, errors.HasCategory(err, errors.CategoryValidation), "%+v", req)
	}

	_, err := f.mgr.PublishUpdate(ctx, PublishRequest{ChannelID: "missing"})
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestPublishUpdateProviderUnavailable(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")
	f.provider.SetFailMode("PublishUpdate", testprovider.FailModeUnavailable)

	_, err := f.mgr.PublishUpdate(context.Background(), PublishRequest{ChannelID: c.ID})
	require.Error(t, err)
	assert.True(t, resilience.IsUnavailable(err))

	updates, err := f.mgr.ListUpdates(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestConcurrentPublishVersionsAreUnique(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mgr.PublishUpdate(context.Background(), PublishRequest{
				ChannelID:      c.ID,
				Message:        fmt.Sprintf("update %d", i),
				RolloutPercent: 50,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	updates, err := f.mgr.ListUpdates(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, updates, n)
	for i, u := range updates {
		assert.Equal(t, n-i, u.Version)
	}
}

func TestRolloutThenPromote(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")
	ctx := context.Background()

	first := f.publish(t, c.ID, 10)
	second := f.publish(t, c.ID, 100)

	got, err := f.mgr.GetUpdate(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateArchived, got.Status)
	got, err = f.mgr.GetUpdate(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateActive, got.Status)

	third := f.publish(t, c.ID, 20)
	u, err := f.mgr.SetRolloutPercent(ctx, third.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, u.RolloutPercent)

	_, err = f.mgr.SetRolloutPercent(ctx, third.ID, 30)
	assert.ErrorIs(t, err, store.ErrRolloutDecrease)
	_, err = f.mgr.SetRolloutPercent(ctx, third.ID, 0)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	u, err = f.mgr.SetRolloutPercent(ctx, third.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateActive, u.Status)
	got, err = f.mgr.GetUpdate(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateArchived, got.Status)
	assert.Contains(t, f.events.Types(), notify.UpdatePromoted)
}

func TestRollback(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")
	ctx := context.Background()

	first := f.publish(t, c.ID, 100)
	_, _, err := f.mgr.RollbackUpdate(ctx, first.ID, "")
	assert.ErrorIs(t, err, store.ErrNoPreviousVersion)

	second := f.publish(t, c.ID, 100)
	source, target, err := f.mgr.RollbackUpdate(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.UpdateRolledBack, source.Status)
	assert.Equal(t, first.ID, source.RolledBackTo)
	assert.Equal(t, first.ID, target.ID)
	assert.Equal(t, 100, target.RolloutPercent)

	updates, err := f.mgr.ListUpdates(ctx, c.ID)
	require.NoError(t, err)
	active := 0
	for _, u := range updates {
		if u.Status == models.UpdateActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	_, _, err = f.mgr.RollbackUpdate(ctx, second.ID, "")
	assert.ErrorIs(t, err, store.ErrNotRollbackable)
	assert.Contains(t, f.events.Types(), notify.UpdateRolledBack)
}

func TestTrackEventAndStatus(t *testing.T) {
	f := newFixture(t, config.OTAConfig{TopErrors: 2})
	c := f.channel(t, "1.0.0")
	u := f.publish(t, c.ID, 100)
	ctx := context.Background()

	ms := int64(120)
	track := func(et models.EventType, errMsg string) {
		_, err := f.mgr.TrackEvent(ctx, TrackEventRequest{
			UpdateID: u.ID, EventType: et, Platform: models.PlatformIOS,
			AppVersion: "1.0.0", DeviceID: "dev-1", DurationMS: &ms, Error: errMsg,
		})
		require.NoError(t, err)
	}
	track(models.EventDownload, "")
	track(models.EventDownload, "")
	track(models.EventApply, "")
	track(models.EventError, "boom")
	track(models.EventError, "boom")
	track(models.EventError, "disk full")
	track(models.EventError, "timeout")

	status, err := f.mgr.GetUpdateStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.Update.DownloadCount)
	assert.Equal(t, int64(4), status.Update.ErrorCount)
	require.Len(t, status.Metrics, 1)
	assert.Equal(t, int64(2), status.Metrics[0].Downloads)
	require.Len(t, status.TopErrors, 2)
	assert.Equal(t, "boom", status.TopErrors[0].Message)
	assert.Equal(t, int64(2), status.TopErrors[0].Count)

	rows, err := f.mgr.GetUpdateMetrics(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.mgr.TrackEvent(ctx, TrackEventRequest{UpdateID: u.ID, EventType: "install", Platform: models.PlatformIOS, AppVersion: "1"})
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	_, err = f.mgr.TrackEvent(ctx, TrackEventRequest{UpdateID: "missing", EventType: models.EventApply, Platform: models.PlatformIOS, AppVersion: "1"})
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	_, err = f.mgr.GetUpdateStatus(ctx, "missing")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}
