package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/models"
)

func seedChannel(t *testing.T, s *SQLiteStore) *models.Channel {
	t.Helper()
	seedProject(t, s, "app")
	c := &models.Channel{ProjectID: "app", Name: "production", BranchRef: "production"}
	require.NoError(t, s.CreateChannel(context.Background(), c))
	return c
}

func publish(t *testing.T, s *SQLiteStore, channelID string, percent int) *models.OTAUpdate {
	t.Helper()
	u := &models.OTAUpdate{ChannelID: channelID, Platform: models.PlatformAll, RolloutPercent: percent, CanRollback: true}
	require.NoError(t, s.InsertUpdate(context.Background(), u))
	return u
}

func activeIDs(t *testing.T, s *SQLiteStore, channelID string) []string {
	t.Helper()
	updates, err := s.ListUpdates(context.Background(), channelID)
	require.NoError(t, err)
	var ids []string
	for _, u := range updates {
		if u.Status == models.UpdateActive {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

func TestConcurrentPublishAssignsUniqueVersions(t *testing.T) {
	s := newTestStore(t)
	c := seedChannel(t, s)

	const n = 20
	var wg sync.WaitGroup
	versions := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := &models.OTAUpdate{ChannelID: c.ID, Platform: models.PlatformAll, RolloutPercent: 100, CanRollback: true}
			if err := s.InsertUpdate(context.Background(), u); err != nil {
				errs <- err
				return
			}
			versions <- u.Version
		}()
	}
	wg.Wait()
	close(versions)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var got []int
	for v := range versions {
		got = append(got, v)
	}
	sort.Ints(got)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)
	assert.Len(t, activeIDs(t, s, c.ID), 1, "only the last full rollout stays active")
}

func TestPartialRolloutCoexistsThenPromotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedChannel(t, s)

	v1 := publish(t, s, c.ID, 100)
	v2 := publish(t, s, c.ID, 10)
	assert.ElementsMatch(t, []string{v1.ID, v2.ID}, activeIDs(t, s, c.ID))

	_, err := s.SetRolloutPercent(ctx, v2.ID, 5)
	require.ErrorIs(t, err, ErrRolloutDecrease)

	u, err := s.SetRolloutPercent(ctx, v2.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, u.RolloutPercent)
	assert.Len(t, activeIDs(t, s, c.ID), 2)

	u, err = s.SetRolloutPercent(ctx, v2.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateActive, u.Status)
	assert.Equal(t, []string{v2.ID}, activeIDs(t, s, c.ID))

	_, err = s.SetRolloutPercent(ctx, v1.ID, 100)
	require.ErrorIs(t, err, ErrUpdateNotActive)
}

func TestRollbackLeavesSingleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedChannel(t, s)

	v1 := publish(t, s, c.ID, 100)
	v2 := publish(t, s, c.ID, 100)
	v3 := publish(t, s, c.ID, 100)

	source, target, err := s.Rollback(ctx, v3.ID, "")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, target.ID)
	assert.Equal(t, models.UpdateRolledBack, source.Status)
	assert.Equal(t, v2.ID, source.RolledBackTo)
	assert.Equal(t, []string{v2.ID}, activeIDs(t, s, c.ID))

	persisted, err := s.GetUpdate(ctx, v3.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, persisted.RolledBackTo)
	assert.False(t, persisted.CanRollback)

	_, _, err = s.Rollback(ctx, v3.ID, "")
	require.ErrorIs(t, err, ErrNotRollbackable)

	// Explicit target skips v1's natural successor.
	_, target, err = s.Rollback(ctx, v2.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, target.ID)
	assert.Equal(t, 100, target.RolloutPercent)
	assert.Equal(t, []string{v1.ID}, activeIDs(t, s, c.ID))

	_, _, err = s.Rollback(ctx, v1.ID, "")
	require.ErrorIs(t, err, ErrNoPreviousVersion)
}

func TestRollbackOfPartialRolloutKeepsPriorActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedChannel(t, s)

	v1 := publish(t, s, c.ID, 100)
	v2 := publish(t, s, c.ID, 25)

	_, target, err := s.Rollback(ctx, v2.ID, "")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, target.ID)
	assert.Equal(t, []string{v1.ID}, activeIDs(t, s, c.ID))
}

func TestEventsMetricsAndTopErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedChannel(t, s)
	u := publish(t, s, c.ID, 100)
	day := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	dur := func(ms int64) *int64 { return &ms }
	events := []*models.UpdateEvent{
		{EventType: models.EventDownload, DurationMS: dur(100)},
		{EventType: models.EventDownload, DurationMS: dur(300)},
		{EventType: models.EventApply, DurationMS: dur(50)},
		{EventType: models.EventError, Error: "hash mismatch"},
		{EventType: models.EventError, Error: "hash mismatch"},
		{EventType: models.EventError, Error: "disk full"},
		{EventType: models.EventRollback},
	}
	for i, e := range events {
		e.UpdateID = u.ID
		e.Platform = models.PlatformIOS
		e.AppVersion = "2.1.0"
		e.CreatedAt = day.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendEvent(ctx, e))
	}
	require.ErrorIs(t, s.AppendEvent(ctx, &models.UpdateEvent{UpdateID: "missing", EventType: models.EventApply}), ErrUpdateNotFound)

	m, err := s.RefreshDailyMetric(ctx, u.ID, models.PlatformIOS, "2.1.0", day)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04", m.Date)
	assert.EqualValues(t, 2, m.Downloads)
	assert.EqualValues(t, 1, m.SuccessCount)
	assert.EqualValues(t, 3, m.FailureCount)
	assert.EqualValues(t, 1, m.RollbackCount)
	assert.InDelta(t, 200, m.AvgDownloadMS, 0.001)
	assert.InDelta(t, 50, m.AvgApplyMS, 0.001)

	_, err = s.RefreshDailyMetric(ctx, u.ID, models.PlatformIOS, "2.1.0", day)
	require.NoError(t, err)
	metrics, err := s.ListMetrics(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1, "refresh is an idempotent upsert")

	persisted, err := s.GetUpdate(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, persisted.DownloadCount)
	assert.EqualValues(t, 3, persisted.ErrorCount)

	top, err := s.TopErrors(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.ErrorFrequency{{Message: "hash mismatch", Count: 2}, {Message: "disk full", Count: 1}}, top)
}
