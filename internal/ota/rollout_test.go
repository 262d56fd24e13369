package ota

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/models"
)

func TestBucketIsStableAndBounded(t *testing.T) {
	counts := make([]int, 10)
	for i := 0; i < 2000; i++ {
		device := fmt.Sprintf("device-%d", i)
		b := Bucket(device, "upd-1")
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 100)
		assert.Equal(t, b, Bucket(device, "upd-1"))
		counts[b/10]++
	}
	for decile, n := range counts {
		assert.Greater(t, n, 100, "decile %d underpopulated", decile)
	}
}

func TestEligibleRespectsPercent(t *testing.T) {
	u := &models.OTAUpdate{ID: "upd-1", RolloutPercent: 0}
	assert.False(t, Eligible(u, "device-1"))
	u.RolloutPercent = 100
	assert.True(t, Eligible(u, "device-1"))

	u.RolloutPercent = 30
	eligible := 0
	for i := 0; i < 1000; i++ {
		if Eligible(u, fmt.Sprintf("device-%d", i)) {
			eligible++
		}
	}
	assert.InDelta(t, 300, eligible, 60)
}

func TestSelectForDevice(t *testing.T) {
	f := newFixture(t, config.OTAConfig{})
	c := f.channel(t, "1.0.0")
	ctx := context.Background()

	stable := f.publish(t, c.ID, 100)
	canary := f.publish(t, c.ID, 25)

	var inCanary, outOfCanary string
	for i := 0; i < 1000 && (inCanary == "" || outOfCanary == ""); i++ {
		d := fmt.Sprintf("device-%d", i)
		if Eligible(canary, d) {
			inCanary = d
		} else {
			outOfCanary = d
		}
	}

	got, err := f.mgr.SelectForDevice(ctx, c.ID, inCanary, models.PlatformIOS)
	require.NoError(t, err)
	assert.Equal(t, canary.ID, got.ID)

	got, err = f.mgr.SelectForDevice(ctx, c.ID, outOfCanary, models.PlatformAndroid)
	require.NoError(t, err)
	assert.Equal(t, stable.ID, got.ID)

	_, err = f.mgr.SelectForDevice(ctx, c.ID, "", models.PlatformIOS)
	assert.Error(t, err)

	empty, err := f.mgr.CreateChannel(ctx, CreateChannelRequest{ProjectID: f.project.ID, Name: "beta"})
	require.NoError(t, err)
	_, err = f.mgr.SelectForDevice(ctx, empty.ID, "device-1", models.PlatformIOS)
	assert.ErrorIs(t, err, ErrNoUpdateAvailable)
}
