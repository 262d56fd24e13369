package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildTransitions(t *testing.T) {
	allowed := [][2]BuildStatus{
		{BuildQueued, BuildBuilding},
		{BuildQueued, BuildFailed},
		{BuildQueued, BuildCancelled},
		{BuildBuilding, BuildSuccess},
		{BuildBuilding, BuildFailed},
		{BuildBuilding, BuildCancelled},
	}
	all := []BuildStatus{BuildQueued, BuildBuilding, BuildSuccess, BuildFailed, BuildCancelled}

	isAllowed := func(from, to BuildStatus) bool {
		for _, pair := range allowed {
			if pair[0] == from && pair[1] == to {
				return true
			}
		}
		return false
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, isAllowed(from, to), CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	for _, s := range all {
		if s.Terminal() {
			for _, to := range all {
				assert.False(t, CanTransition(s, to), "terminal %s must be sticky", s)
			}
		}
	}
}

func TestProfilePriority(t *testing.T) {
	assert.Greater(t, ProfileProduction.Priority(), ProfilePreview.Priority())
	assert.Greater(t, ProfilePreview.Priority(), ProfileDevelopment.Priority())
}

func TestUpdateAppliesTo(t *testing.T) {
	all := &OTAUpdate{Platform: PlatformAll}
	ios := &OTAUpdate{Platform: PlatformIOS}
	assert.True(t, all.AppliesTo(PlatformAndroid))
	assert.True(t, ios.AppliesTo(PlatformIOS))
	assert.False(t, ios.AppliesTo(PlatformAndroid))
	assert.False(t, PlatformAll.Valid())
	assert.True(t, PlatformAll.ValidForUpdate())
}
