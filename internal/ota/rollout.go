package ota

import (
	"context"
	"hash/fnv"

	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/models"
)

// ErrNoUpdateAvailable means no active update targets the device.
var ErrNoUpdateAvailable = errors.NotFoundError("no update available for device").Build()

// Bucket assigns deviceID a stable slot in [0, 100) for updateID:
// FNV-1a 32-bit over "updateID:deviceID", modulo 100.
func Bucket(deviceID, updateID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(updateID + ":" + deviceID))
	return int(h.Sum32() % 100)
}

// Eligible reports whether deviceID falls inside u's rollout.
func Eligible(u *models.OTAUpdate, deviceID string) bool {
	return Bucket(deviceID, u.ID) < u.RolloutPercent
}

// SelectForDevice returns the highest-version active update of the channel
// that targets platform and whose rollout includes deviceID.
func (m *Manager) SelectForDevice(ctx context.Context, channelID, deviceID string, platform models.Platform) (*models.OTAUpdate, error) {
	if deviceID == "" {
		return nil, invalid("deviceId is required", "deviceId")
	}
	if !platform.Valid() {
		return nil, invalid("platform must be ios or android", "platform")
	}
	updates, err := m.ListUpdates(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if u.Status == models.UpdateActive && u.AppliesTo(platform) && Eligible(u, deviceID) {
			return u, nil
		}
	}
	return nil, ErrNoUpdateAvailable
}
