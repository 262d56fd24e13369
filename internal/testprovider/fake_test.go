package testprovider

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/retry"
)

func TestFakeLifecycle(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	projectID, err := f.CreateProject(ctx, provider.CreateProjectRequest{Name: "app"})
	require.NoError(t, err)

	info, err := f.TriggerBuild(ctx, provider.TriggerBuildRequest{ProviderProjectID: projectID})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusInQueue, info.Status)

	f.SetBuildStatus(info.ID, provider.StatusFinished, "https://cdn/a.ipa", "")
	f.AddArtifact("https://cdn/a.ipa", []byte("ipa"))
	got, err := f.GetBuildStatus(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusFinished, got.Status)

	rc, err := f.DownloadArtifact(ctx, got.ArtifactURL)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "ipa", string(data))

	assert.Equal(t, 1, f.Calls("TriggerBuild"))
}

func TestFakeFailModes(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	f.SetFailMode("*", FailModeUnavailable)
	_, err := f.CreateProject(ctx, provider.CreateProjectRequest{})
	require.Error(t, err)
	assert.True(t, retry.DefaultRetryable(err))

	f.SetFailMode("CreateProject", FailModeNone)
	_, err = f.CreateProject(ctx, provider.CreateProjectRequest{})
	require.NoError(t, err)

	f.SetFailMode("GetBuildStatus", FailModeNotFound)
	_, err = f.GetBuildStatus(ctx, "x")
	require.Error(t, err)
	assert.False(t, retry.DefaultRetryable(err))
}
