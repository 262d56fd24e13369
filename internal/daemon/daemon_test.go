package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shipwright/internal/config"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/provider"
	"git.home.luguber.info/inful/shipwright/internal/testprovider"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = ":memory:"
	cfg.Storage.BasePath = filepath.Join(t.TempDir(), "artifacts")
	cfg.Storage.SigningKey = "test-key"
	cfg.Validation.Bypass = true
	cfg.Metrics.Enabled = true
	cfg.Poller.MinInterval = 5 * time.Millisecond
	cfg.Poller.MaxInterval = 10 * time.Millisecond
	cfg.Poller.MaxDuration = time.Minute
	cfg.Queue.RatePerMinute = 6000
	config.ApplyDefaults(cfg)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

type running struct {
	daemon *Daemon
	fake   *testprovider.Fake
	base   string
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	fake := testprovider.NewFake()
	d, err := New(cfg, Options{Provider: fake})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.RunListener(ctx, l) }()

	r := &running{daemon: d, fake: fake, base: "http://" + l.Addr().String(), cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 2*time.Second, 5*time.Millisecond)
	return r
}

func (r *running) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.base+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode
}

func TestDaemonServesHealthAndMetrics(t *testing.T) {
	r := start(t, testConfig(t))

	assert.Equal(t, http.StatusOK, r.call(t, http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusOK, r.call(t, http.MethodGet, "/metrics", nil, nil))
}

func TestDaemonBuildReachesSuccessThroughPoller(t *testing.T) {
	r := start(t, testConfig(t))

	var project models.Project
	require.Equal(t, http.StatusCreated, r.call(t, http.MethodPost, "/v1/projects",
		map[string]string{"name": "Demo App", "path": t.TempDir()}, &project))

	var build models.Build
	require.Equal(t, http.StatusAccepted, r.call(t, http.MethodPost, "/v1/builds",
		map[string]string{"projectId": project.ID, "platform": "android", "profile": "preview"}, &build))
	assert.Equal(t, models.BuildQueued, build.Status)

	var current models.Build
	require.Eventually(t, func() bool {
		r.call(t, http.MethodGet, "/v1/builds/"+build.ID, nil, &current)
		return current.ExternalBuildID != ""
	}, 5*time.Second, 10*time.Millisecond)

	r.fake.SetBuildStatus(current.ExternalBuildID, provider.StatusFinished, "", "")
	require.Eventually(t, func() bool {
		r.call(t, http.MethodGet, "/v1/builds/"+build.ID, nil, &current)
		return current.Status == models.BuildSuccess
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemonStopIsFinal(t *testing.T) {
	r := start(t, testConfig(t))

	r.cancel()
	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, StatusStopped, r.daemon.GetStatus())
	require.Error(t, r.daemon.Start(context.Background()))
	require.NoError(t, r.daemon.Stop(context.Background()))
	r.done <- nil
}

func TestReloadConfigAppliesRuntimeSettings(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, Options{Provider: testprovider.NewFake()})
	require.NoError(t, err)
	t.Cleanup(func() { d.closeStore() })

	require.True(t, d.Runtime().ValidationBypass())

	next := *cfg
	next.Validation.Bypass = false
	next.Validation.Tier = config.TierFast
	d.ReloadConfig(&next)

	assert.False(t, d.Runtime().ValidationBypass())
	assert.Equal(t, config.TierFast, d.Runtime().ValidationTier())
}
