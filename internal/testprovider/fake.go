// Package testprovider provides an in-memory build provider for tests.
package testprovider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/provider"
)

// FailMode defines how the fake provider should behave.
type FailMode int

const (
	FailModeNone FailMode = iota
	FailModeUnavailable
	FailModeRateLimit
	FailModeNotFound
)

// Fake implements provider.Client in memory.
type Fake struct {
	mu        sync.Mutex
	builds    map[string]*provider.BuildInfo
	projects  map[string]provider.CreateProjectRequest
	branches  map[string]string
	updates   []provider.PublishUpdateRequest
	artifacts map[string][]byte
	calls     map[string]int
	failModes map[string]FailMode
	nextID    int

	// OnTrigger, when set, runs inside TriggerBuild before the build is recorded.
	OnTrigger func(req provider.TriggerBuildRequest)
	// OnCreateProject, when set, runs inside CreateProject before the id is returned.
	OnCreateProject func(req provider.CreateProjectRequest)
}

var _ provider.Client = (*Fake)(nil)

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		builds:    make(map[string]*provider.BuildInfo),
		projects:  make(map[string]provider.CreateProjectRequest),
		branches:  make(map[string]string),
		artifacts: make(map[string][]byte),
		calls:     make(map[string]int),
		failModes: make(map[string]FailMode),
	}
}

// SetFailMode makes operation op fail; op "*" applies to every operation.
func (f *Fake) SetFailMode(op string, mode FailMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failModes[op] = mode
}

// SetBuildStatus changes what GetBuildStatus reports for a build.
func (f *Fake) SetBuildStatus(externalID string, status provider.Status, artifactURL, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.builds[externalID]
	if !ok {
		b = &provider.BuildInfo{ID: externalID}
		f.builds[externalID] = b
	}
	b.Status = status
	b.ArtifactURL = artifactURL
	b.Error = errMsg
}

// AddArtifact registers content served by DownloadArtifact for url.
func (f *Fake) AddArtifact(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[url] = data
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Published returns the update publish requests received so far.
func (f *Fake) Published() []provider.PublishUpdateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.PublishUpdateRequest(nil), f.updates...)
}

// HasBranch reports whether EnsureBranch was called for the branch.
func (f *Fake) HasBranch(providerProjectID, branch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[providerProjectID+"/"+branch]
	return ok
}

// BranchRuntimeVersion returns the runtime version the branch was created with.
func (f *Fake) BranchRuntimeVersion(providerProjectID, branch string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[providerProjectID+"/"+branch]
}

// enter records a call and returns the configured failure, if any. Caller holds f.mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	mode, ok := f.failModes[op]
	if !ok {
		mode = f.failModes["*"]
	}
	switch mode {
	case FailModeUnavailable:
		return errors.ProviderError("provider API error: 503 Service Unavailable").
			WithCause(&provider.HTTPError{Code: http.StatusServiceUnavailable}).Build()
	case FailModeRateLimit:
		return errors.ProviderError("provider rate limit exceeded").
			WithCause(&provider.HTTPError{Code: http.StatusTooManyRequests}).Build()
	case FailModeNotFound:
		return errors.NotFoundError("provider resource not found").
			WithCause(&provider.HTTPError{Code: http.StatusNotFound}).Build()
	}
	return nil
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) CreateProject(ctx context.Context, req provider.CreateProjectRequest) (string, error) {
	f.mu.Lock()
	if err := f.enter("CreateProject"); err != nil {
		f.mu.Unlock()
		return "", err
	}
	hook := f.OnCreateProject
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("prov")
	f.projects[id] = req
	return id, nil
}

func (f *Fake) TriggerBuild(ctx context.Context, req provider.TriggerBuildRequest) (*provider.BuildInfo, error) {
	f.mu.Lock()
	if err := f.enter("TriggerBuild"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	hook := f.OnTrigger
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b := &provider.BuildInfo{ID: f.id("ext"), Status: provider.StatusInQueue}
	f.builds[b.ID] = b
	out := *b
	return &out, nil
}

func (f *Fake) GetBuildStatus(ctx context.Context, externalBuildID string) (*provider.BuildInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetBuildStatus"); err != nil {
		return nil, err
	}
	b, ok := f.builds[externalBuildID]
	if !ok {
		return nil, errors.NotFoundError("provider resource not found").
			WithCause(&provider.HTTPError{Code: http.StatusNotFound}).Build()
	}
	out := *b
	return &out, nil
}

func (f *Fake) CancelBuild(ctx context.Context, externalBuildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CancelBuild"); err != nil {
		return err
	}
	if b, ok := f.builds[externalBuildID]; ok {
		b.Status = provider.StatusCanceled
	}
	return nil
}

func (f *Fake) DownloadArtifact(ctx context.Context, artifactURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DownloadArtifact"); err != nil {
		return nil, err
	}
	data, ok := f.artifacts[artifactURL]
	if !ok {
		return nil, errors.NotFoundError("provider resource not found").
			WithCause(&provider.HTTPError{Code: http.StatusNotFound}).Build()
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fake) EnsureBranch(ctx context.Context, providerProjectID, branch, runtimeVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("EnsureBranch"); err != nil {
		return err
	}
	key := providerProjectID + "/" + branch
	if _, ok := f.branches[key]; !ok {
		f.branches[key] = runtimeVersion
	}
	return nil
}

func (f *Fake) PublishUpdate(ctx context.Context, req provider.PublishUpdateRequest) (*provider.PublishedUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PublishUpdate"); err != nil {
		return nil, err
	}
	f.updates = append(f.updates, req)
	id := f.id("upd")
	return &provider.PublishedUpdate{
		ID:          id,
		GroupID:     "group-" + id,
		ManifestURL: "https://updates.example.com/" + id + "/manifest.json",
	}, nil
}
