package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/orchestrator"
	"git.home.luguber.info/inful/shipwright/internal/queue"
)

// BuildService is the build lifecycle surface served by the API.
type BuildService interface {
	TriggerBuild(ctx context.Context, req orchestrator.TriggerRequest) (*models.Build, error)
	GetBuild(ctx context.Context, id string) (*models.Build, error)
	ListBuilds(ctx context.Context, filter models.BuildFilter) ([]*models.Build, int, error)
	CancelBuild(ctx context.Context, id string) (*models.Build, error)
	RegisterProject(ctx context.Context, name, path string) (*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
}

// QueueInspector reports job queue occupancy and retained jobs.
type QueueInspector interface {
	Stats() queue.Stats
	Jobs(state queue.State) []*queue.Job
}

// BuildView is a build with a short-lived download link for its artifact.
type BuildView struct {
	*models.Build
	ArtifactURL string `json:"artifactUrl,omitempty"`
	LogsURL     string `json:"logsUrl,omitempty"`
}

// BuildList is a page of builds.
type BuildList struct {
	Builds []BuildView `json:"builds"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ProjectRequest registers a project.
type ProjectRequest struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func (s *Server) view(b *models.Build) BuildView {
	v := BuildView{Build: b}
	if s.deps.Signer == nil {
		return v
	}
	if b.ArtifactRef != "" {
		v.ArtifactURL = s.deps.Signer.Sign(b.ArtifactRef, s.deps.SignedURLTTL)
	}
	if b.LogsRef != "" {
		v.LogsURL = s.deps.Signer.Sign(b.LogsRef, s.deps.SignedURLTTL)
	}
	return v
}

func (s *Server) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Builds.RegisterProject(r.Context(), req.Name, req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Builds.ListProjects(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	s.success(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Builds.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, p)
}

func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.deps.Builds.TriggerBuild(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusAccepted, s.view(b))
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.BuildFilter{
		ProjectID: q.Get("projectId"),
		Platform:  models.Platform(q.Get("platform")),
		Status:    models.BuildStatus(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	}
	builds, total, err := s.deps.Builds.ListBuilds(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := BuildList{Builds: make([]BuildView, 0, len(builds)), Total: total, Limit: limit, Offset: offset}
	for _, b := range builds {
		out.Builds = append(out.Builds, s.view(b))
	}
	s.success(w, http.StatusOK, out)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Builds.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, s.view(b))
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Builds.CancelBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, s.view(b))
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	s.success(w, http.StatusOK, s.deps.Queue.Stats())
}

func (s *Server) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	state := queue.State(r.URL.Query().Get("state"))
	switch state {
	case "", queue.StateWaiting, queue.StateDelayed, queue.StateActive, queue.StateCompleted, queue.StateFailed:
	default:
		s.fail(w, r, foundationerrors.ValidationError("unknown job state").WithContext("field", "state").Build())
		return
	}
	s.success(w, http.StatusOK, s.deps.Queue.Jobs(state))
}

func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Builds.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		s.fail(w, r, foundationerrors.InternalError("streaming unsupported").Build())
		return
	}
	s.deps.Events.Stream(w, r, b)
}
