package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	foundationerrors "git.home.luguber.info/inful/shipwright/internal/foundation/errors"
	"git.home.luguber.info/inful/shipwright/internal/models"
	"git.home.luguber.info/inful/shipwright/internal/ota"
)

// ReleaseService is the channel and OTA update surface served by the API.
type ReleaseService interface {
	CreateChannel(ctx context.Context, req ota.CreateChannelRequest) (*models.Channel, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	ListChannels(ctx context.Context, projectID string) ([]*models.Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	SetDefaultChannel(ctx context.Context, projectID, channelID string) error
	PublishUpdate(ctx context.Context, req ota.PublishRequest) (*models.OTAUpdate, error)
	GetUpdate(ctx context.Context, id string) (*models.OTAUpdate, error)
	ListUpdates(ctx context.Context, channelID string) ([]*models.OTAUpdate, error)
	SetRolloutPercent(ctx context.Context, updateID string, percent int) (*models.OTAUpdate, error)
	RollbackUpdate(ctx context.Context, updateID, targetID string) (source, target *models.OTAUpdate, err error)
	TrackEvent(ctx context.Context, req ota.TrackEventRequest) (*models.UpdateEvent, error)
	GetUpdateMetrics(ctx context.Context, updateID string) ([]*models.UpdateMetric, error)
	GetUpdateStatus(ctx context.Context, updateID string) (*ota.UpdateStatus, error)
	SelectForDevice(ctx context.Context, channelID, deviceID string, platform models.Platform) (*models.OTAUpdate, error)
}

// RolloutRequest changes an update's rollout percentage.
type RolloutRequest struct {
	Percent int `json:"rolloutPercent"`
}

// RollbackRequest names an explicit rollback target; empty means the previous version.
type RollbackRequest struct {
	TargetUpdateID string `json:"targetUpdateId,omitempty"`
}

// RollbackResponse reports both records touched by a rollback.
type RollbackResponse struct {
	RolledBack  *models.OTAUpdate `json:"rolledBack"`
	Reactivated *models.OTAUpdate `json:"reactivated"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req ota.CreateChannelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.deps.Releases.CreateChannel(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusCreated, c)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		s.fail(w, r, foundationerrors.ValidationError("projectId query parameter is required").
			WithContext("field", "projectId").Build())
		return
	}
	channels, err := s.deps.Releases.ListChannels(r.Context(), projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	s.success(w, http.StatusOK, channels)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Releases.GetChannel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Releases.DeleteChannel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDefaultChannel(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Releases.GetChannel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Releases.SetDefaultChannel(r.Context(), c.ProjectID, c.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	c.IsDefault = true
	s.success(w, http.StatusOK, c)
}

func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := s.deps.Releases.ListUpdates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if updates == nil {
		updates = []*models.OTAUpdate{}
	}
	s.success(w, http.StatusOK, updates)
}

func (s *Server) handleSelectUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u, err := s.deps.Releases.SelectForDevice(r.Context(), chi.URLParam(r, "id"),
		q.Get("deviceId"), models.Platform(q.Get("platform")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, u)
}

func (s *Server) handlePublishUpdate(w http.ResponseWriter, r *http.Request) {
	var req ota.PublishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.deps.Releases.PublishUpdate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusCreated, u)
}

func (s *Server) handleGetUpdate(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Releases.GetUpdate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, u)
}

func (s *Server) handleSetRollout(w http.ResponseWriter, r *http.Request) {
	var req RolloutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.deps.Releases.SetRolloutPercent(r.Context(), chi.URLParam(r, "id"), req.Percent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, u)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	source, target, err := s.deps.Releases.RollbackUpdate(r.Context(), chi.URLParam(r, "id"), req.TargetUpdateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, RollbackResponse{RolledBack: source, Reactivated: target})
}

func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var req ota.TrackEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.UpdateID = chi.URLParam(r, "id")
	e, err := s.deps.Releases.TrackEvent(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Releases.GetUpdateMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []*models.UpdateMetric{}
	}
	s.success(w, http.StatusOK, rows)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Releases.GetUpdateStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.success(w, http.StatusOK, st)
}
