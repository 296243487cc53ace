package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// JobHandler submits exports and reports job status.
type JobHandler struct {
	Runner    *jobs.Runner
	Artifacts jobs.ArtifactStore
}

func NewJobHandler(runner *jobs.Runner, artifacts jobs.ArtifactStore) *JobHandler {
	return &JobHandler{Runner: runner, Artifacts: artifacts}
}

type acceptedResp struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// RequestExport queues an export of the caller's history and returns at
// once.
func (h *JobHandler) RequestExport(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := h.Runner.Submit(c.Request().Context(), jobs.ExportRequest(uid))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, acceptedResp{JobID: id, Status: model.JobPending})
}

// DownloadExport serves the caller's latest export CSV.
func (h *JobHandler) DownloadExport(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	data, err := h.Artifacts.Load(c.Request().Context(), jobs.ExportKey(uid))
	if errors.Is(err, jobs.ErrArtifactNotFound) {
		return apperrors.New(apperrors.CodeNotFound, "no export has been generated yet")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "load export failed")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="user_%d.csv"`, uid))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}

// Status returns a job to the user who requested it or to an admin.
// Anyone else gets NOT_FOUND.
func (h *JobHandler) Status(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	job, err := h.Runner.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if job.RequestedBy != uid && middleware.Role(c) != model.RoleAdmin {
		return apperrors.New(apperrors.CodeNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}
