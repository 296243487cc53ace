package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/scheduler"
	"github.com/iliyamo/parking-reservation/internal/service"
)

// Ticker runs one scheduler fan-out on demand.
type Ticker interface {
	Tick(ctx context.Context) scheduler.Outcome
}

// AdminHandler manages lots and reports.  Routes are mounted behind
// RequireRole(ADMIN).
type AdminHandler struct {
	Svc       *service.AllocationService
	Runner    *jobs.Runner
	Users     *repository.UserRepo
	Scheduler Ticker
}

func NewAdminHandler(svc *service.AllocationService, runner *jobs.Runner, users *repository.UserRepo, sched Ticker) *AdminHandler {
	return &AdminHandler{Svc: svc, Runner: runner, Users: users, Scheduler: sched}
}

type lotReq struct {
	Name       string          `json:"name" validate:"required,max=255"`
	Address    string          `json:"address" validate:"max=512"`
	PostalCode string          `json:"postal_code" validate:"max=32"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Capacity   *int            `json:"capacity" validate:"required,min=0,max=10000"`
}

func (r lotReq) input() service.LotInput {
	return service.LotInput{
		Name:       r.Name,
		Address:    r.Address,
		PostalCode: r.PostalCode,
		HourlyRate: r.HourlyRate,
		Capacity:   *r.Capacity,
	}
}

type capacityReq struct {
	Capacity *int `json:"capacity" validate:"required,max=10000"`
}

type reportReq struct {
	Email string `json:"email" validate:"omitempty,email"`
}

func (h *AdminHandler) CreateLot(c echo.Context) error {
	var req lotReq
	if err := bind(c, &req); err != nil {
		return err
	}
	lot, err := h.Svc.CreateLot(c.Request().Context(), req.input())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, lot)
}

func (h *AdminHandler) UpdateLot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req lotReq
	if err := bind(c, &req); err != nil {
		return err
	}
	lot, err := h.Svc.UpdateLot(c.Request().Context(), id, req.input())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lot)
}

// SetCapacity resizes the lot.  A negative capacity reaches the engine and
// is rejected there.
func (h *AdminHandler) SetCapacity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req capacityReq
	if err := bind(c, &req); err != nil {
		return err
	}
	lot, err := h.Svc.SetCapacity(c.Request().Context(), id, *req.Capacity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lot)
}

func (h *AdminHandler) DeleteLot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Svc.RemoveLot(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RequestReport queues a full report mailed to the given address, or to
// the calling admin when none is given.
func (h *AdminHandler) RequestReport(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req reportReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	email := req.Email
	if email == "" {
		u, err := h.Users.GetByID(ctx, uid)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.New(apperrors.CodeUnauthorized, "account no longer exists")
		}
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "load user failed")
		}
		email = u.Email
	}
	id, err := h.Runner.Submit(ctx, jobs.ReportRequest(email, uid))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, acceptedResp{JobID: id, Status: model.JobPending})
}

// BroadcastReports runs one scheduler tick now: a report per admin.
func (h *AdminHandler) BroadcastReports(c echo.Context) error {
	if h.Scheduler == nil {
		return apperrors.New(apperrors.CodeDependency, "report scheduler is disabled")
	}
	out := h.Scheduler.Tick(c.Request().Context())
	status := http.StatusAccepted
	if out.Status == scheduler.StatusError {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, out)
}

// ListUsers lists USER accounts with the spot each one occupies now.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	users, err := h.Svc.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

// Search handles GET /admin/search?q=&type=all|lots|users|spots.
func (h *AdminHandler) Search(c echo.Context) error {
	res, err := h.Svc.AdminSearch(c.Request().Context(), c.QueryParam("q"), c.QueryParam("type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) Summary(c echo.Context) error {
	counts, err := h.Svc.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}
