package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/service"
)

// ReservationHandler lets a USER park and leave.
type ReservationHandler struct {
	Svc *service.AllocationService
}

func NewReservationHandler(svc *service.AllocationService) *ReservationHandler {
	return &ReservationHandler{Svc: svc}
}

type reserveReq struct {
	LotID uint64 `json:"lot_id" validate:"required,min=1"`
}

// Reserve claims the first free spot of the requested lot.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req reserveReq
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.Svc.Reserve(c.Request().Context(), uid, req.LotID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// Release ends the caller's reservation and returns the charge.
func (h *ReservationHandler) Release(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	receipt, err := h.Svc.Release(c.Request().Context(), uid, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, receipt)
}

// List returns the caller's history, newest first.
func (h *ReservationHandler) List(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	out, err := h.Svc.ListUserReservations(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ReservationHandler) Active(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	res, err := h.Svc.ActiveReservation(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
