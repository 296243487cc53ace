package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/service"
)

// LotHandler serves lot and spot availability to any signed-in role.
type LotHandler struct {
	Svc *service.AllocationService
}

func NewLotHandler(svc *service.AllocationService) *LotHandler {
	return &LotHandler{Svc: svc}
}

// List returns every lot with its free/occupied counts.  q filters by name,
// address or postal code; available=true keeps lots with a free spot.
func (h *LotHandler) List(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	onlyAvailable := false
	if raw := c.QueryParam("available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.New(apperrors.CodeValidation, "available must be true or false")
		}
		onlyAvailable = v
	}

	ctx := c.Request().Context()
	if q == "" && !onlyAvailable {
		lots, err := h.Svc.ListLots(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, lots)
	}
	lots, err := h.Svc.SearchLots(ctx, q, onlyAvailable)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lots)
}

func (h *LotHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	lot, err := h.Svc.GetLot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lot)
}

// Spots lists the lot's spots ordered by number.
func (h *LotHandler) Spots(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	spots, err := h.Svc.ListSpots(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, spots)
}
