package batch

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sahlhealth/nphies-bridge/pkg/pagination"
)

// Handler exposes runs and records as a read-only API for the reporting
// layer. Mutation happens only through the pipeline.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/batch/runs", h.ListRuns)
	api.GET("/batch/runs/:id", h.GetRun)
	api.GET("/batch/runs/:id/records", h.ListRecords)
}

func (h *Handler) ListRuns(c echo.Context) error {
	runs, err := h.repo.ListRuns(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []*Run{}
	}
	p := pagination.FromContext(c)
	start, end := p.Slice(len(runs))
	return c.JSON(http.StatusOK, pagination.NewResponse(runs[start:end], len(runs), p.Limit, p.Offset))
}

func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.repo.GetRun(c.Request().Context(), c.Param("id"))
	if err == ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListRecords(c echo.Context) error {
	if _, err := h.repo.GetRun(c.Request().Context(), c.Param("id")); err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	records, err := h.repo.ListRecords(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []*Record{}
	}
	p := pagination.FromContext(c)
	start, end := p.Slice(len(records))
	return c.JSON(http.StatusOK, pagination.NewResponse(records[start:end], len(records), p.Limit, p.Offset))
}
