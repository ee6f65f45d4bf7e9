package handler

import (
	"net/http"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/simulator"
	"github.com/labstack/echo/v4"
)

func SetupRunRoutes(g *echo.Group, sim simulator.SimulatorServicer) {
	h := NewRunHandler(sim)
	runs := g.Group("/runs")
	runs.GET("/:run_id", h.GetRun)
	runs.GET("/:run_id/result", h.GetRunResult)
	runs.GET("/:run_id/events", h.GetRunEvents)
	runs.GET("/:run_id/events/stream", h.GetRunEventStream)
	runs.GET("/:run_id/events/ws", h.GetRunEventSocket)
	runs.POST("/:run_id/retry", h.PostRetryTest)
	runs.POST("/:run_id/cancel", h.PostCancelRun)
}

type RunHandler struct {
	sim simulator.SimulatorServicer
}

func NewRunHandler(sim simulator.SimulatorServicer) *RunHandler {
	return &RunHandler{sim}
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}

	r, err := h.sim.GetRun(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err, "run not found", "unable to read run")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *RunHandler) GetRunResult(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}

	res, err := h.sim.GetRunResult(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err, "run not found", "unable to read run result")
	}
	return c.JSON(http.StatusOK, res)
}

// GetRunEvents returns the persisted events of a run with a sequence number
// above since.
func (h *RunHandler) GetRunEvents(c echo.Context) error {
	rep := new(RunEventsParams)
	if err := c.Bind(rep); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id or since")
	}

	res, err := h.sim.ListRunEvents(c.Request().Context(), rep.RunID, rep.Since)
	if err != nil {
		return serviceError(err, "run not found", "unable to list run events")
	}
	envs := make([]events.Envelope, 0, len(res))
	for _, re := range res {
		envs = append(envs, events.EnvelopeOf(re))
	}
	return c.JSON(http.StatusOK, envs)
}

func (h *RunHandler) PostRetryTest(c echo.Context) error {
	rp := new(RetryParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid retry data")
	}
	if rp.TestName == "" {
		return newError(nil, http.StatusUnprocessableEntity, "test_name is required")
	}

	if err := h.sim.RetryTest(c.Request().Context(), rp.RunID, rp.TestName); err != nil {
		return serviceError(err, "run not found", "unable to retry test")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RunHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}

	if err := h.sim.CancelRun(c.Request().Context(), rp.RunID); err != nil {
		return serviceError(err, "run not found", "unable to cancel run")
	}
	return c.NoContent(http.StatusAccepted)
}
