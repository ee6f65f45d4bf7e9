package handler

import (
	"net/http"

	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/simulator"
	"github.com/haatos/runbatch/internal/store"
	"github.com/labstack/echo/v4"
)

func SetupBatchRoutes(g *echo.Group, sim simulator.SimulatorServicer) {
	h := NewBatchHandler(sim)
	batches := g.Group("/batches")
	batches.POST("", h.PostBatch)
	batches.GET("", h.GetBatches)
	batches.GET("/:batch_id", h.GetBatch)
	batches.PATCH("/:batch_id", h.PatchBatch)
	batches.DELETE("/:batch_id", h.DeleteBatch)
}

type BatchHandler struct {
	sim simulator.SimulatorServicer
}

func NewBatchHandler(sim simulator.SimulatorServicer) *BatchHandler {
	return &BatchHandler{sim}
}

func (h *BatchHandler) PostBatch(c echo.Context) error {
	br := new(store.BatchRequest)
	if err := c.Bind(br); err != nil {
		return newError(err, http.StatusBadRequest, "invalid batch data")
	}
	if br.Mode != "" && !br.Mode.IsValid() {
		return newError(nil, http.StatusUnprocessableEntity, "invalid mode")
	}

	created, err := h.sim.CreateBatch(c.Request().Context(), *br)
	if err != nil {
		return serviceError(err, "batch not found", "unable to create batch")
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *BatchHandler) GetBatches(c echo.Context) error {
	lbp := new(ListBatchesParams)
	if err := c.Bind(lbp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid limit")
	}
	if lbp.Limit <= 0 {
		lbp.Limit = historyLimit()
	}

	batches, err := h.sim.ListBatches(c.Request().Context(), lbp.Limit)
	if err != nil {
		return serviceError(err, "batch not found", "unable to list batches")
	}
	return c.JSON(http.StatusOK, batches)
}

func (h *BatchHandler) GetBatch(c echo.Context) error {
	bp := new(BatchParams)
	if err := c.Bind(bp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid batch id")
	}

	br, err := h.sim.GetBatch(c.Request().Context(), bp.BatchID)
	if err != nil {
		return serviceError(err, "batch not found", "unable to read batch")
	}
	return c.JSON(http.StatusOK, br)
}

func (h *BatchHandler) PatchBatch(c echo.Context) error {
	rbp := new(RenameBatchParams)
	if err := c.Bind(rbp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid batch data")
	}

	if err := h.sim.RenameBatch(c.Request().Context(), rbp.BatchID, rbp.Name); err != nil {
		return serviceError(err, "batch not found", "unable to rename batch")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BatchHandler) DeleteBatch(c echo.Context) error {
	bp := new(BatchParams)
	if err := c.Bind(bp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid batch id")
	}

	if err := h.sim.DeleteBatch(c.Request().Context(), bp.BatchID); err != nil {
		return serviceError(err, "batch not found", "unable to delete batch")
	}
	return c.NoContent(http.StatusNoContent)
}

func historyLimit() int64 {
	if internal.Config != nil && internal.Config.HistoryLimit > 0 {
		return internal.Config.HistoryLimit
	}
	return internal.DefaultConfiguration().HistoryLimit
}
