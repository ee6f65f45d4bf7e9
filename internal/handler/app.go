package handler

import (
	"net/http"

	"github.com/haatos/runbatch/internal"
	"github.com/labstack/echo/v4"
)

func SetupConfigRoutes(g *echo.Group, path string) {
	h := &ConfigHandler{path: path}
	g.GET("/config", h.GetConfig)
	g.PUT("/config", h.PutConfig)
}

// ConfigHandler exposes the configuration file. Updates take effect for
// components created after the update.
type ConfigHandler struct {
	path string
}

func (h *ConfigHandler) GetConfig(c echo.Context) error {
	if internal.Config == nil {
		return c.JSON(http.StatusOK, internal.DefaultConfiguration())
	}
	return c.JSON(http.StatusOK, internal.Config)
}

func (h *ConfigHandler) PutConfig(c echo.Context) error {
	config := internal.DefaultConfiguration()
	if internal.Config != nil {
		*config = *internal.Config
	}
	if err := c.Bind(config); err != nil {
		return newError(err, http.StatusBadRequest, "invalid config data")
	}
	if config.EventLogCapacity <= 0 ||
		config.HistoryLimit <= 0 ||
		config.DefaultConcurrency <= 0 ||
		config.QueueSize <= 0 ||
		config.TimeScale < 0 {
		return newError(nil, http.StatusUnprocessableEntity, "config values must be positive")
	}

	if err := internal.UpdateConfiguration(h.path, config); err != nil {
		return newError(
			err,
			http.StatusInternalServerError,
			"unable to update configuration file",
		)
	}
	return c.JSON(http.StatusOK, config)
}
