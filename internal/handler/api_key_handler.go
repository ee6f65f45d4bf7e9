package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/haatos/runbatch/internal/simulator"
	"github.com/labstack/echo/v4"
)

func SetupAPIKeyRoutes(g *echo.Group, apiKeyService simulator.APIKeyServicer) {
	h := NewAPIKeyHandler(apiKeyService)
	apiKeysGroup := g.Group("/keys")
	apiKeysGroup.GET("", h.GetAPIKeys)
	apiKeysGroup.POST("", h.PostAPIKey)
	apiKeysGroup.DELETE("/:id", h.DeleteAPIKey)
}

type APIKeyHandler struct {
	apiKeyService simulator.APIKeyServicer
}

func NewAPIKeyHandler(apiKeyService simulator.APIKeyServicer) *APIKeyHandler {
	return &APIKeyHandler{apiKeyService}
}

func (h *APIKeyHandler) GetAPIKeys(c echo.Context) error {
	apiKeys, err := h.apiKeyService.ListAPIKeys(c.Request().Context())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newError(err,
			http.StatusInternalServerError,
			"something went wrong while listing api keys",
		)
	}
	return c.JSON(http.StatusOK, apiKeys)
}

func (h *APIKeyHandler) PostAPIKey(c echo.Context) error {
	ak, err := h.apiKeyService.CreateAPIKey(c.Request().Context())
	if err != nil {
		if isUniqueConstraintError(err) {
			return newError(err, http.StatusConflict, "api key already exists")
		}
		return newError(err, http.StatusInternalServerError, "unable to create api key")
	}
	return c.JSON(http.StatusCreated, ak)
}

// DeleteAPIKey removes a key. The key authorizing the request cannot remove
// itself.
func (h *APIKeyHandler) DeleteAPIKey(c echo.Context) error {
	akp := new(APIKeyParams)
	if err := c.Bind(akp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid api key data")
	}
	if current := getCtxAPIKey(c); current != nil && current.ID == akp.ID {
		return newError(nil, http.StatusConflict, "cannot delete the api key in use")
	}

	if err := h.apiKeyService.DeleteAPIKey(c.Request().Context(), akp.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "api key not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to delete api key")
	}
	return c.NoContent(http.StatusNoContent)
}
