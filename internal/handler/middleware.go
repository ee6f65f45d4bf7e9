package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/simulator"
	"github.com/labstack/echo/v4"
)

// APIKeyMiddleware rejects requests without a known key in the
// X-Runbatch-Key header.
func APIKeyMiddleware(apiKeyService simulator.APIKeyServicer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(internal.APIKeyHeader)
			if value == "" {
				return newError(nil, http.StatusUnauthorized, "missing api key")
			}
			ak, err := apiKeyService.GetAPIKeyByValue(c.Request().Context(), value)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return newError(nil, http.StatusUnauthorized, "invalid api key")
				}
				return newError(err, http.StatusInternalServerError, "unable to verify api key")
			}
			c.Set(ctxAPIKey, ak)
			return next(c)
		}
	}
}
