package handler

import (
	"github.com/haatos/runbatch/internal/store"
	"github.com/labstack/echo/v4"
)

const ctxAPIKey = "api_key"

func getCtxAPIKey(c echo.Context) *store.APIKey {
	if ak, ok := c.Get(ctxAPIKey).(*store.APIKey); ok {
		return ak
	}
	return nil
}
