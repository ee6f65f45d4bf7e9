package handler

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/haatos/runbatch/internal/service"
	"github.com/haatos/runbatch/internal/simulator"
	"github.com/labstack/echo/v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrorHandler renders every error as a JSON body of the form
// {"message": "..."}.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	switch e := err.(type) {
	case *echo.HTTPError:
		if e.Internal != nil || e.Code >= http.StatusInternalServerError {
			c.Logger().Errorf(
				"handler internal error %s [%d]: %+v\n",
				c.Request().URL.Path, e.Code, e.Internal,
			)
		}
		if err := c.JSON(e.Code, echo.HTTPError{Message: e.Message}); err != nil {
			log.Printf("err returning json: %+v\n", err)
		}
	default:
		c.Logger().Errorf("handler error: %+v\n", e)
		if err := c.JSON(
			http.StatusInternalServerError,
			echo.HTTPError{Message: "something went terribly wrong"},
		); err != nil {
			log.Printf("err returning json: %+v\n", err)
		}
	}
}

func isUniqueConstraintError(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}

// serviceError maps an error of the simulator to its HTTP status. notFound
// is the message used when the addressed entity does not exist.
func serviceError(err error, notFound, fallback string) error {
	var unknownTarget *simulator.UnknownTargetError
	var unknownTest *simulator.UnknownTestError
	var queueFull *simulator.ErrRunQueueFull
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return newError(err, http.StatusNotFound, notFound)
	case errors.As(err, &unknownTarget):
		return newError(err, http.StatusUnprocessableEntity, unknownTarget.Error())
	case errors.As(err, &unknownTest):
		return newError(err, http.StatusUnprocessableEntity, unknownTest.Error())
	case errors.Is(err, simulator.ErrNoRuns), errors.Is(err, service.ErrEmptyBatchName):
		return newError(err, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, simulator.ErrRunNotFinished), errors.Is(err, simulator.ErrRunNotActive):
		return newError(err, http.StatusConflict, err.Error())
	case errors.As(err, &queueFull):
		return newError(err, http.StatusServiceUnavailable, "run queue is full")
	case isUniqueConstraintError(err):
		return newError(err, http.StatusConflict, "already exists")
	}
	return newError(err, http.StatusInternalServerError, fallback)
}
