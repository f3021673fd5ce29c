package http

import (
	"time"

	xutil "FinCast/pkg/util"

	"github.com/labstack/echo/v4"
)

// QueryTime reads a time query parameter; ok is false when absent or malformed.
func QueryTime(c echo.Context, name string) (time.Time, bool) {
	return xutil.ParseTime(c.QueryParam(name))
}
