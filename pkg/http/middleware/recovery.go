package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns handler panics into a 500 response and logs the stack.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}
					l.Error("http handler panic",
						applogger.Error(err),
						applogger.String("route", c.Path()),
						applogger.String("stack", string(debug.Stack())))
					_ = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":  http.StatusInternalServerError,
						"message": "Internal Server Error",
					})
				}
			}()
			return next(c)
		}
	}
}
