package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/learnplus/learnplus/core"
)

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if caller := getContextCaller(ctx); !caller.IsAuthenticated() {
				return core.ErrUnauthenticated
			} else if !caller.IsAdmin() {
				return core.ErrPermissionDenied
			}
			return next(ctx)
		}
	}
}

// instructorMiddleware only lets through callers who may author courses.
func instructorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if caller := getContextCaller(ctx); !caller.IsAuthenticated() {
				return core.ErrUnauthenticated
			} else if !caller.CanTeach() {
				return core.ErrPermissionDenied
			}
			return next(ctx)
		}
	}
}
