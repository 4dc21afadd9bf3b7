package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core/user"
)

func roleMiddleware(allowed func(user.User) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if allowed(usr) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func directorMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.User.IsDirector)
}

// staffMiddleware lets teachers and directors through.
func staffMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(func(u user.User) bool { return u.IsDirector() || u.IsTeacher() })
}
