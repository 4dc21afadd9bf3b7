package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
	"github.com/trezcool/masomo-bulletins/core/user"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// statusCodes maps stable error codes to HTTP statuses.
var statusCodes = map[string]int{
	core.CodeValidation:            http.StatusBadRequest,
	core.CodeForbidden:             http.StatusForbidden,
	core.CodeNotFound:              http.StatusNotFound,
	core.CodeNoData:                http.StatusNotFound,
	core.CodeInvalidTransition:     http.StatusConflict,
	core.CodeIncompleteGrades:      http.StatusUnprocessableEntity,
	core.CodeDownstreamUnavailable: http.StatusBadGateway,
	core.CodeInterrupted:           http.StatusServiceUnavailable,
}

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var resp errorResponse

		var httpErr *echo.HTTPError
		var vErr *core.ValidationError
		switch {
		case errors.As(err, &httpErr):
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
			} else {
				if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
					httpErr = herr
				}
				code = httpErr.Code
			}
			resp.Error = httpErrorMessage(httpErr)
			if code == http.StatusForbidden {
				resp.Code = core.CodeForbidden
			}
		case errors.As(err, &vErr):
			code = http.StatusBadRequest
			resp.Code = core.CodeValidation
			resp.Error = vErr.Error()
			if len(vErr.Fields) > 0 {
				resp.Fields = make(map[string]string, len(vErr.Fields))
				for _, fErr := range vErr.Fields {
					resp.Fields[fErr.Field] = fErr.Error
				}
			}
		default:
			resp.Code = core.CodeOf(err)
			if status, ok := statusCodes[resp.Code]; ok {
				code = status
				resp.Error = err.Error()
				if resp.Code == core.CodeDownstreamUnavailable {
					logger.Warn("downstream unavailable", err, contextActor(ctx))
				}
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			resp.Error = http.StatusText(http.StatusInternalServerError)
			logger.Error(resp.Error, errors.Wrap(err, resp.Error), contextActor(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			resp.Error = err.Error()
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func httpErrorMessage(err *echo.HTTPError) string {
	if msg, ok := err.Message.(string); ok {
		return msg
	}
	return http.StatusText(err.Code)
}

func contextActor(ctx echo.Context) user.User {
	if claims, err := getContextClaims(ctx); err == nil {
		return claims.User()
	}
	return user.User{}
}
