package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
)

// error kinds
const (
	errKindBadRequest      = "bad_request"
	errKindValidation      = "validation_failed"
	errKindUnauthenticated = "unauthenticated"
	errKindForbidden       = "permission_denied"
	errKindNotFound        = "not_found"
	errKindConflict        = "conflict"
	errKindUpstream        = "upstream_failure"
	errKindInternal        = "internal_error"
)

var (
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
	errMissingFile          = core.NewValidationError(errors.New("a file is required"), core.FieldError{Field: "file", Error: "this field is required"})
)

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respond(ctx echo.Context, code int, data interface{}) error {
	return ctx.JSON(code, Response{Success: true, Data: data})
}

func httpErrorKind(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return errKindUnauthenticated
	case http.StatusForbidden:
		return errKindForbidden
	case http.StatusNotFound:
		return errKindNotFound
	case http.StatusConflict:
		return errKindConflict
	case http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusMethodNotAllowed:
		return errKindBadRequest
	}
	if code >= http.StatusInternalServerError {
		return errKindInternal
	}
	return errKindBadRequest
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code int
			resp Response
		)

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				origErr = echo.NewHTTPError(http.StatusUnauthorized, origErr.Message)
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			resp.Error = httpErrorKind(code)
			resp.Message = fmt.Sprint(origErr.Message)
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			resp.Error = errKindValidation
			resp.Message = "invalid data"
			resp.Data = fldErrs
		case *core.ValidationError:
			code = http.StatusBadRequest
			resp.Error = errKindValidation
			resp.Message = origErr.Error()
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				resp.Data = fldErrs
			}
			if resp.Message == "" {
				resp.Message = "invalid data"
			}
		case *core.NotFoundError:
			code = http.StatusNotFound
			resp.Error = errKindNotFound
			resp.Message = origErr.Error()
		case *core.ConflictError:
			code = http.StatusConflict
			resp.Error = errKindConflict
			resp.Message = origErr.Error()
		case *core.UpstreamError:
			code = http.StatusBadGateway
			resp.Error = errKindUpstream
			resp.Message = origErr.Service + " is unavailable"
			logger.Error(fmt.Sprintf("upstream failure: %v", err), errors.Wrap(err, "upstream failure"), getContextCaller(ctx))
		default:
			switch origErr {
			case core.ErrUnauthenticated:
				code = http.StatusUnauthorized
				resp.Error = errKindUnauthenticated
				resp.Message = origErr.Error()
			case core.ErrPermissionDenied:
				code = http.StatusForbidden
				resp.Error = errKindForbidden
				resp.Message = origErr.Error()
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				resp.Error = errKindInternal
				resp.Message = msg
				logger.Error(msg, errors.Wrap(err, msg), getContextCaller(ctx))

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			resp.Message = err.Error()
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
