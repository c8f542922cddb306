package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HTTPErrorHandler renders every error returned by a handler or middleware.
// Application errors keep their kind and details, echo errors keep their
// status, and anything else is a 500 carrying the raw message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := Render(err)

		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

// Render converts err into a status code and JSON body.
func Render(err error) (int, map[string]interface{}) {
	var ae *Error
	if errors.As(err, &ae) {
		body := map[string]interface{}{}
		for k, v := range ae.Details {
			body[k] = v
		}
		body["error"] = ae.Message
		body["code"] = ae.Code
		return Status(ae.Kind), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprintf("%v", he.Message)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		return he.Code, map[string]interface{}{
			"error": msg,
			"code":  codeForStatus(he.Code),
		}
	}

	return http.StatusInternalServerError, map[string]interface{}{
		"error": err.Error(),
		"code":  CodeInternal,
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidInput
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusGatewayTimeout:
		return "TIMEOUT"
	}
	if status >= http.StatusInternalServerError {
		return CodeInternal
	}
	return http.StatusText(status)
}
