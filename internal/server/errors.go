package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/openai"
	"chatrelay/internal/upstream"
)

// requestError carries the relay's error taxonomy to the boundary: status
// code plus the OpenAI-style type tag clients see.
type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

func writeError(c echo.Context, status int, message, errType string) error {
	return c.JSON(status, openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    nil,
		},
	})
}

// openAIErrorHandler renders every error path in the OpenAI error shape.
// Unmatched routes surface as a 404 invalid_request_error; anything
// unrecognised becomes a relay_error.
func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code == http.StatusNotFound {
			_ = writeError(c, http.StatusNotFound, "Not Found", "invalid_request_error")
			return
		}
		_ = writeError(c, httpErr.Code, http.StatusText(httpErr.Code), "invalid_request_error")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal relay error", "relay_error")
}

// toGatewayError maps vendor-side failures (non-2xx status, network error)
// onto the bad_gateway taxonomy. Raw vendor error bodies never reach the
// client.
func toGatewayError(err error) error {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: statusErr.Error(),
			Type:    "bad_gateway",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream request failed",
		Type:    "bad_gateway",
	}
}
