package errors

import (
	"errors"
	"net/http"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

func InvalidInput(message string) error {
	return &ErrorWithStatusCode{Message: message, StatusCode: http.StatusBadRequest}
}

func NotFound(message string) error {
	return &ErrorWithStatusCode{Message: message, StatusCode: http.StatusNotFound}
}

func Unauthorized(message string) error {
	return &ErrorWithStatusCode{Message: message, StatusCode: http.StatusUnauthorized}
}

func Conflict(message string) error {
	return &ErrorWithStatusCode{Message: message, StatusCode: http.StatusConflict}
}

// TransportUnavailable marks a broker transport that could not be reached.
// Recovered internally by falling back to polling, never written to a
// response, so it carries no status code.
var TransportUnavailable = errors.New("realtime transport unavailable")

// StatusCode returns the HTTP status for err, defaulting to 500.
func StatusCode(err error) int {
	var swsc *ErrorWithStatusCode
	if errors.As(err, &swsc) {
		return swsc.StatusCode
	}
	return http.StatusInternalServerError
}
