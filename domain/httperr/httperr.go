// Package httperr defines the failure value the routing engine passes to
// its continuation: a status code plus a human-readable message.
package httperr

import (
	"fmt"
	"net/http"
)

// E is an HTTP-mapped error. Code is always within [100, 599].
type E struct {
	Code    int
	Message string
}

// New builds an error for code. Codes outside [100, 599] collapse to 500.
// An empty message defaults to the standard reason phrase for the code.
func New(code int, message string) *E {
	if code < 100 || code > 599 {
		code = http.StatusInternalServerError
	}
	if message == "" {
		message = http.StatusText(code)
		if message == "" {
			message = "Error"
		}
	}
	return &E{Code: code, Message: message}
}

// Error implements the error interface.
func (e *E) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// From converts an arbitrary error into an *E, preserving an existing one.
func From(err error) *E {
	if err == nil {
		return nil
	}
	if e, ok := err.(*E); ok {
		return e
	}
	return New(http.StatusInternalServerError, err.Error())
}
