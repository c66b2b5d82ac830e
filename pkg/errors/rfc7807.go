// Package errors provides error handling helpers using the RFC 7807
// Problem Details standard at the HTTP edge.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Problem is an RFC 7807 problem details document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error implements error
func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

// NewProblem builds a problem document for the given status code.
func NewProblem(status int, detail string) *Problem {
	return &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// BadRequest builds a 400 problem with the given detail.
func BadRequest(detail string) *Problem {
	return NewProblem(http.StatusBadRequest, detail)
}

// Internal builds a 500 problem wrapping the given error.
func Internal(err error) *Problem {
	return NewProblem(http.StatusInternalServerError, err.Error())
}
