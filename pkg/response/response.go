// Package response writes the JSON error bodies shared by every HTTP handler.
package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const StatusError = "error"

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

func newError(msg string) ErrorResponse {
	return ErrorResponse{Status: StatusError, Message: msg}
}

var (
	emptyRequestBodyResponse   = newError("empty request body")
	invalidRequestBodyResponse = newError("invalid request body")
	requestTooLargeResponse    = newError("request body too large")
	notFoundResponse           = newError("url not found")
	rateLimitedResponse        = newError("too many requests")
	unavailableResponse        = newError("service unavailable")
	internalResponse           = newError("server error occurred")
)

// Write renders resp with the given status code.
func Write(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func EmptyRequestBody(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusBadRequest, emptyRequestBodyResponse)
}

func InvalidRequestBody(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusBadRequest, invalidRequestBodyResponse)
}

func RequestTooLarge(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusRequestEntityTooLarge, requestTooLargeResponse)
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusNotFound, notFoundResponse)
}

func RateLimited(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusTooManyRequests, rateLimitedResponse)
}

func Unavailable(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusServiceUnavailable, unavailableResponse)
}

// Internal answers with a generic body; the cause is expected to be logged
// by the caller.
func Internal(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusInternalServerError, internalResponse)
}

// ValidationFailed answers 400 listing the rejected fields.
func ValidationFailed(w http.ResponseWriter, r *http.Request, errs ...ValidationError) {
	Write(w, r, http.StatusBadRequest, ErrorResponse{
		Status:  StatusError,
		Message: "validation error",
		Errors:  errs,
	})
}

// ValidationErrors converts the errors reported by validator into
// ValidationError values. Other errors yield nil.
func ValidationErrors(err error) []ValidationError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		out = append(out, ValidationError{
			Field:   e.Field(),
			Message: messageForTag(e.Tag(), e.Param()),
		})
	}

	return out
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "url":
		return "invalid url"
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", param)
	case "lte", "max":
		return fmt.Sprintf("must be at most %s", param)
	default:
		return "invalid value"
	}
}
