package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPError is an error rendered to clients as a JSON body.
type HTTPError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *HTTPError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// Base errors (no details/requestID) use pre-serialized JSON.
func (e *HTTPError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrNotFound = &HTTPError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrMethodNotAllowed = &HTTPError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
	}

	ErrBadRequest = &HTTPError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrBadGateway = &HTTPError{
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrServiceUnavailable = &HTTPError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}

	ErrGatewayTimeout = &HTTPError{
		Code:    http.StatusGatewayTimeout,
		Message: "Gateway Timeout",
	}

	ErrInternalServer = &HTTPError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

var preSerialized map[*HTTPError][]byte

func init() {
	bases := []*HTTPError{
		ErrNotFound, ErrMethodNotAllowed, ErrBadRequest, ErrBadGateway,
		ErrServiceUnavailable, ErrGatewayTimeout, ErrInternalServer,
	}
	preSerialized = make(map[*HTTPError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new HTTPError
func New(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an HTTP status and message
func Wrap(err error, code int, message string) *HTTPError {
	return &HTTPError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithDetails returns a copy carrying details
func (e *HTTPError) WithDetails(details string) *HTTPError {
	c := *e
	c.Details = details
	return &c
}

// WithRequestID returns a copy carrying the request ID
func (e *HTTPError) WithRequestID(requestID string) *HTTPError {
	c := *e
	c.RequestID = requestID
	return &c
}

// AsHTTPError reports whether err is an *HTTPError
func AsHTTPError(err error) (*HTTPError, bool) {
	if he, ok := err.(*HTTPError); ok {
		return he, true
	}
	return nil, false
}
