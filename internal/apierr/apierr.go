// Package apierr centralizes the mapping from internal failure kinds to HTTP
// status codes and the client-facing JSON error envelope.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies a class of failure the orchestrator knows how to map to an
// HTTP status, rather than Go's usual sentinel-error-per-site approach,
// since the classifier is a single, centralized table.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidRequest
	KindDisallowedScheme
	KindUnknownAlgorithm
	KindUndecodableContent
	KindUpstreamFailure
	KindUpstreamTimeout
	KindWorkerPoolBroken
	KindHashMismatch
)

var statusByKind = map[Kind]int{
	KindInvalidRequest:     http.StatusBadRequest,
	KindDisallowedScheme:   http.StatusForbidden,
	KindUnknownAlgorithm:   http.StatusNotFound,
	KindUndecodableContent: http.StatusUnprocessableEntity,
	KindUpstreamFailure:    http.StatusBadGateway,
	KindUpstreamTimeout:    http.StatusGatewayTimeout,
	KindWorkerPoolBroken:   http.StatusInternalServerError,
	KindHashMismatch:       http.StatusBadGateway,
}

// Error is the error type every layer of the pipeline should return once it
// wants to short-circuit the request with a specific client-facing status.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status resolves the Kind to an HTTP status code.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error of the given kind with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates an underlying error with a kind and a client-safe message.
// The underlying error's text is never exposed to the client directly; only
// Message (plus, for UpstreamFailure, an embedded status code) is.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: pkgerrors.WithMessage(cause, message)}
}

// Envelope is the error response body: {"code": <int>, "error": "<message>"}.
type Envelope struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// Write renders err as the standard JSON error envelope. It never sets an
// ETag header: error responses carry no cache-validation token.
func Write(w http.ResponseWriter, err error) {
	apiErr, ok := errorAs(err)
	status := http.StatusInternalServerError
	message := "internal error"
	if ok {
		status = apiErr.Status()
		message = apiErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("ETag")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Code: status, Error: message})
}

func errorAs(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
