package llmrelay

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// ErrorKind classifies every failure the dispatch engine can produce.
// The dispatcher branches on kind: 4xx-class answers are final, while
// timeouts, connection failures, 5xx statuses and malformed bodies are
// eligible for racing and cross-model fallback.
type ErrorKind int

// Error kinds, exhaustive.
const (
	KindClientNotFound ErrorKind = iota
	KindUpstreamTimeout
	KindUpstreamConnect
	KindUpstreamStatus
	KindMalformedUpstreamBody
	KindInvalidRequest
	KindInvalidHeader
	KindMultipart
	KindDatabase
	KindInternal
)

// Error is the single error type crossing component boundaries. Status is
// meaningful only for KindUpstreamStatus, where it carries the upstream
// HTTP status code.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Retryable reports whether the failure may trigger the RACE phase and
// cross-model fallback. Upstream 4xx answers are business errors and are
// final; the attempt layer returns those as responses, not errors, so an
// Error of KindUpstreamStatus always carries a 5xx code.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUpstreamTimeout, KindUpstreamConnect, KindUpstreamStatus, KindMalformedUpstreamBody:
		return true
	}
	return false
}

// HTTPStatus maps the kind to the status returned to the inbound client.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindClientNotFound, KindInvalidRequest, KindMultipart:
		return http.StatusUnprocessableEntity
	case KindInvalidHeader:
		return http.StatusBadRequest
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamConnect, KindMalformedUpstreamBody:
		return http.StatusBadGateway
	case KindUpstreamStatus:
		return e.Status
	default:
		return http.StatusInternalServerError
	}
}

// ErrType returns the error_type string for the response envelope.
func (e *Error) ErrType() string {
	switch e.Kind {
	case KindClientNotFound:
		return "NotFoundError"
	case KindUpstreamTimeout:
		return "timeout_error"
	case KindUpstreamConnect:
		return "connection_error"
	case KindUpstreamStatus, KindMalformedUpstreamBody:
		return "upstream_error"
	case KindInvalidRequest:
		return "Input Validation Error"
	case KindInvalidHeader:
		return "InvalidRequest"
	case KindMultipart:
		return "multipart_error"
	case KindDatabase:
		return "database_error"
	default:
		return "internal_error"
	}
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrModelNotFound is returned when no provider matches the model.
func ErrModelNotFound(model string) *Error {
	return Errorf(KindClientNotFound, "The model `%s` does not exist.", model)
}

// WriteError writes err to w in the relay's JSON error envelope. Errors
// that are not *Error are treated as internal.
func WriteError(w http.ResponseWriter, err error) {
	re, ok := err.(*Error)
	if !ok {
		re = &Error{Kind: KindInternal, Message: "Internal server error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      re.Message,
		"error_type": re.ErrType(),
	})
}
