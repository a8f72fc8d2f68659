package geo

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ErrorCodeToolUnavailable is returned when the version probe fails.
	ErrorCodeToolUnavailable = "TOOL_UNAVAILABLE"
	// ErrorCodeCityLookupFailed is the unified per-lookup failure surfaced by Service.
	ErrorCodeCityLookupFailed = "CITY_LOOKUP_FAILED"
	// ErrorCodeEmptyOutput is returned when the tool wrote nothing to stdout.
	ErrorCodeEmptyOutput = "EMPTY_OUTPUT"
	// ErrorCodeNoLocationMarker is returned when the output has no " [" marker.
	ErrorCodeNoLocationMarker = "NO_LOCATION_MARKER"
	// ErrorCodeUnterminatedLocation is returned when no "]" follows the marker.
	ErrorCodeUnterminatedLocation = "UNTERMINATED_LOCATION"
	// ErrorCodeTimeout is returned when the lookup deadline expires.
	ErrorCodeTimeout = "LOOKUP_TIMED_OUT"
	// ErrorCodeCanceled is returned when the caller cancels the lookup.
	ErrorCodeCanceled = "LOOKUP_CANCELED"
	// ErrorCodeSpawnFailed is returned when the tool process cannot be started.
	ErrorCodeSpawnFailed = "SPAWN_FAILED"
	// ErrorCodeTransportFailure is returned when copying stdout fails.
	ErrorCodeTransportFailure = "TRANSPORT_FAILURE"
	// ErrorCodeBufferOverflow is returned when a strict buffer rejects a write.
	ErrorCodeBufferOverflow = "BUFFER_OVERFLOW"
	// ErrorCodeInvalidRequest is returned for unusable arguments.
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
)

var (
	// ErrToolUnavailable matches errors caused by a missing or broken tool.
	ErrToolUnavailable = errors.New("geo: tool unavailable")
	// ErrCityLookupFailed matches the Service's unified lookup failure.
	ErrCityLookupFailed = errors.New("geo: city lookup failed")
	// ErrLookupFailed matches any malformed or absent tool output.
	ErrLookupFailed = errors.New("geo: lookup failed")
)

// Error is a structured geolocation error. Code is machine readable and
// stable; Cause carries the underlying process or parse failure.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ErrorCodeCityLookupFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is maps codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrToolUnavailable:
		return e.Code == ErrorCodeToolUnavailable
	case ErrCityLookupFailed:
		return e.Code == ErrorCodeCityLookupFailed
	case ErrLookupFailed:
		switch e.Code {
		case ErrorCodeEmptyOutput, ErrorCodeNoLocationMarker, ErrorCodeUnterminatedLocation:
			return true
		}
	}
	return false
}

func newError(code, message string, retryable bool, cause error) *Error {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ErrorCodeCityLookupFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &Error{
		Code:      cleanCode,
		Message:   cleanMsg,
		Retryable: retryable,
		Cause:     cause,
	}
}

func withErrorDetails(err *Error, details map[string]any) *Error {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

func errorFrom(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var geoErr *Error
	if errors.As(err, &geoErr) {
		return geoErr, true
	}
	return nil, false
}

// Code returns the outermost error code in err's chain, or "".
func Code(err error) string {
	if geoErr, ok := errorFrom(err); ok && geoErr != nil {
		return geoErr.Code
	}
	return ""
}

// Reason returns the innermost error code in err's chain. For a
// CITY_LOOKUP_FAILED from Service this is the invoker's specific code.
func Reason(err error) string {
	reason := ""
	for err != nil {
		if geoErr, ok := err.(*Error); ok && geoErr != nil {
			reason = geoErr.Code
		}
		err = errors.Unwrap(err)
	}
	return reason
}

// IsRetryable reports whether err is a retryable geolocation error.
func IsRetryable(err error) bool {
	if geoErr, ok := errorFrom(err); ok {
		return geoErr.Retryable
	}
	return false
}
