package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingField marks a required subscription message field that was
	// absent or had the wrong JSON type.
	ErrMissingField = errors.New("field not found in subscription message")
	// ErrUnknownMessageType is returned for a message whose tag is not one of
	// the Control, Event or EndOfStream tags.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrMalformedMessage is returned when a line is not a JSON array.
	ErrMalformedMessage = errors.New("malformed subscription message")
)

// NetworkError reports that no HTTP response could be obtained.
type NetworkError struct {
	Reason string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %s: %v", e.Reason, e.Err)
	}
	return "network error: " + e.Reason
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ErrorResponseBody is the JSON shape servers use for error payloads.
type ErrorResponseBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// ErrorResponse is an HTTP-level failure. RequestMethod records the method of
// the request that produced it so retry policy can distinguish safe methods.
type ErrorResponse struct {
	StatusCode    int
	Headers       Headers
	RequestMethod string
	Code          string
	Description   string
	URI           string
}

func (e *ErrorResponse) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("error response %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("error response %d: %s", e.StatusCode, e.Code)
}

// Method returns the originating request method, falling back to the
// Request-Method response header when the request is not known.
func (e *ErrorResponse) Method() string {
	if e.RequestMethod != "" {
		return e.RequestMethod
	}
	return e.Headers.Get(RequestMethodHeader)
}

// OtherError covers failures that are neither network nor HTTP errors: TLS
// handshake failures and unparseable streams or messages.
type OtherError struct {
	Reason string
	Err    error
}

func (e *OtherError) Error() string {
	if e.Err != nil && e.Reason == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *OtherError) Unwrap() error { return e.Err }

// FieldError names a single subscription message field that failed validation.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field '%s' not found in subscription message", e.Field)
}

func (e *FieldError) Unwrap() error { return ErrMissingField }

// CompositeError aggregates several independent failures.
type CompositeError struct {
	Errors []error
}

func (e *CompositeError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return "multiple errors: " + strings.Join(parts, "; ")
}

func (e *CompositeError) Unwrap() []error { return e.Errors }
