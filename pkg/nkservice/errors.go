package nkservice

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotFound is returned for HTTP 404 from the API
	ErrServiceNotFound = errors.New("nkservice: service not found")

	// ErrPermission is returned for HTTP 401 and 403. The user did not grant
	// the permission the call needs, or the token is no longer accepted.
	ErrPermission = errors.New("nkservice: permission denied")

	// ErrInvalidParams is returned for calls rejected before any request is made
	ErrInvalidParams = errors.New("nkservice: invalid parameters")

	// ErrMissingRecord is returned when the API answers with no data for a lookup
	ErrMissingRecord = errors.New("nkservice: record not found")
)

// TransportError is a failed exchange with the API: the request could not be
// sent, or the response status was unexpected.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("nkservice: unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("nkservice: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a 200 response whose body could not be decoded
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("nkservice: failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
