package nkconnect

import "strings"

// Protocol error codes recorded by the login flow. Provider error codes are
// recorded as-is alongside these.
const (
	ErrCodeInvalidOTP  = "invalid_otp"
	ErrCodeCodeMissing = "code_missing"
	ErrCodeHTTP        = "http_error"
	ErrCodeDecode      = "decode_error"
	ErrCodeAuth        = "auth_error"
)

type issue struct {
	code        string
	description string
}

// ProtocolError lists the recoverable problems recorded while handling a
// login callback, in the order they happened.
type ProtocolError struct {
	issues []issue
}

func (e *ProtocolError) Error() string {
	parts := make([]string, 0, len(e.issues))
	for _, i := range e.issues {
		parts = append(parts, i.description)
	}
	return strings.Join(parts, ", ")
}

// Codes returns the recorded error codes in order
func (e *ProtocolError) Codes() []string {
	codes := make([]string, 0, len(e.issues))
	for _, i := range e.issues {
		codes = append(codes, i.code)
	}
	return codes
}
