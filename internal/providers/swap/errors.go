package swap

import "fmt"

// Error is the typed failure raised by the motion-swap client. It keeps the
// HTTP status, the provider's error code and the raw response payload so
// the retry classifier and the persisted error envelope can inspect them
// without re-parsing provider text.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	cause      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("swap: %s (%s)", e.Message, e.Code)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("swap: %s (status %d)", e.Message, e.StatusCode)
	}
	return "swap: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func wrapError(statusCode int, code, message, details string, cause error) *Error {
	return &Error{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Details:    details,
		cause:      cause,
	}
}
