package processor

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes reported by the processor. Terminal codes mean retrying the same
// request cannot succeed; everything network-shaped is retryable.
const (
	CodeCardDeclined       = "card_declined"
	CodeExpiredCard        = "expired_card"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeAccountDisabled    = "account_disabled"
	CodeAccountRestricted  = "account_restricted"
	CodeInvalidRequest     = "invalid_request"
	CodeRateLimited        = "rate_limited"
	CodeProcessorUnavail   = "processor_unavailable"
	CodeAuthenticationReq  = "authentication_required"
	CodeProcessingError    = "processing_error"
)

// Error is a structured failure reported by the processor API.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	DeclineCode string `json:"decline_code,omitempty"`
	HTTPStatus  int    `json:"-"`
}

func (e *Error) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("processor error %s (%s): %s", e.Code, e.DeclineCode, e.Message)
	}
	return fmt.Sprintf("processor error %s: %s", e.Code, e.Message)
}

// Retryable reports whether re-sending the same request could succeed.
// Declines and account-state failures are terminal; rate limits, transient
// processing failures, and 5xx responses are not.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeCardDeclined, CodeExpiredCard, CodeInsufficientFunds,
		CodeAccountDisabled, CodeAccountRestricted, CodeInvalidRequest,
		CodeAuthenticationReq:
		return false
	case CodeRateLimited, CodeProcessorUnavail, CodeProcessingError:
		return true
	}
	return e.HTTPStatus >= http.StatusInternalServerError
}

// IsTerminal reports whether err is a processor error that retrying cannot fix.
func IsTerminal(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && !pe.Retryable()
}

// FailureReason extracts the human-readable reason from a processor error, or
// the plain error string for anything else.
func FailureReason(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Message != "" {
			return pe.Message
		}
		return pe.Code
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
