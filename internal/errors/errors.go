package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/keypair/pkg/secretstore"
)

// MaxReasonLength bounds the failure reason sent back to the orchestrator.
const MaxReasonLength = 512

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ValidationError reports invalid resource properties on an inbound event.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "invalid request: " + e.Message
}

// CryptoError means key generation failed. It is never retried.
type CryptoError struct {
	Op  string
	Err error
}

func (e CryptoError) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e CryptoError) Unwrap() error {
	return e.Err
}

// CallbackDeliveryError means the outcome could not be delivered to the
// orchestrator. StatusCode is zero for transport failures.
type CallbackDeliveryError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e CallbackDeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("callback delivery failed after %d attempt(s): server returned %d: %v", e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("callback delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e CallbackDeliveryError) Unwrap() error {
	return e.Err
}

// Kind names the taxonomy class of err for failure reasons and metrics.
func Kind(err error) string {
	var (
		cryptoErr   CryptoError
		callbackErr CallbackDeliveryError
		validErr    ValidationError
		configErr   ConfigError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &cryptoErr):
		return "CryptoError"
	case secretstore.IsConflict(err):
		return "StoreConflictError"
	case secretstore.IsNotFound(err):
		return "StoreNotFoundError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case secretstore.IsUnavailable(err):
		return "StoreUnavailableError"
	case errors.As(err, &callbackErr):
		return "CallbackDeliveryError"
	case errors.As(err, &validErr):
		return "ValidationError"
	case errors.As(err, &configErr):
		return "ConfigError"
	default:
		return "InternalError"
	}
}

// FailureReason builds the orchestrator-facing reason for a failed request:
// "<RequestType> failed: <Kind>: <message>", bounded to MaxReasonLength.
func FailureReason(requestType string, err error) string {
	reason := requestType + " failed"
	if err != nil {
		reason += ": " + Kind(err) + ": " + err.Error()
	}
	return Truncate(reason, MaxReasonLength)
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const ellipsis = "..."
	cut := n - len(ellipsis)
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(strings.ToLower(errStr), pattern) {
			return true
		}
	}

	return false
}
