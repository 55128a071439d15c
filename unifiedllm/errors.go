package unifiedllm

import (
	"fmt"
	"strings"
)

// RedactedPlaceholder replaces credential substrings in error messages.
const RedactedPlaceholder = "[REDACTED]"

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports a provider that cannot be used as configured,
// typically a missing credential. Never retried.
type ConfigurationError struct {
	SDKError
	Provider string
}

// TransportError reports a failed round-trip: connection refused, timeout,
// or a non-success HTTP status. Message is already redacted.
type TransportError struct {
	SDKError
	Provider   string
	StatusCode int
}

// Error omits the cause so that unredacted transport details stay internal.
func (e *TransportError) Error() string {
	return e.Message
}

// DecodeError reports one malformed frame. Decoders skip the frame and
// continue; it is never terminal.
type DecodeError struct {
	SDKError
	Frame string
}

// ProviderError is an explicit error frame inside an otherwise healthy
// stream. It terminates the stream.
type ProviderError struct {
	SDKError
	Provider string
	Type     string
}

// Redact replaces every non-empty secret in msg with RedactedPlaceholder.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, s, RedactedPlaceholder)
	}
	return msg
}

// ErrorFromStatusCode builds the TransportError for a non-success response.
// message is the provider's own error text when one could be extracted.
func ErrorFromStatusCode(statusCode int, message, provider string, format WireFormat, secrets ...string) error {
	if message == "" {
		if format == FormatAnthropic {
			message = fmt.Sprintf("Anthropic API error %d", statusCode)
		} else {
			message = fmt.Sprintf("API error %d", statusCode)
		}
	}
	return &TransportError{
		SDKError:   SDKError{Message: Redact(message, secrets...)},
		Provider:   provider,
		StatusCode: statusCode,
	}
}
