package modeladapter

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec.md §7). Supervisor and callers test for these with
// errors.Is.
var (
	ErrTokenLimitExceeded      = errors.New("modeladapter: token limit exceeded")
	ErrStructuredOutputInvalid = errors.New("modeladapter: structured output invalid")
	ErrCancelled               = errors.New("modeladapter: cancelled")
)

// ProviderError is the classification surface token-limit detection runs
// against. Concrete ModelClients wrap raw SDK errors into ProviderError
// when they can identify the error's shape; classify.go never inspects
// SDK-specific types directly, mirroring original_source/utils.py's
// is_token_limit_exceeded, which works off class name and message text
// rather than a typed exception hierarchy.
type ProviderError struct {
	// Provider is the family prefix: "openai", "anthropic", "google", or
	// "gemini".
	Provider string
	// Kind is the SDK's error class/type name, e.g. "BadRequestError",
	// "ResourceExhausted".
	Kind string
	// Code is an explicit machine-readable error code when the provider
	// supplies one, e.g. "context_length_exceeded".
	Code string
	// Message is the human-readable error text.
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Cause }
