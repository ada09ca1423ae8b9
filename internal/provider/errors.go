package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// KindUpstream is a non-success answer from the provider.
	KindUpstream ErrorKind = "upstream"
	// KindMalformed is a body that could not be decoded.
	KindMalformed ErrorKind = "malformed"
	// KindTransport is a failure to reach the provider at all.
	KindTransport ErrorKind = "transport"
)

// ProviderError is returned by every adapter on failure.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func upstreamError(provider string, status int, message string) *ProviderError {
	return &ProviderError{Kind: KindUpstream, Provider: provider, Status: status, Message: message}
}

func malformedError(provider string, err error) *ProviderError {
	return &ProviderError{Kind: KindMalformed, Provider: provider, Message: err.Error(), Err: err}
}

func transportError(provider string, err error) *ProviderError {
	return &ProviderError{Kind: KindTransport, Provider: provider, Message: err.Error(), Err: err}
}

// IsProviderError reports whether err came from an upstream adapter.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// errorMessage extracts the provider's own error text from a failure body.
func errorMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 512 {
			text = text[:512]
		}
		return text
	}
	return fallback
}
