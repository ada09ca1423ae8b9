package gateway

import "errors"

// ClientError is a request the gateway refuses before contacting any
// provider. Its message is safe to show to clients.
type ClientError struct {
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// GenericFailure is the client-facing text for every provider failure.
const GenericFailure = "Failed to generate response"

// UpstreamError wraps a provider failure. Error returns the generic text;
// Details carries the operator-facing cause.
type UpstreamError struct {
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return GenericFailure
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Details returns the underlying failure description.
func (e *UpstreamError) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// IsClientError reports whether err is a *ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}
