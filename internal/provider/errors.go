package provider

import "fmt"

// TransportError is a network, HTTP-status, or body-decoding failure for
// one model's request.
type TransportError struct {
	Model      string
	StatusCode int    // 0 when no response was received
	Message    string // provider-supplied message, if the body carried one
	Err        error
}

func (e *TransportError) Error() string {
	failedStatus := e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode >= 300)
	switch {
	case failedStatus && e.Message != "":
		return fmt.Sprintf("HTTP error! status: %d: %s", e.StatusCode, e.Message)
	case failedStatus:
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "transport failure"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError is a well-formed error payload returned with a success status.
type ProviderError struct {
	Model   string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "Unknown error occurred"
	}
	return e.Message
}
