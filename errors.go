package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ConfigError reports a missing upload host or key. No request is sent.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// TransportError carries the transport's own description of a failed request.
type TransportError struct {
	Message string
	Status  int
	Err     error
}

func (e *TransportError) Error() string { return e.Message }

func (e *TransportError) Unwrap() error { return e.Err }

func transportFailure(err error) *TransportError {
	return &TransportError{Message: err.Error(), Err: err}
}

// statusFailure uses the reason phrase the server sent, falling back to
// the standard text for the code.
func statusFailure(url string, status int, statusLine string) *TransportError {
	reason := strings.TrimSpace(strings.TrimPrefix(statusLine, strconv.Itoa(status)))
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &TransportError{
		Message: fmt.Sprintf("Error transferring %s - server replied: %s", url, reason),
		Status:  status,
	}
}

// IntegrationError is returned when the desktop could not open the URL.
type IntegrationError struct {
	Message string
	Err     error
}

func (e *IntegrationError) Error() string { return e.Message }

func (e *IntegrationError) Unwrap() error { return e.Err }

var errAlreadyStarted = errors.New("upload already started")
