package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Image is an inline image attached to a prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

// Config represents the configuration for an LLM provider call
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	Images      []Image
	// JSON asks the provider to constrain its output to a JSON object.
	JSON bool
}

// Provider defines the interface for an LLM provider
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}

// StatusError is returned when a provider answers with a non-200 status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received non-200 status code: %d - %s", e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
