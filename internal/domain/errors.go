package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ConfigError reports a missing or invalid required setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return "config: " + e.Field + " is required"
	}
	return "config: " + e.Field + ": " + e.Reason
}

// TransportError is a non-2xx response from a listing, search or segment call.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: platform returned %d: %s", e.Op, e.StatusCode, truncate(e.Body, 512))
}

// SendError is one recipient's failed delivery.
type SendError struct {
	RecipientID string
	StatusCode  int
	Body        string
	Err         error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return "send to " + e.RecipientID + ": " + e.Err.Error()
	}
	return "send to " + e.RecipientID + ": platform returned " + strconv.Itoa(e.StatusCode) + ": " + truncate(e.Body, 512)
}

func (e *SendError) Unwrap() error { return e.Err }

// AudienceResolutionError means every active-audience strategy failed.
type AudienceResolutionError struct {
	Causes []error
}

func (e *AudienceResolutionError) Error() string {
	return "resolve active audience: " + errors.Join(e.Causes...).Error()
}

func (e *AudienceResolutionError) Unwrap() []error { return e.Causes }

type UploadError struct {
	Host string
	Err  error
}

func (e *UploadError) Error() string { return "upload to " + e.Host + ": " + e.Err.Error() }
func (e *UploadError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
