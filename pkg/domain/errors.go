package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrModuleLoad             = errors.New("auth module unavailable")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrUnsupportedMessageType = errors.New("auth module does not support required message type")
	ErrNotInitialized         = errors.New("auth module not initialized")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrUnsupportedCallback    = errors.New("unsupported callback")
)

// ConfigurationError reports a module or parser that could not be constructed
// for an auth context. It is surfaced synchronously and never retried.
type ConfigurationError struct {
	AuthContextID string
	AppContext    string
	ModuleID      string
	Err           error
}

func (e *ConfigurationError) Error() string {
	if e.AppContext != "" {
		return fmt.Sprintf("auth context %q of app context %q: unable to load module %q: %v", e.AuthContextID, e.AppContext, e.ModuleID, e.Err)
	}
	return fmt.Sprintf("auth context %q: unable to load module %q: %v", e.AuthContextID, e.ModuleID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// AuthError wraps errors raised by modules and callback handlers with
// additional context.
type AuthError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return "auth error"
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError builds an AuthError with a machine-readable code.
func NewAuthError(code, message string, err error) *AuthError {
	return &AuthError{Err: err, Code: code, Message: message}
}
