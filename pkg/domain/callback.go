package domain

import "context"

// Callback is a request from a module to the runtime.
type Callback interface {
	CallbackName() string
}

// CallbackHandler services module callbacks.
type CallbackHandler interface {
	Handle(ctx context.Context, callbacks []Callback) error
}

// CallbackHandlerFunc adapts a function to CallbackHandler.
type CallbackHandlerFunc func(ctx context.Context, callbacks []Callback) error

// Handle calls f.
func (f CallbackHandlerFunc) Handle(ctx context.Context, callbacks []Callback) error {
	return f(ctx, callbacks)
}

// CallerPrincipalCallback asks the runtime to establish Name as the caller
// principal of Subject.
type CallerPrincipalCallback struct {
	Subject *Subject
	Name    string
}

func (*CallerPrincipalCallback) CallbackName() string { return "caller_principal" }

// GroupPrincipalCallback asks the runtime to add group principals to Subject.
type GroupPrincipalCallback struct {
	Subject *Subject
	Groups  []string
}

func (*GroupPrincipalCallback) CallbackName() string { return "group_principal" }

// PasswordValidationCallback asks the runtime to validate a username/password
// pair. The handler sets Result.
type PasswordValidationCallback struct {
	Subject  *Subject
	Username string
	Password []byte
	Result   bool
}

func (*PasswordValidationCallback) CallbackName() string { return "password_validation" }

// ClearPassword zeroes the password bytes.
func (c *PasswordValidationCallback) ClearPassword() {
	for i := range c.Password {
		c.Password[i] = 0
	}
}
