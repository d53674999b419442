// Package static provides a module that returns configured statuses and
// optionally asserts a fixed principal. It is meant for wiring tests,
// development setups and deny-all or allow-all chain positions.
package static

import (
	"context"
	"fmt"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/modules/httpmsg"
	"github.com/polisai/authchain/pkg/modules/opts"
)

// Kind is the loader identifier of the module.
const Kind = "static"

const trackKey = "static.principals"

// Module answers every operation with a configured status.
type Module struct {
	validate     domain.AuthStatus
	secure       domain.AuthStatus
	principal    string
	groups       []string
	messageTypes []domain.MessageType
	handler      domain.CallbackHandler
}

var (
	_ domain.ClientModule = (*Module)(nil)
	_ domain.ServerModule = (*Module)(nil)
)

// New returns a module answering success for every operation.
func New() *Module {
	return &Module{
		validate:     domain.Success,
		secure:       domain.SendSuccess,
		messageTypes: []domain.MessageType{domain.MessageTypeAny},
	}
}

// SupportedMessageTypes returns the configured types, "*" by default.
func (m *Module) SupportedMessageTypes() []domain.MessageType {
	return m.messageTypes
}

// Initialize reads validate_status, secure_status, principal, groups and
// message_types.
func (m *Module) Initialize(_ context.Context, _, _ *domain.MessagePolicy, handler domain.CallbackHandler, options map[string]any) error {
	var err error
	if m.validate, err = opts.Status(options, "validate_status", domain.Success); err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	if m.secure, err = opts.Status(options, "secure_status", domain.SendSuccess); err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	if m.principal, err = opts.String(options, "principal", ""); err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	if m.groups, err = opts.Strings(options, "groups"); err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	types, err := opts.Strings(options, "message_types")
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	if len(types) > 0 {
		m.messageTypes = make([]domain.MessageType, len(types))
		for i, t := range types {
			m.messageTypes[i] = domain.MessageType(t)
		}
	}
	if (m.principal != "" || len(m.groups) > 0) && handler == nil {
		return fmt.Errorf("%s: callback handler is required to assert principals: %w", Kind, domain.ErrConfigInvalid)
	}
	m.handler = handler
	return nil
}

// ValidateRequest asserts the configured principal and returns validate_status.
func (m *Module) ValidateRequest(ctx context.Context, msg *domain.MessageInfo, clientSubject, _ *domain.Subject) (domain.AuthStatus, error) {
	if err := m.assert(ctx, msg, clientSubject); err != nil {
		return "", err
	}
	return m.validate, nil
}

// SecureResponse returns secure_status.
func (m *Module) SecureResponse(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return m.secure, nil
}

// SecureRequest returns secure_status.
func (m *Module) SecureRequest(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return m.secure, nil
}

// ValidateResponse asserts the configured principal on the service subject
// and returns validate_status.
func (m *Module) ValidateResponse(ctx context.Context, msg *domain.MessageInfo, _, serviceSubject *domain.Subject) (domain.AuthStatus, error) {
	if err := m.assert(ctx, msg, serviceSubject); err != nil {
		return "", err
	}
	return m.validate, nil
}

// CleanSubject removes the asserted principals.
func (m *Module) CleanSubject(_ context.Context, msg *domain.MessageInfo, subject *domain.Subject) error {
	httpmsg.Untrack(msg, trackKey, subject)
	return nil
}

func (m *Module) assert(ctx context.Context, msg *domain.MessageInfo, subject *domain.Subject) error {
	if subject == nil || m.validate != domain.Success {
		return nil
	}
	var callbacks []domain.Callback
	var added []domain.Principal
	if m.principal != "" {
		callbacks = append(callbacks, &domain.CallerPrincipalCallback{Subject: subject, Name: m.principal})
		added = append(added, domain.Principal{Name: m.principal})
	}
	if len(m.groups) > 0 {
		callbacks = append(callbacks, &domain.GroupPrincipalCallback{Subject: subject, Groups: m.groups})
		for _, g := range m.groups {
			added = append(added, domain.Principal{Name: g, Group: true})
		}
	}
	if len(callbacks) == 0 {
		return nil
	}
	if err := m.handler.Handle(ctx, callbacks); err != nil {
		return fmt.Errorf("%s: establish principals: %w", Kind, err)
	}
	httpmsg.Track(msg, trackKey, added...)
	return nil
}
