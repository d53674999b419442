package authcontext

import (
	"context"

	"github.com/polisai/authchain/pkg/domain"
)

// ServerContext drives the server modules of one auth context.
type ServerContext struct {
	*core[domain.ServerModule]
}

// ValidateRequest validates an incoming request. The chain succeeds with
// Success; any other module status stops it and yields SendFailure.
func (c *ServerContext) ValidateRequest(ctx context.Context, msg *domain.MessageInfo, clientSubject, serviceSubject *domain.Subject) (domain.AuthStatus, error) {
	return c.run(ctx, "validate_request", domain.ValidateSuccess, func(ctx context.Context, m domain.ServerModule) (domain.AuthStatus, error) {
		return m.ValidateRequest(ctx, msg, clientSubject, serviceSubject)
	})
}

// SecureResponse secures an outgoing response. The chain succeeds with
// SendSuccess; any other module status stops it and yields SendFailure.
func (c *ServerContext) SecureResponse(ctx context.Context, msg *domain.MessageInfo, serviceSubject *domain.Subject) (domain.AuthStatus, error) {
	return c.run(ctx, "secure_response", domain.SecureSuccess, func(ctx context.Context, m domain.ServerModule) (domain.AuthStatus, error) {
		return m.SecureResponse(ctx, msg, serviceSubject)
	})
}

// CleanSubject asks every module to remove what it added to subject.
func (c *ServerContext) CleanSubject(ctx context.Context, msg *domain.MessageInfo, subject *domain.Subject) error {
	return c.clean(ctx, func(ctx context.Context, m domain.ServerModule) error {
		return m.CleanSubject(ctx, msg, subject)
	})
}

// Mechanisms returns the union of the mechanisms advertised by the present
// modules, in chain order.
func (c *ServerContext) Mechanisms() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, slot := range c.slots {
		module, ok := slot.Module()
		if !ok {
			continue
		}
		provider, ok := module.(domain.MechanismProvider)
		if !ok {
			continue
		}
		for _, mech := range provider.Mechanisms() {
			if _, dup := seen[mech]; dup {
				continue
			}
			seen[mech] = struct{}{}
			out = append(out, mech)
		}
	}
	return out
}
