package authcontext

import (
	"context"

	"github.com/polisai/authchain/pkg/domain"
)

// ClientContext drives the client modules of one auth context.
type ClientContext struct {
	*core[domain.ClientModule]
}

// SecureRequest secures an outgoing request. The chain succeeds with
// SendSuccess; any other module status stops it and yields SendFailure.
func (c *ClientContext) SecureRequest(ctx context.Context, msg *domain.MessageInfo, clientSubject *domain.Subject) (domain.AuthStatus, error) {
	return c.run(ctx, "secure_request", domain.SecureSuccess, func(ctx context.Context, m domain.ClientModule) (domain.AuthStatus, error) {
		return m.SecureRequest(ctx, msg, clientSubject)
	})
}

// ValidateResponse validates an incoming response. The chain succeeds with
// Success; any other module status stops it and yields SendFailure.
func (c *ClientContext) ValidateResponse(ctx context.Context, msg *domain.MessageInfo, clientSubject, serviceSubject *domain.Subject) (domain.AuthStatus, error) {
	return c.run(ctx, "validate_response", domain.ValidateSuccess, func(ctx context.Context, m domain.ClientModule) (domain.AuthStatus, error) {
		return m.ValidateResponse(ctx, msg, clientSubject, serviceSubject)
	})
}

// CleanSubject asks every module to remove what it added to subject.
func (c *ClientContext) CleanSubject(ctx context.Context, msg *domain.MessageInfo, subject *domain.Subject) error {
	return c.clean(ctx, func(ctx context.Context, m domain.ClientModule) error {
		return m.CleanSubject(ctx, msg, subject)
	})
}
