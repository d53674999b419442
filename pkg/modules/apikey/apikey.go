// Package apikey authenticates HTTP exchanges with static API keys.
//
// Keys are configured as a map from key to principal name and hashed on
// initialization; incoming keys are compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/modules/httpmsg"
	"github.com/polisai/authchain/pkg/modules/opts"
)

// Kind is the loader identifier of the module.
const Kind = "api-key"

const trackKey = "apikey.principals"

type keyEntry struct {
	hash      [32]byte
	principal string
}

// Module is a client and server API key module.
type Module struct {
	header        string
	keys          []keyEntry
	clientKey     string
	requestPolicy *domain.MessagePolicy
	handler       domain.CallbackHandler
}

var (
	_ domain.ClientModule = (*Module)(nil)
	_ domain.ServerModule = (*Module)(nil)
)

// New returns an uninitialized module.
func New() *Module {
	return &Module{}
}

// SupportedMessageTypes returns the HTTP request/response types.
func (m *Module) SupportedMessageTypes() []domain.MessageType {
	return httpmsg.MessageTypes
}

// Initialize reads the header name, the server key table and the client key.
func (m *Module) Initialize(_ context.Context, requestPolicy, _ *domain.MessagePolicy, handler domain.CallbackHandler, options map[string]any) error {
	if handler == nil {
		return fmt.Errorf("%s: callback handler is required: %w", Kind, domain.ErrConfigInvalid)
	}
	header, err := opts.String(options, "header", "X-API-Key")
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	keys, err := opts.StringMap(options, "keys")
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	clientKey, err := opts.String(options, "client_key", "")
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}

	m.header = strings.TrimSpace(header)
	m.clientKey = clientKey
	m.requestPolicy = requestPolicy
	m.handler = handler
	m.keys = make([]keyEntry, 0, len(keys))
	for key, principal := range keys {
		m.keys = append(m.keys, keyEntry{hash: sha256.Sum256([]byte(key)), principal: principal})
	}
	return nil
}

// Mechanisms advertises the API key scheme.
func (m *Module) Mechanisms() []string {
	return []string{"ApiKey"}
}

// ValidateRequest looks up the presented key and establishes its principal.
func (m *Module) ValidateRequest(ctx context.Context, msg *domain.MessageInfo, clientSubject, _ *domain.Subject) (domain.AuthStatus, error) {
	req, ok := httpmsg.Request(msg)
	if !ok {
		return "", fmt.Errorf("%s: message carries no http request: %w", Kind, domain.ErrUnsupportedMessageType)
	}

	presented := req.Header.Get(m.header)
	if presented == "" {
		if m.requestPolicy.IsMandatory() {
			return domain.SendFailure, nil
		}
		return domain.Success, nil
	}

	principal, ok := m.lookup(presented)
	if !ok {
		return domain.SendFailure, nil
	}

	cb := &domain.CallerPrincipalCallback{Subject: clientSubject, Name: principal}
	if err := m.handler.Handle(ctx, []domain.Callback{cb}); err != nil {
		return "", fmt.Errorf("%s: establish principal: %w", Kind, err)
	}
	httpmsg.Track(msg, trackKey, domain.Principal{Name: principal})
	return domain.Success, nil
}

func (m *Module) lookup(presented string) (string, bool) {
	hash := sha256.Sum256([]byte(presented))
	found := ""
	for _, entry := range m.keys {
		if subtle.ConstantTimeCompare(hash[:], entry.hash[:]) == 1 {
			found = entry.principal
		}
	}
	return found, found != ""
}

// SecureResponse has nothing to add to a response.
func (m *Module) SecureResponse(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return domain.SendSuccess, nil
}

// SecureRequest attaches the configured client key.
func (m *Module) SecureRequest(_ context.Context, msg *domain.MessageInfo, _ *domain.Subject) (domain.AuthStatus, error) {
	req, ok := httpmsg.Request(msg)
	if !ok {
		return "", fmt.Errorf("%s: message carries no http request: %w", Kind, domain.ErrUnsupportedMessageType)
	}
	if m.clientKey == "" {
		if m.requestPolicy.IsMandatory() {
			return domain.SendFailure, nil
		}
		return domain.SendSuccess, nil
	}
	req.Header.Set(m.header, m.clientKey)
	return domain.SendSuccess, nil
}

// ValidateResponse accepts every response.
func (m *Module) ValidateResponse(context.Context, *domain.MessageInfo, *domain.Subject, *domain.Subject) (domain.AuthStatus, error) {
	return domain.Success, nil
}

// CleanSubject removes the principal established by ValidateRequest.
func (m *Module) CleanSubject(_ context.Context, msg *domain.MessageInfo, subject *domain.Subject) error {
	httpmsg.Untrack(msg, trackKey, subject)
	return nil
}
