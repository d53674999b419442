// Package regoauth authorizes requests with Rego policies evaluated by an
// embedded OPA engine.
//
// The module is server-side only and is meant to follow an authenticating
// module in the chain: it reads the principals already established on the
// client subject, the verified JWT claims if present, and the HTTP method
// and path, and denies the request unless the policy allows it.
package regoauth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/modules/httpmsg"
	"github.com/polisai/authchain/pkg/modules/jwtbearer"
	"github.com/polisai/authchain/pkg/modules/opts"
)

// Kind is the loader identifier of the module.
const Kind = "rego"

// Message properties read and written by the module.
const (
	AttributesKey = "regoauth.attributes"
	DecisionKey   = "regoauth.decision"
)

// Module is a server module backed by an Engine.
type Module struct {
	engine        *Engine
	authContextID string
	logger        *slog.Logger
}

var _ domain.ServerModule = (*Module)(nil)

// New returns an uninitialized module.
func New() *Module {
	return &Module{logger: slog.Default().With("module", Kind)}
}

// SupportedMessageTypes returns the HTTP request/response types.
func (m *Module) SupportedMessageTypes() []domain.MessageType {
	return httpmsg.MessageTypes
}

// Initialize compiles the policy given inline ("policy") or on disk
// ("policy_file").
func (m *Module) Initialize(ctx context.Context, _, _ *domain.MessagePolicy, _ domain.CallbackHandler, options map[string]any) error {
	source, err := opts.String(options, "policy", "")
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	path, err := opts.String(options, "policy_file", "")
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	entrypoint, err := opts.String(options, "entrypoint", defaultEntrypoint)
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	cacheSize, err := opts.Int(options, "cache_size", 0)
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	if m.authContextID, err = opts.String(options, "auth_context_id", ""); err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}

	modules := map[string]string{}
	if strings.TrimSpace(source) != "" {
		modules["inline.rego"] = source
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: read policy file: %w", Kind, err)
		}
		modules[path] = string(data)
	}
	if len(modules) == 0 {
		return fmt.Errorf("%s: one of %q or %q is required: %w", Kind, "policy", "policy_file", domain.ErrConfigInvalid)
	}

	engine, err := NewEngine(ctx, EngineOptions{
		Entrypoint:      entrypoint,
		Modules:         modules,
		CacheMaxEntries: cacheSize,
		Logger:          m.logger,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", Kind, err)
	}
	m.engine = engine
	return nil
}

// ValidateRequest evaluates the policy for the request and the client subject.
func (m *Module) ValidateRequest(ctx context.Context, msg *domain.MessageInfo, clientSubject, _ *domain.Subject) (domain.AuthStatus, error) {
	input := Input{AuthContextID: m.authContextID}
	if req, ok := httpmsg.Request(msg); ok {
		input.Method = req.Method
		input.Path = req.URL.Path
	}
	for _, p := range clientSubject.Principals() {
		if p.Group {
			input.Groups = append(input.Groups, p.Name)
		} else {
			input.Principals = append(input.Principals, p.Name)
		}
	}
	if msg != nil {
		if raw, ok := msg.Get(jwtbearer.ClaimsKey); ok {
			if claims, ok := raw.(*jwtbearer.Claims); ok {
				input.Claims = claimsDocument(claims)
			}
		}
		if raw, ok := msg.Get(AttributesKey); ok {
			input.Attributes, _ = raw.(map[string]any)
		}
	}

	decision, err := m.engine.Evaluate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%s: %w", Kind, err)
	}
	if msg != nil {
		msg.Set(DecisionKey, decision)
	}
	if !decision.Allow {
		return domain.SendFailure, nil
	}
	return domain.Success, nil
}

// SecureResponse has nothing to add to a response.
func (m *Module) SecureResponse(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return domain.SendSuccess, nil
}

// CleanSubject is a no-op: the module never adds principals.
func (m *Module) CleanSubject(context.Context, *domain.MessageInfo, *domain.Subject) error {
	return nil
}

func claimsDocument(c *jwtbearer.Claims) map[string]any {
	doc := map[string]any{
		"sub":    c.Subject,
		"iss":    c.Issuer,
		"aud":    []string(c.Audience),
		"groups": append([]string(nil), c.Groups...),
	}
	if c.ExpiresAt != nil {
		doc["exp"] = c.ExpiresAt.Unix()
	}
	return doc
}
