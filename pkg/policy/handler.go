package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/polisai/authchain/pkg/domain"
)

const (
	// HandlerEnvKey overrides the default callback handler name.
	HandlerEnvKey = "AUTHCHAIN_CALLBACK_HANDLER"
	// DefaultHandlerName names the built-in SubjectCallbackHandler.
	DefaultHandlerName = "subject"
)

// HandlerFactory constructs a callback handler.
type HandlerFactory func() (domain.CallbackHandler, error)

// HandlerConfig selects the default callback handler.
type HandlerConfig struct {
	Name string
}

// HandlerConfigFromEnv reads HandlerEnvKey, falling back to DefaultHandlerName.
func HandlerConfigFromEnv() HandlerConfig {
	name := strings.TrimSpace(os.Getenv(HandlerEnvKey))
	if name == "" {
		name = DefaultHandlerName
	}
	return HandlerConfig{Name: name}
}

// HandlerResolver resolves the process-wide default callback handler. It is
// created once at startup and passed to every consumer; the first successful
// resolution is reused for the lifetime of the resolver.
type HandlerResolver struct {
	mu        sync.Mutex
	name      string
	factories map[string]HandlerFactory
	resolved  domain.CallbackHandler
	logger    *slog.Logger
}

// NewHandlerResolver creates a resolver with the built-in "subject" handler registered.
func NewHandlerResolver(cfg HandlerConfig, logger *slog.Logger) *HandlerResolver {
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = DefaultHandlerName
	}
	r := &HandlerResolver{
		name:      name,
		factories: make(map[string]HandlerFactory),
		logger:    logger,
	}
	r.Register(DefaultHandlerName, func() (domain.CallbackHandler, error) {
		return NewSubjectCallbackHandler(nil), nil
	})
	return r
}

// Register adds or replaces a handler factory.
func (r *HandlerResolver) Register(name string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.TrimSpace(name)] = factory
}

// Name returns the configured handler name.
func (r *HandlerResolver) Name() string {
	return r.name
}

// Default returns the default callback handler, constructing it on first use.
// A failed construction is not cached.
func (r *HandlerResolver) Default() (domain.CallbackHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return r.resolved, nil
	}

	factory, ok := r.factories[r.name]
	if !ok {
		return nil, fmt.Errorf("callback handler %q: %w", r.name, domain.ErrModuleLoad)
	}
	handler, err := factory()
	if err != nil {
		return nil, fmt.Errorf("callback handler %q: %w", r.name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("callback handler %q: factory returned nil: %w", r.name, domain.ErrModuleLoad)
	}

	r.resolved = handler
	r.logger.Debug("resolved default callback handler", "handler", r.name)
	return handler, nil
}

// PasswordValidator checks a username/password pair.
type PasswordValidator func(ctx context.Context, username string, password []byte) (bool, error)

// SubjectCallbackHandler applies principal callbacks to subjects and delegates
// password validation to an optional validator.
type SubjectCallbackHandler struct {
	validate PasswordValidator
}

// NewSubjectCallbackHandler creates the default handler. A nil validator
// rejects every password.
func NewSubjectCallbackHandler(validate PasswordValidator) *SubjectCallbackHandler {
	return &SubjectCallbackHandler{validate: validate}
}

// Handle services every callback in order and stops at the first failure.
func (h *SubjectCallbackHandler) Handle(ctx context.Context, callbacks []domain.Callback) error {
	for _, cb := range callbacks {
		switch c := cb.(type) {
		case *domain.CallerPrincipalCallback:
			if c.Subject != nil && c.Name != "" {
				c.Subject.AddPrincipal(domain.Principal{Name: c.Name})
			}
		case *domain.GroupPrincipalCallback:
			if c.Subject == nil {
				continue
			}
			for _, g := range c.Groups {
				c.Subject.AddPrincipal(domain.Principal{Name: g, Group: true})
			}
		case *domain.PasswordValidationCallback:
			c.Result = false
			if h.validate != nil {
				ok, err := h.validate(ctx, c.Username, c.Password)
				if err != nil {
					return fmt.Errorf("password validation for %q: %w", c.Username, err)
				}
				c.Result = ok
			}
			if c.Result && c.Subject != nil {
				c.Subject.AddPrincipal(domain.Principal{Name: c.Username})
			}
		default:
			return fmt.Errorf("%w: %s", domain.ErrUnsupportedCallback, cb.CallbackName())
		}
	}
	return nil
}
