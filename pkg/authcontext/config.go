package authcontext

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/authchain/pkg/cache"
	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/policy"
	"github.com/polisai/authchain/pkg/registry"
	"github.com/polisai/authchain/pkg/telemetry"
)

// Options holds dependencies shared by client and server configs.
type Options struct {
	// Layer names the message layer, e.g. "HttpServlet".
	Layer      string
	AppContext string
	Manager    *registry.Manager
	// Delegate decides policies and message types. Defaults to the
	// HttpServlet profile.
	Delegate policy.Delegate
	// Handler is passed to every module. When nil the Resolver default is
	// used, and when both are nil a resolver is built from the environment.
	Handler  domain.CallbackHandler
	Resolver *policy.HandlerResolver
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

type baseConfig struct {
	layer      string
	appContext string
	manager    *registry.Manager
	delegate   policy.Delegate
	handler    domain.CallbackHandler
	resolver   *policy.HandlerResolver
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

func newBaseConfig(opts Options) (baseConfig, error) {
	if opts.Manager == nil {
		return baseConfig{}, fmt.Errorf("module registry is required: %w", domain.ErrConfigInvalid)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delegate := opts.Delegate
	if delegate == nil {
		delegate = policy.ProfileDelegate{}
	}
	resolver := opts.Resolver
	if opts.Handler == nil && resolver == nil {
		resolver = policy.NewHandlerResolver(policy.HandlerConfigFromEnv(), logger)
	}

	return baseConfig{
		layer:      opts.Layer,
		appContext: opts.AppContext,
		manager:    opts.Manager,
		delegate:   delegate,
		handler:    opts.Handler,
		resolver:   resolver,
		logger:     logger.With("layer", opts.Layer, "app_context", opts.AppContext),
		metrics:    opts.Metrics,
	}, nil
}

// MessageLayer returns the message layer the config serves.
func (b *baseConfig) MessageLayer() string { return b.layer }

// AppContext returns the application context the config serves.
func (b *baseConfig) AppContext() string { return b.appContext }

// AuthContextID derives the auth context id of a message.
func (b *baseConfig) AuthContextID(msg *domain.MessageInfo) string {
	return b.delegate.AuthContextID(msg)
}

// IsProtected reports whether the config may hand out auth contexts. It is
// true unless unconfigured contexts are unprotected and the policy delegate
// demands no protection.
func (b *baseConfig) IsProtected() bool {
	return !b.manager.ReturnsNullContexts() || b.delegate.IsProtected()
}

// Refresh reloads the module registry. Contexts built before the refresh are
// replaced on their next lookup.
func (b *baseConfig) Refresh(ctx context.Context) error {
	err := b.manager.Refresh(ctx)
	b.metrics.RecordRegistryReload(b.manager.Epoch(), err)
	return err
}

func (b *baseConfig) callbackHandler() (domain.CallbackHandler, error) {
	if b.handler != nil {
		return b.handler, nil
	}
	return b.resolver.Default()
}

// ClientConfig hands out client auth contexts.
type ClientConfig struct {
	baseConfig
	cache *cache.ContextCache[*ClientContext]
}

// NewClientConfig creates a client config.
func NewClientConfig(opts Options) (*ClientConfig, error) {
	base, err := newBaseConfig(opts)
	if err != nil {
		return nil, err
	}
	return &ClientConfig{
		baseConfig: base,
		cache:      cache.New[*ClientContext](base.manager.Epoch),
	}, nil
}

// AuthContext returns the client context of authContextID for subject and
// props. It returns nil, nil when the auth context is not protected.
func (c *ClientConfig) AuthContext(ctx context.Context, authContextID string, subject *domain.Subject, props map[string]any) (*ClientContext, error) {
	protected, err := registry.IsProtectedFor[domain.ClientModule](c.manager, authContextID)
	if err != nil || !protected {
		return nil, err
	}

	built := false
	ac, err := c.cache.GetOrCreate(cache.KeyFor(authContextID, subject, props), func() (*ClientContext, error) {
		built = true
		cc, err := buildCore[domain.ClientModule](ctx, &c.baseConfig, sideClient, authContextID, props)
		if err != nil {
			return nil, err
		}
		return &ClientContext{core: cc}, nil
	})
	c.metrics.RecordCacheLookup(!built && err == nil)
	return ac, err
}

// ServerConfig hands out server auth contexts.
type ServerConfig struct {
	baseConfig
	cache *cache.ContextCache[*ServerContext]
}

// NewServerConfig creates a server config.
func NewServerConfig(opts Options) (*ServerConfig, error) {
	base, err := newBaseConfig(opts)
	if err != nil {
		return nil, err
	}
	return &ServerConfig{
		baseConfig: base,
		cache:      cache.New[*ServerContext](base.manager.Epoch),
	}, nil
}

// AuthContext returns the server context of authContextID for subject and
// props. It returns nil, nil when the auth context is not protected.
func (c *ServerConfig) AuthContext(ctx context.Context, authContextID string, subject *domain.Subject, props map[string]any) (*ServerContext, error) {
	protected, err := registry.IsProtectedFor[domain.ServerModule](c.manager, authContextID)
	if err != nil || !protected {
		return nil, err
	}

	built := false
	ac, err := c.cache.GetOrCreate(cache.KeyFor(authContextID, subject, props), func() (*ServerContext, error) {
		built = true
		cc, err := buildCore[domain.ServerModule](ctx, &c.baseConfig, sideServer, authContextID, props)
		if err != nil {
			return nil, err
		}
		return &ServerContext{core: cc}, nil
	})
	c.metrics.RecordCacheLookup(!built && err == nil)
	return ac, err
}

func buildCore[M domain.Module](ctx context.Context, b *baseConfig, side, authContextID string, props map[string]any) (*core[M], error) {
	cc, err := func() (*core[M], error) {
		chain, err := registry.Resolve[M](b.manager, authContextID)
		if err != nil {
			return nil, err
		}
		handler, err := b.callbackHandler()
		if err != nil {
			return nil, err
		}
		return newCore(ctx, buildParams[M]{
			side:           side,
			chain:          chain,
			requestPolicy:  b.delegate.RequestPolicy(authContextID, props),
			responsePolicy: b.delegate.ResponsePolicy(authContextID, props),
			messageTypes:   b.delegate.MessageTypes(),
			handler:        handler,
			props:          props,
			logger:         b.logger,
			metrics:        b.metrics,
		})
	}()
	b.metrics.RecordContextBuild(side, err)
	if err != nil {
		b.logger.Error("auth context construction failed",
			"side", side,
			"auth_context_id", authContextID,
			"error", err,
		)
	}
	return cc, err
}
