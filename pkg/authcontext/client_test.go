package authcontext

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/policy"
	"github.com/polisai/authchain/pkg/registry"
)

func TestClientContextInitializesPresentModulesEagerly(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)
	h.server("srv", nil)
	h.client("b", nil)

	cfg := h.clientConfig(registry.StaticSource{
		"true": {
			{ID: "a", Options: map[string]any{"realm": "module-a"}},
			{ID: "srv"},
			{ID: "b"},
		},
	}, false)

	props := map[string]any{"realm": "caller", "trace": "t-1"}
	ac, err := cfg.AuthContext(context.Background(), "true", domain.NewSubject(), props)
	require.NoError(t, err)
	require.NotNil(t, ac)

	assert.Equal(t, []string{"a.init", "b.init"}, h.log.snapshot())

	a := h.instances("a")[0]
	assert.Equal(t, 1, a.initCount)
	assert.Equal(t, map[string]any{"realm": "module-a", "trace": "t-1"}, a.options)
	assert.True(t, a.request.IsMandatory())
	assert.NotNil(t, a.handler)

	b := h.instances("b")[0]
	assert.Equal(t, props, b.options)

	assert.Equal(t, 0, h.instances("srv")[0].initCount, "server-only module is absent in a client chain")
	assert.Equal(t, []string{"a", "srv", "b"}, ac.ModuleIDs())
	assert.NotEmpty(t, ac.ID())
	assert.Equal(t, "true", ac.AuthContextID())
}

func TestClientSecureRequestRunsChainInOrder(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)
	h.client("b", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}, {ID: "b"}}}, false)
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	status, err := ac.SecureRequest(context.Background(), domain.NewMessageInfo(nil, nil), domain.NewSubject())
	require.NoError(t, err)
	assert.Equal(t, domain.SendSuccess, status)
	assert.Equal(t, []string{"a.init", "b.init", "a.secure_request", "b.secure_request"}, h.log.snapshot())
}

func TestClientSecureRequestStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)
	h.client("b", func(m *fakeModule) { m.status = domain.SendContinue })
	h.client("c", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}, {ID: "b"}, {ID: "c"}}}, false)
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	status, err := ac.SecureRequest(context.Background(), domain.NewMessageInfo(nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SendFailure, status)
	assert.NotContains(t, h.log.snapshot(), "c.secure_request")
}

func TestClientValidateResponseUsesValidateSuccessSet(t *testing.T) {
	h := newHarness(t)
	h.client("ok", func(m *fakeModule) { m.status = domain.Success })
	h.client("sends", func(m *fakeModule) { m.status = domain.SendSuccess })

	cfg := h.clientConfig(registry.StaticSource{
		"good": {{ID: "ok"}},
		"bad":  {{ID: "ok"}, {ID: "sends"}},
	}, false)

	good, err := cfg.AuthContext(context.Background(), "good", nil, nil)
	require.NoError(t, err)
	status, err := good.ValidateResponse(context.Background(), domain.NewMessageInfo(nil, nil), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Success, status)

	bad, err := cfg.AuthContext(context.Background(), "bad", nil, nil)
	require.NoError(t, err)
	status, err = bad.ValidateResponse(context.Background(), domain.NewMessageInfo(nil, nil), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SendFailure, status)
}

func TestClientDegenerateChainReturnsDefaultSuccess(t *testing.T) {
	h := newHarness(t)
	h.server("srv", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "srv"}}}, false)
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	status, err := ac.SecureRequest(context.Background(), domain.NewMessageInfo(nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SendSuccess, status)

	status, err = ac.ValidateResponse(context.Background(), domain.NewMessageInfo(nil, nil), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Success, status)

	require.NoError(t, ac.CleanSubject(context.Background(), domain.NewMessageInfo(nil, nil), nil))
}

func TestClientModuleErrorPropagates(t *testing.T) {
	boom := errors.New("token endpoint unreachable")
	h := newHarness(t)
	h.client("a", func(m *fakeModule) { m.opErr = boom })
	h.client("b", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}, {ID: "b"}}}, false)
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	status, err := ac.SecureRequest(context.Background(), domain.NewMessageInfo(nil, nil), nil)
	assert.Same(t, boom, err)
	assert.True(t, status.IsZero())
	assert.NotContains(t, h.log.snapshot(), "b.secure_request")
}

func TestClientCleanSubjectReturnsFirstErrorUnchanged(t *testing.T) {
	first := &domain.AuthError{Code: "clean", Message: "cannot remove principal"}
	h := newHarness(t)
	h.client("a", nil)
	h.client("b", func(m *fakeModule) { m.cleanErr = first })
	h.client("c", func(m *fakeModule) { m.cleanErr = errors.New("second") })

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}, {ID: "b"}, {ID: "c"}}}, false)
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	err = ac.CleanSubject(context.Background(), domain.NewMessageInfo(nil, nil), domain.NewSubject())
	assert.Same(t, first, err)

	calls := h.log.snapshot()
	assert.Contains(t, calls, "a.clean")
	assert.Contains(t, calls, "b.clean")
	assert.NotContains(t, calls, "c.clean")
}

func TestClientCleanSubjectStopsAtFirstModuleError(t *testing.T) {
	first := &domain.AuthError{Code: "clean", Message: "cannot remove credential"}
	h := newHarness(t)
	h.client("a", func(m *fakeModule) { m.cleanErr = first })
	h.client("b", nil)
	h.client("c", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}, {ID: "b"}, {ID: "c"}}}, false)
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	err = ac.CleanSubject(context.Background(), domain.NewMessageInfo(nil, nil), domain.NewSubject())
	assert.Same(t, first, err)

	calls := h.log.snapshot()
	assert.Contains(t, calls, "a.clean")
	assert.NotContains(t, calls, "b.clean")
	assert.NotContains(t, calls, "c.clean")
}

func TestClientAuthContextUnprotectedReturnsNil(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}}}, true)

	ac, err := cfg.AuthContext(context.Background(), "unconfigured", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ac)
	assert.Empty(t, h.instances("a"))

	ac, err = cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, ac)
}

func TestClientAuthContextServerOnlyContextIsUnprotected(t *testing.T) {
	h := newHarness(t)
	h.server("srv", nil)
	h.client("cli", nil)

	cfg := h.clientConfig(registry.StaticSource{
		"server-only": {{ID: "srv"}},
		"mixed":       {{ID: "srv"}, {ID: "cli"}},
	}, true)

	ac, err := cfg.AuthContext(context.Background(), "server-only", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ac)

	ac, err = cfg.AuthContext(context.Background(), "mixed", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, ac)
	assert.Equal(t, []string{"srv", "cli"}, ac.ModuleIDs())
}

func TestClientConfigIsProtected(t *testing.T) {
	tests := []struct {
		name       string
		returnNull bool
		delegate   policy.Delegate
		want       bool
	}{
		{"every context built", false, policy.NewSpecDelegate(nil, nil), true},
		{"null contexts without mandatory policy", true, policy.NewSpecDelegate(nil, nil), false},
		{"null contexts with mandatory policy", true, policy.NewSpecDelegate(map[string]policy.ContextPolicies{
			"ctx": {Request: &policy.Spec{AuthSource: policy.SourceSender}},
		}, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			cfg, err := NewClientConfig(Options{
				Manager:  h.manager(registry.StaticSource{}, tt.returnNull),
				Delegate: tt.delegate,
				Handler:  domain.CallbackHandlerFunc(func(context.Context, []domain.Callback) error { return nil }),
				Logger:   quietLogger(),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.IsProtected())
		})
	}
}

func TestClientAuthContextIsCachedPerEpoch(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}}}, false)
	subject := domain.NewSubject(domain.Principal{Name: "alice"})

	first, err := cfg.AuthContext(context.Background(), "ctx", subject, nil)
	require.NoError(t, err)
	second, err := cfg.AuthContext(context.Background(), "ctx", subject, nil)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, h.instances("a"), 1)

	require.NoError(t, cfg.Refresh(context.Background()))

	third, err := cfg.AuthContext(context.Background(), "ctx", subject, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, uint64(0), first.Epoch())
	assert.Equal(t, uint64(1), third.Epoch())
	assert.Len(t, h.instances("a"), 2)
	assert.Equal(t, 1, h.instances("a")[1].initCount)
}

func TestClientAuthContextLoadFailure(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}, {ID: "missing"}}}, false)

	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	assert.Nil(t, ac)
	assert.ErrorIs(t, err, domain.ErrModuleLoad)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing", cfgErr.ModuleID)
}

func TestClientAuthContextRejectsUnsupportedMessageType(t *testing.T) {
	h := newHarness(t)
	h.client("rpc", func(m *fakeModule) { m.types = []domain.MessageType{"grpc.request"} })

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "rpc"}}}, false)

	_, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedMessageType)
	assert.Equal(t, 0, h.instances("rpc")[0].initCount)
}

func TestClientAuthContextInitializeFailureIsNotCached(t *testing.T) {
	initErr := errors.New("missing signing key")
	fail := true
	h := newHarness(t)
	h.client("a", func(m *fakeModule) {
		if fail {
			m.initErr = initErr
		}
	})

	cfg := h.clientConfig(registry.StaticSource{"ctx": {{ID: "a"}}}, false)

	_, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	assert.ErrorIs(t, err, initErr)

	fail = false
	ac, err := cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, ac)
}

func TestClientConfigResolvesDefaultHandler(t *testing.T) {
	h := newHarness(t)
	h.client("a", nil)

	resolver := policy.NewHandlerResolver(policy.HandlerConfig{Name: "custom"}, quietLogger())
	manager := h.manager(registry.StaticSource{"ctx": {{ID: "a"}}}, false)

	cfg, err := NewClientConfig(Options{Manager: manager, Resolver: resolver, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.ErrorIs(t, err, domain.ErrModuleLoad, "unknown handler name")

	custom := domain.CallbackHandlerFunc(func(context.Context, []domain.Callback) error { return nil })
	resolver.Register("custom", func() (domain.CallbackHandler, error) { return custom, nil })

	_, err = cfg.AuthContext(context.Background(), "ctx", nil, nil)
	require.NoError(t, err)

	instances := h.instances("a")
	assert.NotNil(t, instances[len(instances)-1].handler)
}

func TestClientConfigAccessors(t *testing.T) {
	h := newHarness(t)
	cfg := h.clientConfig(registry.StaticSource{}, false)

	assert.Equal(t, "HttpServlet", cfg.MessageLayer())
	assert.Equal(t, "test /app", cfg.AppContext())
	assert.True(t, cfg.IsProtected())

	msg := domain.NewMessageInfo(nil, nil)
	assert.Equal(t, "false", cfg.AuthContextID(msg))
	msg.Set(policy.MandatoryKey, "TRUE")
	assert.Equal(t, "true", cfg.AuthContextID(msg))
}

func TestNewClientConfigRequiresManager(t *testing.T) {
	_, err := NewClientConfig(Options{})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}
