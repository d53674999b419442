package authcontext

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/loader"
	"github.com/polisai/authchain/pkg/registry"
)

// journal records module invocations across a test.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(call string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, call)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakeModule struct {
	name      string
	log       *journal
	types     []domain.MessageType
	status    domain.AuthStatus
	opErr     error
	cleanErr  error
	initErr   error
	mechs     []string
	initCount int
	options   map[string]any
	handler   domain.CallbackHandler
	request   *domain.MessagePolicy
}

func (m *fakeModule) SupportedMessageTypes() []domain.MessageType {
	if m.types == nil {
		return []domain.MessageType{domain.MessageTypeAny}
	}
	return m.types
}

func (m *fakeModule) Initialize(_ context.Context, req, _ *domain.MessagePolicy, handler domain.CallbackHandler, options map[string]any) error {
	m.initCount++
	m.options = options
	m.handler = handler
	m.request = req
	m.log.add(m.name + ".init")
	return m.initErr
}

func (m *fakeModule) invoke(op string) (domain.AuthStatus, error) {
	m.log.add(m.name + "." + op)
	return m.status, m.opErr
}

func (m *fakeModule) clean() error {
	m.log.add(m.name + ".clean")
	return m.cleanErr
}

type fakeClient struct{ *fakeModule }

func (m fakeClient) SecureRequest(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return m.invoke("secure_request")
}

func (m fakeClient) ValidateResponse(context.Context, *domain.MessageInfo, *domain.Subject, *domain.Subject) (domain.AuthStatus, error) {
	return m.invoke("validate_response")
}

func (m fakeClient) CleanSubject(context.Context, *domain.MessageInfo, *domain.Subject) error {
	return m.clean()
}

type fakeServer struct{ *fakeModule }

func (m fakeServer) ValidateRequest(context.Context, *domain.MessageInfo, *domain.Subject, *domain.Subject) (domain.AuthStatus, error) {
	return m.invoke("validate_request")
}

func (m fakeServer) SecureResponse(context.Context, *domain.MessageInfo, *domain.Subject) (domain.AuthStatus, error) {
	return m.invoke("secure_response")
}

func (m fakeServer) CleanSubject(context.Context, *domain.MessageInfo, *domain.Subject) error {
	return m.clean()
}

func (m fakeServer) Mechanisms() []string { return m.mechs }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a loader whose constructors hand out fresh fake modules and
// remembers every instance it created.
type harness struct {
	t       *testing.T
	log     *journal
	loader  *loader.Registry
	mu      sync.Mutex
	created map[string][]*fakeModule
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:       t,
		log:     &journal{},
		loader:  loader.NewRegistry(),
		created: make(map[string][]*fakeModule),
	}
}

func (h *harness) client(name string, configure func(*fakeModule)) {
	h.loader.Register(name, "", func() (any, error) {
		return fakeClient{h.newModule(name, configure)}, nil
	})
}

func (h *harness) server(name string, configure func(*fakeModule)) {
	h.loader.Register(name, "", func() (any, error) {
		return fakeServer{h.newModule(name, configure)}, nil
	})
}

func (h *harness) newModule(name string, configure func(*fakeModule)) *fakeModule {
	m := &fakeModule{name: name, log: h.log, status: domain.SendSuccess}
	if configure != nil {
		configure(m)
	}
	h.mu.Lock()
	h.created[name] = append(h.created[name], m)
	h.mu.Unlock()
	return m
}

func (h *harness) instances(name string) []*fakeModule {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeModule(nil), h.created[name]...)
}

func (h *harness) manager(source registry.Source, returnNull bool) *registry.Manager {
	m, err := registry.NewManager(context.Background(), registry.ManagerOptions{
		Source:             source,
		Loader:             h.loader,
		Logger:             quietLogger(),
		ReturnNullContexts: returnNull,
		AppContext:         "test /app",
	})
	require.NoError(h.t, err)
	return m
}

func (h *harness) clientConfig(source registry.Source, returnNull bool) *ClientConfig {
	cfg, err := NewClientConfig(Options{
		Layer:      "HttpServlet",
		AppContext: "test /app",
		Manager:    h.manager(source, returnNull),
		Handler:    domain.CallbackHandlerFunc(func(context.Context, []domain.Callback) error { return nil }),
		Logger:     quietLogger(),
	})
	require.NoError(h.t, err)
	return cfg
}

func (h *harness) serverConfig(source registry.Source, returnNull bool) *ServerConfig {
	cfg, err := NewServerConfig(Options{
		Layer:      "HttpServlet",
		AppContext: "test /app",
		Manager:    h.manager(source, returnNull),
		Handler:    domain.CallbackHandlerFunc(func(context.Context, []domain.Callback) error { return nil }),
		Logger:     quietLogger(),
	})
	require.NoError(h.t, err)
	return cfg
}
