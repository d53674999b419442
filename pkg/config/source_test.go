package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/authchain/pkg/authcontext"
	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/modules"
	"github.com/polisai/authchain/pkg/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestYAMLParser(t *testing.T) {
	tests := []struct {
		name   string
		config any
		want   map[string]any
	}{
		{"nil", nil, map[string]any{}},
		{"mapping", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"document", "a: 1\nb: [x, y]", map[string]any{"a": 1, "b": []any{"x", "y"}}},
		{"bytes", []byte("a: true"), map[string]any{"a": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &YAMLParser{}
			require.NoError(t, p.Initialize(tt.config))
			got, err := p.Options()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestYAMLParserRejectsUnsupportedBlock(t *testing.T) {
	err := (&YAMLParser{}).Initialize(42)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	err = (&YAMLParser{}).Initialize("a: [unterminated")
	assert.Error(t, err)
}

func TestFileParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signing_key: s3cret\nttl: 60"), 0o600))

	reg := parsers()
	p, err := reg.NewConfigParser(ParserFile, path)
	require.NoError(t, err)
	opts, err := p.Options()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"signing_key": "s3cret", "ttl": 60}, opts)

	_, err = reg.NewConfigParser(ParserFile, 7)
	assert.ErrorIs(t, err, domain.ErrModuleLoad)
	_, err = reg.NewConfigParser(ParserFile, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrModuleLoad)
}

func TestFileSourceReloadsFromDisk(t *testing.T) {
	path := writeConfig(t, "auth_contexts:\n  default:\n    modules:\n      - id: static\n")
	src := NewFileSource(path, parsers(), quietLogger())

	entries, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []registry.ModuleEntry{{ID: "static", Options: map[string]any{}}}, entries["default"])
	require.NotNil(t, src.Config())
	assert.Equal(t, path, src.Path())

	require.NoError(t, os.WriteFile(path, []byte("auth_contexts:\n  default:\n    modules:\n      - id: api-key\n      - id: static\n"), 0o600))
	entries, err = src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries["default"], 2)
}

func TestFileSourceKeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, "app_context: first\n")
	src := NewFileSource(path, nil, quietLogger())
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("delegate: nope\n"), 0o600))
	_, err = src.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, "first", src.Config().AppContext)
}

func TestFileSourceDrivesManagerRefresh(t *testing.T) {
	path := writeConfig(t, "return_null_contexts: true\nauth_contexts:\n  orders:\n    modules:\n      - id: static\n")
	src := NewFileSource(path, parsers(), quietLogger())

	loader := instantiatorFunc(func(string) (any, error) { return struct{}{}, nil })
	m, err := registry.NewManager(context.Background(), registry.ManagerOptions{
		Source: src,
		Loader: loader,
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	assert.True(t, m.IsProtected("orders"))
	assert.False(t, m.IsProtected("billing"))

	require.NoError(t, os.WriteFile(path, []byte("return_null_contexts: true\nauth_contexts:\n  billing:\n    modules:\n      - id: static\n"), 0o600))
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, uint64(1), m.Epoch())
	assert.True(t, m.IsProtected("billing"))
	assert.False(t, m.IsProtected("orders"))

	require.NoError(t, os.WriteFile(path, []byte("auth_contexts:\n  billing:\n    modules:\n      - id: static\n"), 0o600))
	require.NoError(t, m.Refresh(context.Background()))
	assert.False(t, m.ReturnsNullContexts())
	assert.True(t, m.IsProtected("orders"))
}

const policyConfig = `
message_types: [http.request]
auth_contexts:
  orders:
    request:
      authSource: sender
    modules:
      - id: static
`

func TestFileSourceDelegateFollowsRefresh(t *testing.T) {
	path := writeConfig(t, policyConfig)
	reg := modules.NewRegistry()
	RegisterParsers(reg)
	src := NewFileSource(path, reg, quietLogger())

	m, err := registry.NewManager(context.Background(), registry.ManagerOptions{Source: src, Loader: reg, Logger: quietLogger()})
	require.NoError(t, err)
	cfg, err := authcontext.NewServerConfig(authcontext.Options{
		Manager:  m,
		Delegate: src.Delegate(),
		Handler:  domain.CallbackHandlerFunc(func(context.Context, []domain.Callback) error { return nil }),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	before, err := cfg.AuthContext(context.Background(), "orders", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProtectionPolicy{domain.AuthenticateSender}, before.RequestPolicy().Protections())
	assert.Nil(t, before.ResponsePolicy())

	edited := `
message_types: [http.request, http.response]
auth_contexts:
  orders:
    request:
      authSource: content
      authRecipient: before-content
    response:
      authSource: sender
    modules:
      - id: static
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o600))
	require.NoError(t, cfg.Refresh(context.Background()))

	after, err := cfg.AuthContext(context.Background(), "orders", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProtectionPolicy{domain.AuthenticateRecipient, domain.AuthenticateContent}, after.RequestPolicy().Protections())
	require.NotNil(t, after.ResponsePolicy())
	assert.Equal(t, []domain.ProtectionPolicy{domain.AuthenticateSender}, after.ResponsePolicy().Protections())
	assert.Equal(t, []domain.MessageType{domain.MessageTypeHTTPRequest, domain.MessageTypeHTTPResponse}, src.Delegate().MessageTypes())
}

func TestFileSourceDelegateBeforeLoad(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.yaml"), nil, quietLogger())
	assert.False(t, src.Delegate().IsProtected())
	assert.Nil(t, src.Delegate().RequestPolicy("orders", nil))
	assert.False(t, src.ReturnsNullContexts())
}

type instantiatorFunc func(id string) (any, error)

func (f instantiatorFunc) Instantiate(id string) (any, error) { return f(id) }

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "app_context: a\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(context.Context) error {
		reloads.Add(1)
		return nil
	}, quietLogger(), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.True(t, w.IsRunning())
	require.NoError(t, w.Start(ctx), "second start is a no-op")

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("app_context: b\n"), 0o600))
	}

	assert.Eventually(t, func() bool { return reloads.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(), "second stop is a no-op")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "app_context: a\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(context.Context) error {
		reloads.Add(1)
		return nil
	}, quietLogger(), WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	other := filepath.Join(filepath.Dir(path), "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("x: 1\n"), 0o600))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}

func TestNewWatcherRequiresReload(t *testing.T) {
	_, err := NewWatcher("x.yaml", nil, nil)
	assert.Error(t, err)
}
