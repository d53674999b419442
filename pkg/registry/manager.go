package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/polisai/authchain/pkg/domain"
)

// DefaultContextID is the entry key used for auth contexts without modules of
// their own.
const DefaultContextID = "default"

// ModuleEntry is one configured module of an auth context.
type ModuleEntry struct {
	ID      string
	Options map[string]any
}

// Modules maps auth context ids to their ordered module entries.
type Modules map[string][]ModuleEntry

// Source loads the module configuration. Load is called at construction and
// on every Refresh.
type Source interface {
	Load(ctx context.Context) (Modules, error)
}

// NullContextPolicy is implemented by sources whose configuration decides
// whether unconfigured auth contexts are unprotected. The manager reads it
// after every successful load and it overrides ManagerOptions.ReturnNullContexts.
type NullContextPolicy interface {
	ReturnsNullContexts() bool
}

// StaticSource serves a fixed module configuration.
type StaticSource Modules

// Load returns the static configuration.
func (s StaticSource) Load(context.Context) (Modules, error) {
	return Modules(s), nil
}

// Instantiator constructs module instances by identifier.
type Instantiator interface {
	Instantiate(id string) (any, error)
}

// ManagerOptions holds dependencies for creating a Manager.
type ManagerOptions struct {
	Source Source
	Loader Instantiator
	Logger *slog.Logger
	// ReturnNullContexts makes IsProtected report false for auth contexts
	// without configured modules. When false every context is protected.
	ReturnNullContexts bool
	AppContext         string
}

// Manager resolves module chains per auth context and owns the epoch.
type Manager struct {
	source             Source
	loader             Instantiator
	logger             *slog.Logger
	appContext         string
	returnNullContexts atomic.Bool

	epoch atomic.Uint64

	mu        sync.RWMutex
	modules   Modules
	sides     map[sideKey]bool
	listeners []func(epoch uint64)
}

// sideKey memoizes IsProtectedFor per auth context and module type.
type sideKey struct {
	authContextID string
	side          reflect.Type
}

// NewManager creates a manager and performs the initial load.
func NewManager(ctx context.Context, opts ManagerOptions) (*Manager, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("module loader is required: %w", domain.ErrConfigInvalid)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := opts.Source
	if source == nil {
		source = StaticSource(nil)
	}

	m := &Manager{
		source:     source,
		loader:     opts.Loader,
		logger:     logger,
		appContext: opts.AppContext,
		sides:      make(map[sideKey]bool),
	}
	m.returnNullContexts.Store(opts.ReturnNullContexts)

	modules, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load module configuration: %w", err)
	}
	m.modules = cloneModules(modules)
	m.loadNullContextPolicy()
	return m, nil
}

// Epoch returns the current configuration generation.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}

// ReturnsNullContexts reports whether unconfigured contexts are unprotected.
func (m *Manager) ReturnsNullContexts() bool {
	return m.returnNullContexts.Load()
}

func (m *Manager) loadNullContextPolicy() {
	if p, ok := m.source.(NullContextPolicy); ok {
		m.returnNullContexts.Store(p.ReturnsNullContexts())
	}
}

// OnRefresh registers fn to run after every successful Refresh.
func (m *Manager) OnRefresh(fn func(epoch uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Refresh reloads the module configuration and advances the epoch, which
// invalidates every context built under the previous epoch. On a load
// failure the previous configuration and epoch are kept.
func (m *Manager) Refresh(ctx context.Context) error {
	modules, err := m.source.Load(ctx)
	if err != nil {
		m.logger.Error("module configuration reload failed",
			"app_context", m.appContext,
			"epoch", m.Epoch(),
			"error", err,
		)
		return fmt.Errorf("reload module configuration: %w", err)
	}

	m.mu.Lock()
	m.modules = cloneModules(modules)
	m.sides = make(map[sideKey]bool)
	m.loadNullContextPolicy()
	epoch := m.epoch.Add(1)
	listeners := make([]func(uint64), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("module registry refreshed",
		"app_context", m.appContext,
		"epoch", epoch,
		"auth_contexts", len(modules),
	)

	for _, fn := range listeners {
		fn(epoch)
	}
	return nil
}

// entries returns the module entries of authContextID, falling back to the
// default entry.
func (m *Manager) entries(authContextID string) []ModuleEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entries, ok := m.modules[authContextID]; ok {
		return entries
	}
	return m.modules[DefaultContextID]
}

// IsProtected reports whether any module is configured for authContextID,
// regardless of side. When ReturnNullContexts is off every context is
// protected. Config lookups use IsProtectedFor, which honours the side.
func (m *Manager) IsProtected(authContextID string) bool {
	if !m.ReturnsNullContexts() {
		return true
	}
	return len(m.entries(authContextID)) > 0
}

// HasModules reports whether any module is configured for authContextID.
func (m *Manager) HasModules(authContextID string) bool {
	return len(m.entries(authContextID)) > 0
}

// InitProperties merges the options of module i of authContextID over props.
func (m *Manager) InitProperties(authContextID string, i int, props map[string]any) map[string]any {
	return initProperties(m.entries(authContextID), i, props)
}

// IsProtectedFor reports whether an auth context of module type M must be
// built for authContextID. When ReturnNullContexts is on, a context none of
// whose configured modules implements M is unprotected on that side. The
// answer is kept until the next Refresh.
func IsProtectedFor[M any](m *Manager, authContextID string) (bool, error) {
	if !m.ReturnsNullContexts() {
		return true, nil
	}

	key := sideKey{authContextID: authContextID, side: reflect.TypeFor[M]()}
	m.mu.RLock()
	protected, ok := m.sides[key]
	m.mu.RUnlock()
	if ok {
		return protected, nil
	}

	chain, err := Resolve[M](m, authContextID)
	if err != nil {
		return false, err
	}
	protected = chain.PresentCount() > 0

	m.mu.Lock()
	if m.epoch.Load() == chain.Epoch {
		m.sides[key] = protected
	}
	m.mu.Unlock()
	return protected, nil
}

// Chain is the result of resolving the modules of one auth context.
type Chain[M any] struct {
	AuthContextID string
	Epoch         uint64
	Slots         []Slot[M]
	entries       []ModuleEntry
}

// InitProperties merges the options of slot i over props. Options configured
// for the module win over caller-supplied properties.
func (c *Chain[M]) InitProperties(i int, props map[string]any) map[string]any {
	return initProperties(c.entries, i, props)
}

// PresentCount returns the number of present slots.
func (c *Chain[M]) PresentCount() int {
	n := 0
	for _, s := range c.Slots {
		if s.IsPresent() {
			n++
		}
	}
	return n
}

// Resolve instantiates the modules configured for authContextID. Instances
// that do not implement M become absent slots. A module that cannot be
// instantiated is a configuration error: it is logged and returned.
func Resolve[M any](m *Manager, authContextID string) (*Chain[M], error) {
	m.mu.RLock()
	epoch := m.epoch.Load()
	entries, ok := m.modules[authContextID]
	if !ok {
		entries = m.modules[DefaultContextID]
	}
	m.mu.RUnlock()

	chain := &Chain[M]{
		AuthContextID: authContextID,
		Epoch:         epoch,
		Slots:         make([]Slot[M], len(entries)),
		entries:       entries,
	}

	for i, entry := range entries {
		instance, err := m.loader.Instantiate(entry.ID)
		if err != nil {
			m.logger.Error("unable to load auth module",
				"auth_context_id", authContextID,
				"app_context", m.appContext,
				"module_id", entry.ID,
				"error", err,
			)
			if !errors.Is(err, domain.ErrModuleLoad) {
				err = errors.Join(domain.ErrModuleLoad, err)
			}
			return nil, &domain.ConfigurationError{
				AuthContextID: authContextID,
				AppContext:    m.appContext,
				ModuleID:      entry.ID,
				Err:           err,
			}
		}

		if module, ok := instance.(M); ok {
			chain.Slots[i] = Present(entry.ID, module)
		} else {
			chain.Slots[i] = Absent[M](entry.ID)
		}
	}

	return chain, nil
}

func initProperties(entries []ModuleEntry, i int, props map[string]any) map[string]any {
	merged := make(map[string]any, len(props))
	for k, v := range props {
		merged[k] = v
	}
	if i < 0 || i >= len(entries) {
		return merged
	}
	for k, v := range entries[i].Options {
		merged[k] = v
	}
	return merged
}

func cloneModules(in Modules) Modules {
	out := make(Modules, len(in))
	for id, entries := range in {
		copied := make([]ModuleEntry, len(entries))
		for i, e := range entries {
			opts := make(map[string]any, len(e.Options))
			for k, v := range e.Options {
				opts[k] = v
			}
			copied[i] = ModuleEntry{ID: e.ID, Options: opts}
		}
		out[id] = copied
	}
	return out
}
