package loader

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/polisai/authchain/pkg/domain"
)

// Constructor builds a fresh module instance.
type Constructor func() (any, error)

// ConfigParser turns a raw configuration block into module options.
type ConfigParser interface {
	Initialize(config any) error
	Options() (map[string]any, error)
}

// ParserConstructor builds a fresh config parser.
type ParserConstructor func() (ConfigParser, error)

// LoadError reports that the module or parser identified by ID could not be
// constructed. Callers never distinguish the underlying cause.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("unable to load auth module for %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{domain.ErrModuleLoad, e.Err}
}

var errUnknownID = errors.New("no constructor registered")

// Metadata describes how an identifier was resolved.
type Metadata struct {
	Kind      string
	Version   string
	Canonical string
}

// Registry maps identifiers to constructors. Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	parsers      map[string]ParserConstructor
	aliases      map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		parsers:      make(map[string]ParserConstructor),
		aliases:      make(map[string]string),
	}
}

// Register adds a module constructor under kind@version and the given aliases.
// The bare kind becomes an alias of the first version registered for it.
func (r *Registry) Register(kind, version string, ctor Constructor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical := canonicalKey(kind, version)
	r.constructors[canonical] = ctor
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		r.aliases[alias] = canonical
	}
	if _, exists := r.aliases[kind]; !exists {
		r.aliases[kind] = canonical
	}
}

// RegisterParser adds a config parser constructor.
func (r *Registry) RegisterParser(id string, ctor ParserConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[strings.TrimSpace(id)] = ctor
}

// Resolve returns the constructor registered for raw.
func (r *Registry) Resolve(raw string) (Constructor, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, version := parseID(raw)
	canonical := canonicalKey(kind, version)
	if ctor, ok := r.constructors[canonical]; ok {
		return ctor, Metadata{Kind: kind, Version: version, Canonical: canonical}, true
	}
	if alias, ok := r.aliases[strings.TrimSpace(raw)]; ok {
		if ctor, ok := r.constructors[alias]; ok {
			return ctor, Metadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
		}
	}
	if version == "" {
		if alias, ok := r.aliases[kind]; ok {
			if ctor, ok := r.constructors[alias]; ok {
				return ctor, Metadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
			}
		}
	}
	return nil, Metadata{}, false
}

// Known lists the canonical identifiers in sorted order.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Instantiate constructs a new instance of the module identified by id.
func (r *Registry) Instantiate(id string) (instance any, err error) {
	ctor, _, ok := r.Resolve(id)
	if !ok {
		return nil, &LoadError{ID: id, Err: errUnknownID}
	}

	defer func() {
		if rec := recover(); rec != nil {
			instance = nil
			err = &LoadError{ID: id, Err: fmt.Errorf("constructor panic: %v", rec)}
		}
	}()

	instance, err = ctor()
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	if instance == nil {
		return nil, &LoadError{ID: id, Err: errors.New("constructor returned nil")}
	}
	return instance, nil
}

// NewConfigParser constructs and initializes the parser identified by id. An
// empty id means no parser and returns (nil, nil).
func (r *Registry) NewConfigParser(id string, config any) (parser ConfigParser, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	r.mu.RLock()
	ctor, ok := r.parsers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &LoadError{ID: id, Err: errUnknownID}
	}

	defer func() {
		if rec := recover(); rec != nil {
			parser = nil
			err = &LoadError{ID: id, Err: fmt.Errorf("constructor panic: %v", rec)}
		}
	}()

	parser, err = ctor()
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	if parser == nil {
		return nil, &LoadError{ID: id, Err: errors.New("constructor returned nil")}
	}
	if err := parser.Initialize(config); err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	return parser, nil
}

func parseID(raw string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(raw), "@", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func canonicalKey(kind, version string) string {
	kind = strings.TrimSpace(kind)
	version = strings.TrimSpace(version)
	if version == "" {
		return kind
	}
	return kind + "@" + version
}

func versionFromKey(key string) string {
	_, version := parseID(key)
	return version
}
