package regoauth

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the default decision path (e.g. "authchain/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Input is the document a decision is evaluated against.
type Input struct {
	AuthContextID string
	Method        string
	Path          string
	Principals    []string
	Groups        []string
	Claims        map[string]any
	Attributes    map[string]any
	// DisableCache bypasses the decision cache for this evaluation.
	DisableCache bool
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow    bool
	Reason   string
	Metadata map[string]string
}

// Engine evaluates authorization decisions using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	logger        *slog.Logger

	mu      sync.RWMutex
	queries map[string]*rego.PreparedEvalQuery
}

const (
	defaultEntrypoint    = "authchain/decision"
	defaultCacheCapacity = 1024
)

// NewEngine parses the modules and prepares the default entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(opts.Modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
		logger:        logger,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	// Compile the default entrypoint now so syntax errors fail initialization.
	if _, err := engine.preparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate runs the entrypoint against input. An undefined result denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	key, cacheable := e.cacheKey(input)
	if cacheable {
		if cached, ok := e.cache.Get(key); ok {
			return cloneDecision(cached), nil
		}
	}

	prepared, err := e.preparedQuery(ctx, e.entrypoint)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(inputDocument(input)))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	decision := Decision{Reason: "undefined decision", Metadata: map[string]string{}}
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		decision, err = parseDecision(results[0].Expressions[0].Value)
		if err != nil {
			return Decision{}, err
		}
	}
	e.logger.Debug("rego decision evaluated",
		"entrypoint", e.entrypoint,
		"auth_context_id", input.AuthContextID,
		"allow", decision.Allow,
		"reason", decision.Reason,
	)

	if cacheable {
		e.cache.Add(key, decision)
	}
	return cloneDecision(decision), nil
}

// FlushCache clears all cached decisions.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) preparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; keep the first.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &prepared
	return &prepared, nil
}

// cacheKey hashes the identity and request fields of input. Inputs carrying
// claims or attributes are not cached.
func (e *Engine) cacheKey(input Input) (uint64, bool) {
	if e.cache == nil || input.DisableCache || len(input.Claims) > 0 || len(input.Attributes) > 0 {
		return 0, false
	}

	d := xxhash.New()
	writeField := func(value string) {
		_, _ = d.WriteString(value)
		_, _ = d.Write([]byte{0})
	}
	writeField(e.entrypoint)
	writeField(input.AuthContextID)
	writeField(input.Method)
	writeField(input.Path)
	writeField(strings.Join(normalizeStringSlice(input.Principals), ","))
	writeField(strings.Join(normalizeStringSlice(input.Groups), ","))
	return d.Sum64(), true
}

func inputDocument(input Input) map[string]any {
	return map[string]any{
		"auth_context_id": input.AuthContextID,
		"method":          input.Method,
		"path":            input.Path,
		"principals":      normalizeStringSlice(input.Principals),
		"groups":          normalizeStringSlice(input.Groups),
		"claims":          cloneAnyMap(input.Claims),
		"attributes":      cloneAnyMap(input.Attributes),
	}
}

// parseDecision accepts a bare boolean or an object with allow, reason and
// metadata fields.
func parseDecision(value any) (Decision, error) {
	switch v := value.(type) {
	case bool:
		return Decision{Allow: v, Metadata: map[string]string{}}, nil
	case map[string]any:
		allow, ok := v["allow"].(bool)
		if !ok && v["allow"] != nil {
			return Decision{}, fmt.Errorf("opa decision: allow must be bool, got %T", v["allow"])
		}
		reason, _ := v["reason"].(string)
		return Decision{Allow: allow, Reason: reason, Metadata: parseMetadata(v["metadata"])}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

func parseMetadata(value any) map[string]string {
	typed, ok := value.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	result := make(map[string]string, len(typed))
	for key, raw := range typed {
		if str, ok := raw.(string); ok {
			result[key] = str
		}
	}
	return result
}

func normalizeStringSlice(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	normalized := append([]string(nil), input...)
	sort.Strings(normalized)
	return normalized
}

func cloneDecision(dec Decision) Decision {
	metadata := make(map[string]string, len(dec.Metadata))
	for k, v := range dec.Metadata {
		metadata[k] = v
	}
	return Decision{Allow: dec.Allow, Reason: dec.Reason, Metadata: metadata}
}

func cloneAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[uint64]*list.Element
}

type cacheItem struct {
	key   uint64
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[uint64]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key uint64) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key uint64, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})
	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[uint64]*list.Element, c.max)
}
