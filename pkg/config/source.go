package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/policy"
	"github.com/polisai/authchain/pkg/registry"
)

// FileSource serves module entries from a configuration file. Every Load
// re-reads the file, so a registry Refresh picks up edits. The policy
// delegate and the return_null_contexts setting follow the same reloads.
type FileSource struct {
	path    string
	parsers ParserFactory
	logger  *slog.Logger

	mu       sync.RWMutex
	last     *Config
	delegate policy.Delegate
}

// NewFileSource creates a source for path. parsers resolves module config
// parsers and may be nil when no entry uses one.
func NewFileSource(path string, parsers ParserFactory, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, parsers: parsers, logger: logger}
}

// Load reads the file and converts its auth contexts to module entries. A
// failed load keeps the last good configuration.
func (s *FileSource) Load(_ context.Context) (registry.Modules, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	modules, err := cfg.Modules(s.parsers)
	if err != nil {
		return nil, err
	}

	delegate := cfg.PolicyDelegate()

	s.mu.Lock()
	s.last = cfg
	s.delegate = delegate
	s.mu.Unlock()

	s.logger.Debug("module configuration loaded",
		"path", s.path,
		"auth_contexts", len(modules),
	)
	return modules, nil
}

// Config returns the configuration of the last successful Load.
func (s *FileSource) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Path returns the watched file.
func (s *FileSource) Path() string {
	return s.path
}

// ReturnsNullContexts reports the return_null_contexts setting of the last
// good configuration.
func (s *FileSource) ReturnsNullContexts() bool {
	cfg := s.Config()
	return cfg != nil && cfg.ReturnNullContexts
}

// Delegate returns a policy delegate backed by the last good configuration.
// Contexts built after a Refresh see the reloaded policies and message types.
func (s *FileSource) Delegate() policy.Delegate {
	return sourceDelegate{src: s}
}

func (s *FileSource) policyDelegate() policy.Delegate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.delegate == nil {
		return policy.NewSpecDelegate(nil, nil)
	}
	return s.delegate
}

type sourceDelegate struct {
	src *FileSource
}

func (d sourceDelegate) RequestPolicy(authContextID string, props map[string]any) *domain.MessagePolicy {
	return d.src.policyDelegate().RequestPolicy(authContextID, props)
}

func (d sourceDelegate) ResponsePolicy(authContextID string, props map[string]any) *domain.MessagePolicy {
	return d.src.policyDelegate().ResponsePolicy(authContextID, props)
}

func (d sourceDelegate) AuthContextID(msg *domain.MessageInfo) string {
	return d.src.policyDelegate().AuthContextID(msg)
}

func (d sourceDelegate) MessageTypes() []domain.MessageType {
	return d.src.policyDelegate().MessageTypes()
}

func (d sourceDelegate) IsProtected() bool {
	return d.src.policyDelegate().IsProtected()
}
