package domain

import (
	"sort"
	"sync"
)

// MessageType identifies a message representation (e.g. "http.request").
type MessageType string

// Common message types.
const (
	MessageTypeHTTPRequest  MessageType = "http.request"
	MessageTypeHTTPResponse MessageType = "http.response"
	MessageTypeAny          MessageType = "*"
)

// MessageInfo carries the request/response pair of one exchange and a shared
// property map modules use to communicate.
type MessageInfo struct {
	Request  any
	Response any

	mu    sync.RWMutex
	props map[string]any
}

// NewMessageInfo builds a MessageInfo for a request/response pair.
func NewMessageInfo(request, response any) *MessageInfo {
	return &MessageInfo{Request: request, Response: response, props: make(map[string]any)}
}

// Get returns a message property.
func (m *MessageInfo) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.props[key]
	return v, ok
}

// Set stores a message property.
func (m *MessageInfo) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.props == nil {
		m.props = make(map[string]any)
	}
	m.props[key] = value
}

// Principal is a named identity attached to a subject.
type Principal struct {
	Name  string
	Group bool
}

// Subject groups the principals and credentials of one party of an exchange.
// Modules populate it during validation and remove what they added in CleanSubject.
type Subject struct {
	mu                 sync.RWMutex
	principals         []Principal
	publicCredentials  []any
	privateCredentials []any
}

// NewSubject returns a subject holding the given principals.
func NewSubject(principals ...Principal) *Subject {
	return &Subject{principals: append([]Principal(nil), principals...)}
}

// Principals returns a copy of the subject's principals.
func (s *Subject) Principals() []Principal {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Principal(nil), s.principals...)
}

// PrincipalNames returns the sorted principal names.
func (s *Subject) PrincipalNames() []string {
	principals := s.Principals()
	names := make([]string, 0, len(principals))
	for _, p := range principals {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// AddPrincipal adds p unless already present.
func (s *Subject) AddPrincipal(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.principals {
		if existing == p {
			return
		}
	}
	s.principals = append(s.principals, p)
}

// RemovePrincipal removes p if present.
func (s *Subject) RemovePrincipal(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.principals[:0]
	for _, existing := range s.principals {
		if existing != p {
			kept = append(kept, existing)
		}
	}
	s.principals = kept
}

// AddPublicCredential attaches a public credential.
func (s *Subject) AddPublicCredential(c any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicCredentials = append(s.publicCredentials, c)
}

// AddPrivateCredential attaches a private credential.
func (s *Subject) AddPrivateCredential(c any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privateCredentials = append(s.privateCredentials, c)
}

// PublicCredentials returns a copy of the public credentials.
func (s *Subject) PublicCredentials() []any {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]any(nil), s.publicCredentials...)
}

// PrivateCredentials returns a copy of the private credentials.
func (s *Subject) PrivateCredentials() []any {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]any(nil), s.privateCredentials...)
}

// ClearCredentials drops all credentials.
func (s *Subject) ClearCredentials() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicCredentials = nil
	s.privateCredentials = nil
}
