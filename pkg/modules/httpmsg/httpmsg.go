// Package httpmsg gives the built-in modules typed access to the net/http
// values carried by a domain.MessageInfo.
package httpmsg

import (
	"net/http"
	"strings"

	"github.com/polisai/authchain/pkg/domain"
)

// MessageTypes lists the types every HTTP module supports.
var MessageTypes = []domain.MessageType{domain.MessageTypeHTTPRequest, domain.MessageTypeHTTPResponse}

// Request returns the *http.Request of msg.
func Request(msg *domain.MessageInfo) (*http.Request, bool) {
	if msg == nil {
		return nil, false
	}
	r, ok := msg.Request.(*http.Request)
	return r, ok && r != nil
}

// ResponseHeader returns the header of the response carried by msg. The
// response is either a server-side http.ResponseWriter or a client-side
// *http.Response.
func ResponseHeader(msg *domain.MessageInfo) (http.Header, bool) {
	if msg == nil {
		return nil, false
	}
	switch r := msg.Response.(type) {
	case http.ResponseWriter:
		return r.Header(), true
	case *http.Response:
		if r == nil {
			return nil, false
		}
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		return r.Header, true
	default:
		return nil, false
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(h http.Header) (string, bool) {
	header := h.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(header[7:]), true
}

// Track remembers principals a module added to a subject during this
// exchange so CleanSubject can remove exactly those.
func Track(msg *domain.MessageInfo, key string, principals ...domain.Principal) {
	if msg == nil || len(principals) == 0 {
		return
	}
	existing := Tracked(msg, key)
	msg.Set(key, append(existing, principals...))
}

// Tracked returns the principals recorded under key.
func Tracked(msg *domain.MessageInfo, key string) []domain.Principal {
	if msg == nil {
		return nil
	}
	raw, ok := msg.Get(key)
	if !ok {
		return nil
	}
	principals, _ := raw.([]domain.Principal)
	return append([]domain.Principal(nil), principals...)
}

// Untrack removes the principals recorded under key from subject.
func Untrack(msg *domain.MessageInfo, key string, subject *domain.Subject) {
	if subject == nil {
		return
	}
	for _, p := range Tracked(msg, key) {
		subject.RemovePrincipal(p)
	}
	if msg != nil {
		msg.Set(key, []domain.Principal(nil))
	}
}

// Challenge sets a WWW-Authenticate header on the response of msg.
func Challenge(msg *domain.MessageInfo, value string) {
	if h, ok := ResponseHeader(msg); ok {
		h.Add("WWW-Authenticate", value)
	}
}
