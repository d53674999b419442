package policy

import (
	"github.com/polisai/authchain/pkg/domain"
)

// Message property keys read by the delegates.
const (
	// MandatoryKey holds the HttpServlet profile flag ("true"/"false" or bool).
	MandatoryKey = "authchain.policy.mandatory"
	// AuthContextIDKey holds an explicit auth context id.
	AuthContextIDKey = "authchain.auth_context_id"

	requestSourceProp     = "request.authSource"
	requestRecipientProp  = "request.authRecipient"
	responseSourceProp    = "response.authSource"
	responseRecipientProp = "response.authRecipient"
)

// DefaultContextID is the configuration key that applies to any auth context
// without an entry of its own.
const DefaultContextID = "default"

// Delegate decides the policies and message types of the auth contexts of one
// message layer.
type Delegate interface {
	RequestPolicy(authContextID string, props map[string]any) *domain.MessagePolicy
	ResponsePolicy(authContextID string, props map[string]any) *domain.MessagePolicy
	AuthContextID(msg *domain.MessageInfo) string
	MessageTypes() []domain.MessageType
	IsProtected() bool
}

// ProfileDelegate implements the HttpServlet profile: the auth context id is
// the mandatory flag and only a request policy exists.
type ProfileDelegate struct{}

// RequestPolicy returns Mandatory or Optional.
func (ProfileDelegate) RequestPolicy(authContextID string, _ map[string]any) *domain.MessagePolicy {
	return ProfilePolicies(authContextID)[0]
}

// ResponsePolicy is always nil for this profile.
func (ProfileDelegate) ResponsePolicy(authContextID string, _ map[string]any) *domain.MessagePolicy {
	return ProfilePolicies(authContextID)[1]
}

// AuthContextID maps the message's mandatory flag to "true" or "false".
func (ProfileDelegate) AuthContextID(msg *domain.MessageInfo) string {
	if msg == nil {
		return "false"
	}
	raw, ok := msg.Get(MandatoryKey)
	if !ok {
		return "false"
	}
	switch v := raw.(type) {
	case bool:
		if v {
			return "true"
		}
	case string:
		if ParseFlag(v) {
			return "true"
		}
	}
	return "false"
}

// MessageTypes returns the HTTP request/response types.
func (ProfileDelegate) MessageTypes() []domain.MessageType {
	return []domain.MessageType{domain.MessageTypeHTTPRequest, domain.MessageTypeHTTPResponse}
}

// IsProtected is always true for the profile.
func (ProfileDelegate) IsProtected() bool {
	return true
}

// ContextPolicies holds the configured request/response specs of one auth context.
type ContextPolicies struct {
	Request  *Spec
	Response *Spec
}

// SpecDelegate serves policies from configuration, keyed by auth context id
// with a DefaultContextID fallback. Callers may override the tokens per call
// through the request.authSource/request.authRecipient (and response.*)
// properties.
type SpecDelegate struct {
	policies     map[string]ContextPolicies
	messageTypes []domain.MessageType
}

// NewSpecDelegate builds a SpecDelegate. An empty messageTypes list requires
// no particular message type.
func NewSpecDelegate(policies map[string]ContextPolicies, messageTypes []domain.MessageType) *SpecDelegate {
	copied := make(map[string]ContextPolicies, len(policies))
	for id, p := range policies {
		copied[id] = p
	}
	return &SpecDelegate{
		policies:     copied,
		messageTypes: append([]domain.MessageType(nil), messageTypes...),
	}
}

func (d *SpecDelegate) lookup(authContextID string) ContextPolicies {
	if p, ok := d.policies[authContextID]; ok {
		return p
	}
	return d.policies[DefaultContextID]
}

// RequestPolicy builds the request policy of authContextID.
func (d *SpecDelegate) RequestPolicy(authContextID string, props map[string]any) *domain.MessagePolicy {
	return withOverrides(d.lookup(authContextID).Request, props, requestSourceProp, requestRecipientProp).Build()
}

// ResponsePolicy builds the response policy of authContextID.
func (d *SpecDelegate) ResponsePolicy(authContextID string, props map[string]any) *domain.MessagePolicy {
	return withOverrides(d.lookup(authContextID).Response, props, responseSourceProp, responseRecipientProp).Build()
}

// AuthContextID reads the explicit id property, falling back to DefaultContextID.
func (d *SpecDelegate) AuthContextID(msg *domain.MessageInfo) string {
	if msg != nil {
		if raw, ok := msg.Get(AuthContextIDKey); ok {
			if id, ok := raw.(string); ok && id != "" {
				return id
			}
		}
	}
	return DefaultContextID
}

// MessageTypes returns the configured required message types.
func (d *SpecDelegate) MessageTypes() []domain.MessageType {
	return append([]domain.MessageType(nil), d.messageTypes...)
}

// IsProtected reports whether any context carries a mandatory policy.
func (d *SpecDelegate) IsProtected() bool {
	for _, p := range d.policies {
		if p.Request.Build().IsMandatory() || p.Response.Build().IsMandatory() {
			return true
		}
	}
	return false
}

func withOverrides(spec *Spec, props map[string]any, sourceKey, recipientKey string) *Spec {
	source, hasSource := props[sourceKey].(string)
	recipient, hasRecipient := props[recipientKey].(string)
	if !hasSource && !hasRecipient {
		return spec
	}

	out := Spec{}
	if spec != nil {
		out = *spec
	}
	if hasSource {
		out.AuthSource = source
	}
	if hasRecipient {
		out.AuthRecipient = Recipient(recipient)
	}
	return &out
}
