package domain

// ProtectionPolicy names the kind of authentication a target policy requires.
type ProtectionPolicy string

const (
	AuthenticateSender    ProtectionPolicy = "authenticate_sender"
	AuthenticateContent   ProtectionPolicy = "authenticate_content"
	AuthenticateRecipient ProtectionPolicy = "authenticate_recipient"
)

// Target selects a part of a message a protection applies to.
type Target interface {
	Name() string
}

// TargetPolicy pairs an optional target selector with a protection. Nil
// Targets means the protection applies to the whole message.
type TargetPolicy struct {
	Targets    []Target
	Protection ProtectionPolicy
}

// AnyTarget reports whether the policy applies to any target.
func (t TargetPolicy) AnyTarget() bool {
	return len(t.Targets) == 0
}

// MessagePolicy is an ordered, immutable sequence of target policies plus a
// mandatory flag.
type MessagePolicy struct {
	targetPolicies []TargetPolicy
	mandatory      bool
}

// NewMessagePolicy copies targetPolicies into a new MessagePolicy.
func NewMessagePolicy(targetPolicies []TargetPolicy, mandatory bool) *MessagePolicy {
	return &MessagePolicy{
		targetPolicies: append([]TargetPolicy(nil), targetPolicies...),
		mandatory:      mandatory,
	}
}

// TargetPolicies returns a copy of the ordered target policies.
func (p *MessagePolicy) TargetPolicies() []TargetPolicy {
	if p == nil {
		return nil
	}
	return append([]TargetPolicy(nil), p.targetPolicies...)
}

// Protections returns the protection of each target policy in order.
func (p *MessagePolicy) Protections() []ProtectionPolicy {
	if p == nil {
		return nil
	}
	out := make([]ProtectionPolicy, 0, len(p.targetPolicies))
	for _, tp := range p.targetPolicies {
		out = append(out, tp.Protection)
	}
	return out
}

// IsMandatory reports whether the policy must be satisfied.
func (p *MessagePolicy) IsMandatory() bool {
	return p != nil && p.mandatory
}
