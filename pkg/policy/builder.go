package policy

import (
	"strings"

	"github.com/polisai/authchain/pkg/domain"
)

// Auth source and recipient tokens.
const (
	SourceSender           = "sender"
	SourceContent          = "content"
	RecipientBeforeContent = "before-content"
	RecipientAfterContent  = "after-content"
)

// Fixed policies of the HttpServlet profile, computed once.
var (
	Mandatory = BuildPolicy(SourceSender, nil, true)
	Optional  = BuildPolicy(SourceSender, nil, false)
)

// BuildDerivedPolicy builds a policy whose mandatory flag is derived from its
// inputs: any sender/content source or any recipient requirement makes it
// mandatory.
func BuildDerivedPolicy(authSource string, authRecipient *string) *domain.MessagePolicy {
	mandatory := authSource == SourceSender || authSource == SourceContent || authRecipient != nil
	return BuildPolicy(authSource, authRecipient, mandatory)
}

// BuildPolicy translates an auth source token ("sender", "content", anything
// else meaning none) and an optional auth recipient token into a message
// policy. A recipient of "before-content" puts recipient authentication ahead
// of sender/content authentication; any other non-nil recipient puts it after.
func BuildPolicy(authSource string, authRecipient *string, mandatory bool) *domain.MessagePolicy {
	sourceProtection, hasSource := sourceProtection(authSource)
	recipientAuth := authRecipient != nil
	beforeContent := recipientAuth && *authRecipient == RecipientBeforeContent

	targets := make([]domain.TargetPolicy, 0, 2)
	if beforeContent {
		targets = append(targets, domain.TargetPolicy{Protection: domain.AuthenticateRecipient})
		if hasSource {
			targets = append(targets, domain.TargetPolicy{Protection: sourceProtection})
		}
	} else {
		if hasSource {
			targets = append(targets, domain.TargetPolicy{Protection: sourceProtection})
		}
		if recipientAuth {
			targets = append(targets, domain.TargetPolicy{Protection: domain.AuthenticateRecipient})
		}
	}

	return domain.NewMessagePolicy(targets, mandatory)
}

func sourceProtection(authSource string) (domain.ProtectionPolicy, bool) {
	switch authSource {
	case SourceSender:
		return domain.AuthenticateSender, true
	case SourceContent:
		return domain.AuthenticateContent, true
	default:
		return "", false
	}
}

// ProfilePolicies returns the request/response policy pair of the HttpServlet
// profile. The second element is always nil; the pair shape is kept for
// callers that expect it.
func ProfilePolicies(flagToken string) [2]*domain.MessagePolicy {
	return [2]*domain.MessagePolicy{ProfilePolicy(flagToken), nil}
}

// ProfilePolicy returns Mandatory when flagToken is a case-insensitive "true"
// and Optional for anything else.
func ProfilePolicy(flagToken string) *domain.MessagePolicy {
	if ParseFlag(flagToken) {
		return Mandatory
	}
	return Optional
}

// ParseFlag parses a boolean token: only a case-insensitive "true" is true.
func ParseFlag(token string) bool {
	return strings.EqualFold(token, "true")
}

// Spec is the symbolic form of a message policy as it appears in
// configuration. A nil Mandatory derives the flag from the tokens.
type Spec struct {
	AuthSource    string  `yaml:"authSource" json:"authSource"`
	AuthRecipient *string `yaml:"authRecipient" json:"authRecipient"`
	Mandatory     *bool   `yaml:"mandatory" json:"mandatory"`
}

// Build converts the spec into a message policy. A nil spec yields nil.
func (s *Spec) Build() *domain.MessagePolicy {
	if s == nil {
		return nil
	}
	if s.Mandatory != nil {
		return BuildPolicy(s.AuthSource, s.AuthRecipient, *s.Mandatory)
	}
	return BuildDerivedPolicy(s.AuthSource, s.AuthRecipient)
}

// Recipient returns a pointer to token, for building specs and policies inline.
func Recipient(token string) *string {
	return &token
}
