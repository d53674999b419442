// Package policy builds the message protection policies handed to auth modules.
//
// BuildPolicy translates the symbolic auth-source and auth-recipient tokens used
// in provider configuration into an ordered domain.MessagePolicy. The HttpServlet
// profile helpers (ProfilePolicies, ProfilePolicy) expose the two fixed
// mandatory/optional policies, and the Delegate implementations decide which
// policies a given auth context receives. HandlerResolver resolves the
// process-wide default callback handler once and hands it to every consumer.
package policy
