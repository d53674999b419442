// Package authcontext drives resolved module chains.
//
// A ClientConfig or ServerConfig serves one message layer and app context. It
// hands out ClientContext and ServerContext values built eagerly: every
// present module is checked against the layer's message types and initialized
// once, with its configured options laid over the caller's properties, before
// the context is returned. Contexts are cached per auth context id and
// identity and rebuilt when the registry epoch advances.
//
// Chain operations invoke the present modules in configuration order, stop at
// the first status outside the operation's success set, and reduce the
// recorded statuses to one result. Module errors abort the chain and are
// returned to the caller as-is.
package authcontext
